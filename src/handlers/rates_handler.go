package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/username/cryptotaxpl/src/logger"
	"github.com/username/cryptotaxpl/src/models"
	"github.com/username/cryptotaxpl/src/security/validation"
	"github.com/username/cryptotaxpl/src/services"
	"github.com/username/cryptotaxpl/src/utils"
)

// maxRateRangeDays caps a single rates request at roughly five years.
const maxRateRangeDays = 5 * 366

type RateEntry struct {
	Date    string          `json:"date"`
	Rate    decimal.Decimal `json:"rate"`
	TableNo string          `json:"table_no,omitempty"`
}

type RatesResponse struct {
	Currency          string      `json:"currency"`
	ReportingCurrency string      `json:"reporting_currency"`
	Start             string      `json:"start"`
	End               string      `json:"end"`
	Rates             []RateEntry `json:"rates"`
}

type RatesHandler struct {
	rates    services.RateProvider
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func NewRatesHandler(rates services.RateProvider, loc *time.Location, logger *slog.Logger) *RatesHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &RatesHandler{rates: rates, location: loc, logger: logger, now: time.Now}
}

// HandleGetRates lists the official rates of one currency between start and end inclusive.
func (h *RatesHandler) HandleGetRates(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.logger)

	currency := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "currency")))
	if err := validation.ValidateCurrencyCode(currency, "currency"); err != nil {
		utils.SendJSONError(w, log, err.Error(), http.StatusBadRequest)
		return
	}
	if currency == models.ReportingCurrency {
		utils.SendJSONError(w, log, fmt.Sprintf("%s is the reporting currency", currency), http.StatusBadRequest)
		return
	}

	today := models.CivilDate(h.now(), h.location)
	start, end, err := utils.ParseDateRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"), today)
	if err != nil {
		utils.SendJSONError(w, log, err.Error(), http.StatusBadRequest)
		return
	}
	if end.Sub(start) > maxRateRangeDays*24*time.Hour {
		utils.SendJSONError(w, log, fmt.Sprintf("date range exceeds %d days", maxRateRangeDays), http.StatusBadRequest)
		return
	}

	table, err := h.rates.GetExchangeRates(r.Context(), currency, start, end)
	if err != nil {
		if errors.Is(err, services.ErrRateProvider) {
			log.Warn("Rate provider failed", "currency", currency, "error", err)
			utils.SendJSONError(w, log, "Exchange rates could not be retrieved, please try again later", http.StatusBadGateway)
			return
		}
		log.Error("Error retrieving exchange rates", "currency", currency, "error", err)
		utils.SendJSONError(w, log, "An internal error occurred while retrieving rates.", http.StatusInternalServerError)
		return
	}

	resp := RatesResponse{
		Currency:          currency,
		ReportingCurrency: table.ReportingCurrency,
		Start:             start.Format(models.DateLayout),
		End:               end.Format(models.DateLayout),
		Rates:             make([]RateEntry, 0, table.Len()),
	}
	for _, rate := range table.Rates() {
		resp.Rates = append(resp.Rates, RateEntry{
			Date:    rate.RateDate.Format(models.DateLayout),
			Rate:    rate.Rate,
			TableNo: rate.TableNo,
		})
	}

	w.Header().Set("Cache-Control", "no-cache, private")
	if etag, err := utils.GenerateETag(resp); err == nil {
		quoted := `"` + etag + `"`
		w.Header().Set("ETag", quoted)
		if r.Header.Get("If-None-Match") == quoted {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	utils.SendJSON(w, log, http.StatusOK, resp)
}
