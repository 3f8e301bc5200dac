// src/services/nbp_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptotaxpl/src/models"
	"golang.org/x/time/rate"
)

const (
	DefaultNBPBaseURL = "https://api.nbp.pl"

	// NBP rejects table A range queries longer than this.
	MaxWindowDays = 367
	// Extra days fetched before the earliest trade so backward matching finds a rate.
	LookbackMarginDays = 7
)

// NBP table A response.
type nbpRatesResponse struct {
	Table    string `json:"table"`
	Currency string `json:"currency"`
	Code     string `json:"code"`
	Rates    []struct {
		No            string          `json:"no"`
		EffectiveDate string          `json:"effectiveDate"`
		Mid           decimal.Decimal `json:"mid"`
	} `json:"rates"`
}

// NBPConfig configures NBPClient. Zero values get defaults.
type NBPConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	CacheTTL          time.Duration
	Location          *time.Location // calendar used for trade dates
	Store             RateStore      // optional persistent cache
	HTTPClient        *http.Client
}

// NBPClient fetches table A mid rates from the National Bank of Poland API.
type NBPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Cache
	store      RateStore
	location   *time.Location
	logger     *slog.Logger
	now        func() time.Time
}

func NewNBPClient(cfg NBPConfig, logger *slog.Logger) *NBPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNBPBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &NBPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cache:      cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		store:      cfg.Store,
		location:   cfg.Location,
		logger:     logger.With("component", "nbp"),
		now:        time.Now,
	}
}

// GetExchangeRates returns the rates of currency published between start and end inclusive,
// splitting the range into windows NBP accepts.
func (c *NBPClient) GetExchangeRates(ctx context.Context, currency string, start, end time.Time) (*models.RateTable, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	start = models.CivilDate(start, nil)
	end = models.CivilDate(end, nil)
	table := models.NewRateTable(currency)
	if end.Before(start) {
		return table, nil
	}

	for chunkStart := start; !chunkStart.After(end); {
		chunkEnd := chunkStart.AddDate(0, 0, MaxWindowDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunk, err := c.window(ctx, currency, chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}
		if err := table.Merge(chunk); err != nil {
			return nil, err
		}
		chunkStart = chunkEnd.AddDate(0, 0, 1)
	}
	return table, nil
}

// RatesForTrades fetches, per foreign quote currency, every rate from a week before the
// earliest trade to the latest trade. Currencies that fail are logged and left out, so
// their trades show up as match failures.
func (c *NBPClient) RatesForTrades(ctx context.Context, trades []models.Trade) (models.RatesByCurrency, error) {
	type dateRange struct{ min, max time.Time }
	ranges := make(map[string]*dateRange)
	for _, t := range trades {
		ccy := strings.ToUpper(t.QuoteCurrency)
		if ccy == models.ReportingCurrency || ccy == "" {
			continue
		}
		day := models.CivilDate(t.Timestamp, c.location)
		r, ok := ranges[ccy]
		if !ok {
			ranges[ccy] = &dateRange{min: day, max: day}
			continue
		}
		if day.Before(r.min) {
			r.min = day
		}
		if day.After(r.max) {
			r.max = day
		}
	}

	currencies := make([]string, 0, len(ranges))
	for ccy := range ranges {
		currencies = append(currencies, ccy)
	}
	sort.Strings(currencies)

	result := make(models.RatesByCurrency, len(currencies))
	for _, ccy := range currencies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := ranges[ccy]
		start := r.min.AddDate(0, 0, -LookbackMarginDays)
		c.logger.Info("Getting exchange rates", "currency", ccy, "start", start.Format(models.DateLayout), "end", r.max.Format(models.DateLayout))

		table, err := c.GetExchangeRates(ctx, ccy, start, r.max)
		if err != nil {
			c.logger.Error("Failed to get exchange rates", "currency", ccy, "error", err)
			continue
		}
		if table.Len() == 0 {
			c.logger.Error("No exchange rates published for currency in range", "currency", ccy)
			continue
		}
		result[ccy] = table
	}
	return result, nil
}

func (c *NBPClient) window(ctx context.Context, currency string, start, end time.Time) (*models.RateTable, error) {
	key := fmt.Sprintf("%s|%s|%s", currency, start.Format(models.DateLayout), end.Format(models.DateLayout))
	if cached, found := c.cache.Get(key); found {
		return cached.(*models.RateTable), nil
	}

	// Only windows that are fully in the past are final and safe to persist.
	closed := end.Before(models.CivilDate(c.now(), c.location))
	if closed && c.store != nil {
		if table, ok := c.loadStored(ctx, currency, start, end); ok {
			c.cache.Set(key, table, cache.DefaultExpiration)
			return table, nil
		}
	}

	table, err := c.fetch(ctx, currency, start, end)
	if err != nil {
		return nil, err
	}

	if closed && c.store != nil {
		if err := c.store.SaveRates(ctx, table); err != nil {
			c.logger.Warn("Failed to persist exchange rates", "currency", currency, "error", err)
		} else if err := c.store.MarkWindowFetched(ctx, currency, start, end); err != nil {
			c.logger.Warn("Failed to record fetched window", "currency", currency, "error", err)
		}
	}
	c.cache.Set(key, table, cache.DefaultExpiration)
	return table, nil
}

func (c *NBPClient) loadStored(ctx context.Context, currency string, start, end time.Time) (*models.RateTable, bool) {
	fetched, err := c.store.WindowFetched(ctx, currency, start, end)
	if err != nil {
		c.logger.Warn("Rate store lookup failed, falling back to NBP", "currency", currency, "error", err)
		return nil, false
	}
	if !fetched {
		return nil, false
	}
	table, err := c.store.LoadRates(ctx, currency, start, end)
	if err != nil {
		c.logger.Warn("Loading stored rates failed, falling back to NBP", "currency", currency, "error", err)
		return nil, false
	}
	c.logger.Debug("Exchange rates served from store", "currency", currency, "count", table.Len())
	return table, true
}

func (c *NBPClient) fetch(ctx context.Context, currency string, start, end time.Time) (*models.RateTable, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/exchangerates/rates/A/%s/%s/%s/?format=json",
		c.baseURL, strings.ToLower(currency), start.Format(models.DateLayout), end.Format(models.DateLayout))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching NBP rates", "currency", currency, "url", url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s: %v", ErrRateProvider, currency, err)
	}
	defer resp.Body.Close()

	table := models.NewRateTable(currency)
	// 404 "Brak danych" means no table was published in the window (holidays, very short ranges).
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return table, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrRateProvider, currency, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data nbpRatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: invalid response for %s: %v", ErrRateProvider, currency, err)
	}
	for _, r := range data.Rates {
		day, err := models.ParseDate(r.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid effectiveDate %q for %s", ErrRateProvider, r.EffectiveDate, currency)
		}
		if !r.Mid.IsPositive() {
			return nil, fmt.Errorf("%w: non-positive rate %s for %s on %s", ErrRateProvider, r.Mid, currency, r.EffectiveDate)
		}
		if err := table.Add(models.ExchangeRate{
			RateDate:          day,
			Rate:              r.Mid,
			Currency:          currency,
			ReportingCurrency: models.ReportingCurrency,
			TableNo:           r.No,
		}); err != nil {
			return nil, err
		}
	}
	return table, nil
}
