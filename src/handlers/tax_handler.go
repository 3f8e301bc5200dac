package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/username/cryptotaxpl/src/export"
	"github.com/username/cryptotaxpl/src/logger"
	"github.com/username/cryptotaxpl/src/parsers"
	"github.com/username/cryptotaxpl/src/security/validation"
	"github.com/username/cryptotaxpl/src/services"
	"github.com/username/cryptotaxpl/src/utils"
)

const defaultSource = "cryptohub"

type TaxHandler struct {
	taxService    services.TaxService
	defaults      services.TaxOptions
	maxUploadSize int64
	location      *time.Location
	logger        *slog.Logger
}

// NewTaxHandler serves PIT-38 calculations for uploaded trade files. Form fields that are
// left out fall back to defaults.
func NewTaxHandler(service services.TaxService, defaults services.TaxOptions, maxUploadSize int64, loc *time.Location, logger *slog.Logger) *TaxHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TaxHandler{
		taxService:    service,
		defaults:      defaults,
		maxUploadSize: maxUploadSize,
		location:      loc,
		logger:        logger,
	}
}

// HandleCalculate answers with the JSON tax report.
func (h *TaxHandler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.logger)
	report, ok := h.process(w, r, log)
	if !ok {
		return
	}

	etag, err := utils.GenerateETag(report.Pit38)
	if err != nil {
		log.Error("Failed to generate ETag for PIT-38 report", "error", err)
	} else {
		w.Header().Set("ETag", `"`+etag+`"`)
	}
	w.Header().Set("Cache-Control", "no-cache, private")
	utils.SendJSON(w, log, http.StatusOK, report)
}

// HandleExport answers with the tax transactions as a CSV attachment.
func (h *TaxHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.logger)
	report, ok := h.process(w, r, log)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pit38_%d_transactions.csv"`, report.Pit38.Year))
	w.Header().Set("X-Run-ID", report.RunID)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteTaxTransactions(w, report.Transactions, h.location); err != nil {
		log.Error("Error writing tax transactions CSV", "runID", report.RunID, "error", err)
	}
}

// process runs the shared upload flow and writes the error response itself when it fails.
func (h *TaxHandler) process(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*services.TaxReport, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+1024*1024)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		log.Warn("Failed to parse multipart form or request too large", "error", err, "limit", h.maxUploadSize)
		utils.SendJSONError(w, log, fmt.Sprintf("Failed to parse form or request too large (max %d bytes)", h.maxUploadSize), http.StatusBadRequest)
		return nil, false
	}

	opts, source, err := h.options(r)
	if err != nil {
		utils.SendJSONError(w, log, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		log.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, log, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	if err := h.validateFile(file, fileHeader, log); err != nil {
		utils.SendJSONError(w, log, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	log.Info("Processing PIT-38 upload", "filename", fileHeader.Filename, "source", source, "year", opts.Year)
	report, err := h.taxService.ProcessUpload(r.Context(), file, source, opts)
	if err != nil {
		status, message := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error("Internal error processing upload", "filename", fileHeader.Filename, "error", err)
		}
		utils.SendJSONError(w, log, message, status)
		return nil, false
	}
	return report, true
}

func (h *TaxHandler) validateFile(file multipart.File, fileHeader *multipart.FileHeader, log *slog.Logger) error {
	if fileHeader.Size > h.maxUploadSize {
		log.Warn("Uploaded file too large", "fileSize", fileHeader.Size, "limit", h.maxUploadSize)
		return fmt.Errorf("file too large, max %d bytes", h.maxUploadSize)
	}
	if err := validation.ValidateClientContentType(fileHeader.Header.Get("Content-Type")); err != nil {
		log.Warn("Invalid client-declared file type", "contentType", fileHeader.Header.Get("Content-Type"), "error", err)
		return err
	}
	detected, err := validation.ValidateFileContentByMagicBytes(file)
	if err != nil {
		log.Warn("Server-side file content validation failed", "filename", fileHeader.Filename, "error", err)
		return err
	}
	log.Debug("File content validated by magic bytes", "filename", fileHeader.Filename, "detectedType", detected)
	return nil
}

func (h *TaxHandler) options(r *http.Request) (services.TaxOptions, string, error) {
	opts := h.defaults

	source := strings.ToLower(validation.SanitizeText(r.FormValue("source")))
	if source == "" {
		source = defaultSource
	}

	if v := strings.TrimSpace(r.FormValue("year")); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return opts, "", fmt.Errorf("year %q is not a number", v)
		}
		opts.Year = year
	}
	if v := strings.TrimSpace(r.FormValue("settlement_day")); v != "" {
		day, err := strconv.Atoi(v)
		if err != nil {
			return opts, "", fmt.Errorf("settlement_day %q is not a number", v)
		}
		opts.SettlementDay = day
	}
	if v := strings.TrimSpace(r.FormValue("previous_year_costs")); v != "" {
		carry, err := decimal.NewFromString(v)
		if err != nil {
			return opts, "", fmt.Errorf("previous_year_costs %q is not a decimal", v)
		}
		opts.PreviousYearCosts = carry
	}
	return opts, source, nil
}

// statusFor maps service errors to the HTTP status and the message shown to the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, parsers.ErrUnknownSource):
		return http.StatusBadRequest, fmt.Sprintf("Unknown source, expected one of: %s", strings.Join(parsers.Sources, ", "))
	case errors.Is(err, services.ErrParsingFailed):
		return http.StatusUnprocessableEntity, fmt.Sprintf("Error parsing CSV file: %v", err)
	case services.IsInputError(err), errors.Is(err, validation.ErrValidationFailed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrRateProvider), errors.Is(err, services.ErrProcessingFailed):
		return http.StatusBadGateway, "Exchange rates could not be retrieved, please try again later"
	default:
		return http.StatusInternalServerError, "An internal error occurred while processing the file. Please try again later."
	}
}
