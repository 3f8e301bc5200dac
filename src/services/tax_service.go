// src/services/tax_service.go
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptotaxpl/src/logger"
	"github.com/username/cryptotaxpl/src/models"
	"github.com/username/cryptotaxpl/src/parsers"
	"github.com/username/cryptotaxpl/src/processors"
)

const (
	ckUploadReport = "report_%s_%s_%d_%d_%s"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

// TaxOptions are the per-run knobs. Zero SettlementDay means same-day matching, so
// callers must set it explicitly.
type TaxOptions struct {
	Year              int
	SettlementDay     int
	PreviousYearCosts decimal.Decimal
}

// TaxReport is the outcome of one PIT-38 run.
type TaxReport struct {
	RunID        string                  `json:"run_id"`
	Pit38        models.Pit38Result      `json:"pit38"`
	Transactions []models.TaxTransaction `json:"transactions"`
	Report       models.ProcessingReport `json:"report"`
	Summary      string                  `json:"summary"`
}

// clone copies the report and its slices so the cached copy never shares state with a caller.
func (r *TaxReport) clone() *TaxReport {
	c := *r
	c.Transactions = append([]models.TaxTransaction(nil), r.Transactions...)
	c.Report.SkippedMissingRates = append([]models.SkippedTrade(nil), r.Report.SkippedMissingRates...)
	c.Report.Rejected = append([]models.RejectedRecord(nil), r.Report.Rejected...)
	return &c
}

type taxServiceImpl struct {
	rates           RateProvider
	location        *time.Location
	maxLookbackDays int
	reportCache     *cache.Cache
	logger          *slog.Logger
}

// NewTaxService wires the rate provider into the matching and aggregation pipeline.
// reportCache may be nil to disable caching of upload results.
func NewTaxService(rates RateProvider, loc *time.Location, maxLookbackDays int, reportCache *cache.Cache, logger *slog.Logger) TaxService {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &taxServiceImpl{
		rates:           rates,
		location:        loc,
		maxLookbackDays: maxLookbackDays,
		reportCache:     reportCache,
		logger:          logger,
	}
}

// Validate reports option errors that must stop a run before any trade is loaded.
func (o TaxOptions) Validate(maxLookbackDays int) error {
	if _, err := processors.NewRateMatcher(o.SettlementDay, maxLookbackDays, nil); err != nil {
		return err
	}
	if o.PreviousYearCosts.IsNegative() {
		return fmt.Errorf("%w: %s", processors.ErrNegativeCarryForward, o.PreviousYearCosts)
	}
	if o.Year < 1 || o.Year > 9999 {
		return fmt.Errorf("%w: %d", processors.ErrInvalidTaxYear, o.Year)
	}
	return nil
}

// Calculate validates opts before touching any trade, then fetches rates, matches, converts
// and aggregates.
func (s *taxServiceImpl) Calculate(ctx context.Context, trades []models.Trade, opts TaxOptions) (*TaxReport, error) {
	runID := uuid.NewString()
	log := logger.FromContext(ctx, s.logger).With("runID", runID)
	start := time.Now()

	if err := opts.Validate(s.maxLookbackDays); err != nil {
		return nil, err
	}
	matcher, err := processors.NewRateMatcher(opts.SettlementDay, s.maxLookbackDays, s.location)
	if err != nil {
		return nil, err
	}
	aggregator := processors.NewPit38Processor(s.location)

	log.Info("PIT-38 calculation START", "trades", len(trades), "year", opts.Year, "settlementDay", opts.SettlementDay)

	rates, err := s.rates.RatesForTrades(ctx, trades)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}

	txs, report := processors.NewTaxTransactionProcessor(matcher, log).Process(trades, rates)

	result, err := aggregator.Calculate(txs, opts.Year, opts.PreviousYearCosts)
	if err != nil {
		return nil, err
	}

	summary := report.Summary()
	log.Info("PIT-38 calculation END", "summary", summary, "taxDue", models.FormatMoney(result.Field39), "duration", time.Since(start))
	return &TaxReport{
		RunID:        runID,
		Pit38:        result,
		Transactions: txs,
		Report:       report,
		Summary:      summary,
	}, nil
}

// ProcessUpload parses an exchange export and runs Calculate on it. Ingestion rejections
// are carried into the report. Results are cached by file content and options.
func (s *taxServiceImpl) ProcessUpload(ctx context.Context, file io.Reader, source string, opts TaxOptions) (*TaxReport, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload: %v", ErrParsingFailed, err)
	}
	sum := sha256.Sum256(content)
	cacheKey := fmt.Sprintf(ckUploadReport, hex.EncodeToString(sum[:]), source, opts.Year, opts.SettlementDay, opts.PreviousYearCosts.String())
	if s.reportCache != nil {
		if cached, found := s.reportCache.Get(cacheKey); found {
			report := cached.(*TaxReport).clone()
			report.RunID = uuid.NewString()
			s.logger.Debug("Cache hit for upload report", "source", source, "runID", report.RunID)
			return report, nil
		}
	}

	parser, err := parsers.GetParser(source, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParsingFailed, err)
	}
	trades, rejected, err := parser.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParsingFailed, err)
	}
	for _, r := range rejected {
		s.logger.Warn("Rejected input record", "source", source, "line", r.Line, "tradeID", r.TradeID, "reason", r.Reason)
	}

	result, err := s.Calculate(ctx, trades, opts)
	if err != nil {
		return nil, err
	}
	result.Report.Rejected = append(rejected, result.Report.Rejected...)
	result.Summary = result.Report.Summary()

	if s.reportCache != nil {
		s.reportCache.Set(cacheKey, result.clone(), cache.DefaultExpiration)
	}
	return result, nil
}

// IsInputError reports whether err was caused by the caller's options or data rather than
// by the rate provider or the server.
func IsInputError(err error) bool {
	return errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, processors.ErrInvalidSettlementDay) ||
		errors.Is(err, processors.ErrInvalidLookback) ||
		errors.Is(err, processors.ErrNegativeCarryForward) ||
		errors.Is(err, processors.ErrInvalidTaxYear)
}
