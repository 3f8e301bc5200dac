package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/username/cryptotaxpl/src/models"
)

var (
	ErrParsingFailed    = errors.New("failed to parse trade file")
	ErrProcessingFailed = errors.New("failed to process trades")
	ErrRateProvider     = errors.New("exchange rate provider failed")
)

// RateProvider supplies official exchange rates.
type RateProvider interface {
	GetExchangeRates(ctx context.Context, currency string, start, end time.Time) (*models.RateTable, error)
	RatesForTrades(ctx context.Context, trades []models.Trade) (models.RatesByCurrency, error)
}

// RateStore keeps fetched rates between runs.
type RateStore interface {
	SaveRates(ctx context.Context, table *models.RateTable) error
	LoadRates(ctx context.Context, currency string, start, end time.Time) (*models.RateTable, error)
	MarkWindowFetched(ctx context.Context, currency string, start, end time.Time) error
	WindowFetched(ctx context.Context, currency string, start, end time.Time) (bool, error)
}

// TaxService runs the full pipeline: rates, matching, conversion and PIT-38 aggregation.
type TaxService interface {
	Calculate(ctx context.Context, trades []models.Trade, opts TaxOptions) (*TaxReport, error)
	ProcessUpload(ctx context.Context, file io.Reader, source string, opts TaxOptions) (*TaxReport, error)
}
