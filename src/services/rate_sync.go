package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/username/cryptotaxpl/src/models"
)

// RateSyncScheduler refreshes recent rates of the configured currencies on a cron schedule,
// so closed windows are already in the store when a report needs them.
type RateSyncScheduler struct {
	cron       *cron.Cron
	rates      RateProvider
	currencies []string
	location   *time.Location
	baseCtx    context.Context
	logger     *slog.Logger
	now        func() time.Time
}

func NewRateSyncScheduler(baseCtx context.Context, rates RateProvider, currencies []string, loc *time.Location, logger *slog.Logger) *RateSyncScheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RateSyncScheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		rates:      rates,
		currencies: currencies,
		location:   loc,
		baseCtx:    baseCtx,
		logger:     logger.With("component", "rate-sync"),
		now:        time.Now,
	}
}

// Schedule registers the sync job under a standard five-field cron spec.
func (s *RateSyncScheduler) Schedule(spec string) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() { s.SyncOnce(s.baseCtx) })
}

// SyncOnce fetches the last full calendar year and the current year to yesterday for every
// currency. Failures are logged and the next currency is tried.
func (s *RateSyncScheduler) SyncOnce(ctx context.Context) int {
	today := models.CivilDate(s.now(), s.location)
	end := today.AddDate(0, 0, -1)
	start := time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)

	synced := 0
	for _, ccy := range s.currencies {
		if ctx.Err() != nil {
			break
		}
		if ccy == models.ReportingCurrency {
			continue
		}
		table, err := s.rates.GetExchangeRates(ctx, ccy, start, end)
		if err != nil {
			s.logger.Error("Rate sync failed", "currency", ccy, "error", err)
			continue
		}
		s.logger.Info("Rates synced", "currency", ccy, "count", table.Len())
		synced++
	}
	return synced
}

func (s *RateSyncScheduler) Start() {
	s.logger.Info("Rate sync scheduler started", "currencies", s.currencies)
	s.cron.Start()
}

func (s *RateSyncScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Rate sync scheduler stopped")
}
