// src/processors/rate_matcher.go
package processors

import (
	"fmt"
	"strings"
	"time"

	"github.com/username/cryptotaxpl/src/models"
)

const DefaultMaxLookbackDays = 60

// RateMatcher picks the official rate that applies to a trade's calendar date.
type RateMatcher struct {
	settlementDay   int
	maxLookbackDays int
	location        *time.Location
}

// NewRateMatcher validates the settlement policy up front. settlementDay counts
// days relative to the trade date and must be <= 0. loc is the timezone that
// defines a trade's calendar date; nil means UTC.
func NewRateMatcher(settlementDay, maxLookbackDays int, loc *time.Location) (*RateMatcher, error) {
	if settlementDay > 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSettlementDay, settlementDay)
	}
	if maxLookbackDays <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLookback, maxLookbackDays)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RateMatcher{
		settlementDay:   settlementDay,
		maxLookbackDays: maxLookbackDays,
		location:        loc,
	}, nil
}

func (m *RateMatcher) SettlementDay() int { return m.settlementDay }

func (m *RateMatcher) Location() *time.Location { return m.location }

// Match scans backwards from the trade date. Every scanned day counts as a hit,
// and every day without a published rate also pushes the number of required
// hits one further. The scan only stops on a day that has a rate, so the
// returned entry always exists in the table.
func (m *RateMatcher) Match(trade models.Trade, rates models.RatesByCurrency) (models.ExchangeRate, error) {
	currency := strings.ToUpper(trade.QuoteCurrency)
	if currency == models.ReportingCurrency {
		return models.ExchangeRate{}, ErrReportingCurrency
	}

	table, ok := rates.Table(currency)
	if !ok {
		return models.ExchangeRate{}, fmt.Errorf("%w %s", ErrNoRateTable, currency)
	}

	txDate := models.CivilDate(trade.Timestamp, m.location)
	required := -m.settlementDay
	hits := 0
	for back := 0; back < m.maxLookbackDays; back++ {
		candidate := txDate.AddDate(0, 0, -back)
		hits++
		rate, found := table.Lookup(candidate)
		if !found {
			required++
			continue
		}
		if hits >= required {
			return rate, nil
		}
	}

	return models.ExchangeRate{}, fmt.Errorf("%w: %s on %s, searched %d days back",
		ErrRateNotFound, currency, txDate.Format(models.DateLayout), m.maxLookbackDays)
}
