package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

var ErrConflictingRate = errors.New("conflicting exchange rate for date")

// ExchangeRate is one official mid rate: 1 unit of Currency buys Rate units of ReportingCurrency.
type ExchangeRate struct {
	RateDate          time.Time       `json:"rate_date"` // effective date, midnight UTC
	Rate              decimal.Decimal `json:"rate"`
	Currency          string          `json:"currency"`
	ReportingCurrency string          `json:"reporting_currency"`
	TableNo           string          `json:"table_no,omitempty"`
}

// CivilDate drops the clock part of t as seen in loc and returns that calendar day at midnight UTC.
// A nil loc means t's own location.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// RateTable holds the rates of one currency keyed by calendar date.
// At most one entry exists per date.
type RateTable struct {
	Currency          string
	ReportingCurrency string
	rates             map[string]ExchangeRate
}

func NewRateTable(currency string) *RateTable {
	return &RateTable{
		Currency:          strings.ToUpper(currency),
		ReportingCurrency: ReportingCurrency,
		rates:             make(map[string]ExchangeRate),
	}
}

// Add inserts an entry. Re-adding an identical rate for a date is a no-op,
// a different rate for an already known date is an error.
func (t *RateTable) Add(r ExchangeRate) error {
	if !strings.EqualFold(r.Currency, t.Currency) {
		return fmt.Errorf("rate for %s added to %s table", r.Currency, t.Currency)
	}
	key := r.RateDate.Format(DateLayout)
	if existing, ok := t.rates[key]; ok {
		if existing.Rate.Equal(r.Rate) {
			return nil
		}
		return fmt.Errorf("%w %s %s: %s vs %s", ErrConflictingRate, t.Currency, key, existing.Rate, r.Rate)
	}
	r.RateDate = CivilDate(r.RateDate, nil)
	if r.ReportingCurrency == "" {
		r.ReportingCurrency = t.ReportingCurrency
	}
	t.rates[key] = r
	return nil
}

// Merge adds every entry of other into t.
func (t *RateTable) Merge(other *RateTable) error {
	if other == nil {
		return nil
	}
	for _, r := range other.rates {
		if err := t.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the entry effective on the calendar date of day.
func (t *RateTable) Lookup(day time.Time) (ExchangeRate, bool) {
	if t == nil {
		return ExchangeRate{}, false
	}
	r, ok := t.rates[day.Format(DateLayout)]
	return r, ok
}

func (t *RateTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rates)
}

// Rates returns all entries ordered by date.
func (t *RateTable) Rates() []ExchangeRate {
	out := make([]ExchangeRate, 0, len(t.rates))
	for _, r := range t.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RateDate.Before(out[j].RateDate) })
	return out
}

// RatesByCurrency maps an upper-case currency code to its table.
type RatesByCurrency map[string]*RateTable

func (r RatesByCurrency) Table(currency string) (*RateTable, bool) {
	t, ok := r[strings.ToUpper(currency)]
	return t, ok && t != nil
}
