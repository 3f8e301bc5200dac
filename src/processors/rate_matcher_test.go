package processors

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptotaxpl/src/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rateTable builds a EUR table for [from, to] where each day's rate encodes the day
// of month (4.0001 on the 1st, 4.0002 on the 2nd ...), leaving out the given gaps.
func rateTable(t *testing.T, from, to time.Time, gaps ...time.Time) models.RatesByCurrency {
	t.Helper()
	skip := make(map[time.Time]bool)
	for _, g := range gaps {
		skip[g] = true
	}
	table := models.NewRateTable("EUR")
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if skip[d] {
			continue
		}
		rate := decimal.NewFromInt(4).Add(decimal.New(int64(d.Day()), -4))
		require.NoError(t, table.Add(models.ExchangeRate{RateDate: d, Rate: rate, Currency: "EUR"}))
	}
	return models.RatesByCurrency{"EUR": table}
}

func eurTrade(id string, ts time.Time) models.Trade {
	return models.Trade{
		Platform: "Kraken", TradeID: id, TradingPair: "XBTEUR", BaseCurrency: "BTC", QuoteCurrency: "EUR",
		TotalCost: decimal.NewFromInt(1000), Fee: decimal.NewFromInt(10), Timestamp: ts, Type: models.TradeTypeBuy,
	}
}

func TestNewRateMatcherRejectsPositiveSettlementDay(t *testing.T) {
	_, err := NewRateMatcher(1, DefaultMaxLookbackDays, nil)
	assert.ErrorIs(t, err, ErrInvalidSettlementDay)

	_, err = NewRateMatcher(-1, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidLookback)

	m, err := NewRateMatcher(0, DefaultMaxLookbackDays, nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, m.Location())
}

func TestRateMatcherMatch(t *testing.T) {
	gap := day(2024, 3, 10)
	rates := rateTable(t, day(2024, 3, 1), day(2024, 3, 20), gap)

	tests := []struct {
		name          string
		settlementDay int
		tradeDate     time.Time
		wantRateDate  time.Time
	}{
		{"same day with offset 0", 0, day(2024, 3, 15), day(2024, 3, 15)},
		{"offset -1 counts the trade date itself", -1, day(2024, 3, 15), day(2024, 3, 15)},
		{"offset -2 takes previous day", -2, day(2024, 3, 15), day(2024, 3, 14)},
		{"offset -3 takes two days back", -3, day(2024, 3, 15), day(2024, 3, 13)},
		{"trade on gap day resolves to day before gap", -1, gap, day(2024, 3, 9)},
		{"trade on gap day with offset 0", 0, gap, day(2024, 3, 9)},
		{"trade after gap with offset -1", -1, day(2024, 3, 11), day(2024, 3, 11)},
		{"trade after gap with offset -2 skips the gap", -2, day(2024, 3, 11), day(2024, 3, 9)},
		{"gap pushes target further back", -3, day(2024, 3, 11), day(2024, 3, 8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewRateMatcher(tt.settlementDay, DefaultMaxLookbackDays, time.UTC)
			require.NoError(t, err)

			got, err := m.Match(eurTrade("1", tt.tradeDate.Add(14*time.Hour)), rates)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRateDate, got.RateDate)

			_, present := rates["EUR"].Lookup(got.RateDate)
			assert.True(t, present, "matched date must exist in the table")
		})
	}
}

func TestRateMatcherWeekendRun(t *testing.T) {
	// Friday 5 Jan 2024 has a rate, Sat and Sun do not.
	rates := rateTable(t, day(2024, 1, 1), day(2024, 1, 10), day(2024, 1, 6), day(2024, 1, 7))
	m, err := NewRateMatcher(-1, DefaultMaxLookbackDays, time.UTC)
	require.NoError(t, err)

	got, err := m.Match(eurTrade("sun", day(2024, 1, 7).Add(10*time.Hour)), rates)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 5), got.RateDate)

	m2, err := NewRateMatcher(-2, DefaultMaxLookbackDays, time.UTC)
	require.NoError(t, err)
	got, err = m2.Match(eurTrade("mon", day(2024, 1, 8).Add(10*time.Hour)), rates)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 5), got.RateDate)
}

func TestRateMatcherUsesTaxTimezone(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	rates := rateTable(t, day(2024, 5, 1), day(2024, 5, 31))

	// 22:30 UTC on 14 May is 00:30 on 15 May in Warsaw.
	ts := time.Date(2024, 5, 14, 22, 30, 0, 0, time.UTC)

	utc, err := NewRateMatcher(0, DefaultMaxLookbackDays, time.UTC)
	require.NoError(t, err)
	local, err := NewRateMatcher(0, DefaultMaxLookbackDays, warsaw)
	require.NoError(t, err)

	got, err := utc.Match(eurTrade("1", ts), rates)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 5, 14), got.RateDate)

	got, err = local.Match(eurTrade("1", ts), rates)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 5, 15), got.RateDate)
}

func TestRateMatcherFailures(t *testing.T) {
	m, err := NewRateMatcher(-1, 5, time.UTC)
	require.NoError(t, err)

	t.Run("reporting currency", func(t *testing.T) {
		trade := eurTrade("pln", day(2024, 1, 3))
		trade.QuoteCurrency = "pln"
		_, err := m.Match(trade, models.RatesByCurrency{})
		assert.ErrorIs(t, err, ErrReportingCurrency)
	})

	t.Run("no table for currency", func(t *testing.T) {
		trade := eurTrade("usd", day(2024, 1, 3))
		trade.QuoteCurrency = "USD"
		_, err := m.Match(trade, rateTable(t, day(2024, 1, 1), day(2024, 1, 5)))
		assert.ErrorIs(t, err, ErrNoRateTable)
	})

	t.Run("lookback exhausted", func(t *testing.T) {
		rates := rateTable(t, day(2024, 1, 1), day(2024, 1, 2))
		_, err := m.Match(eurTrade("late", day(2024, 1, 20)), rates)
		assert.ErrorIs(t, err, ErrRateNotFound)
	})

	t.Run("empty table", func(t *testing.T) {
		rates := models.RatesByCurrency{"EUR": models.NewRateTable("EUR")}
		_, err := m.Match(eurTrade("empty", day(2024, 1, 20)), rates)
		assert.ErrorIs(t, err, ErrRateNotFound)
	})
}
