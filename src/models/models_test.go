package models

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseTradeType(t *testing.T) {
	tests := []struct {
		in      string
		want    TradeType
		wantErr bool
	}{
		{"buy", TradeTypeBuy, false},
		{"SELL", TradeTypeSell, false},
		{" Sell ", TradeTypeSell, false},
		{"bUy", TradeTypeBuy, false},
		{"transfer", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTradeType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTradeType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTradeValidate(t *testing.T) {
	valid := Trade{
		Platform: "Kraken", TradeID: "T1", TradingPair: "XBTEUR", QuoteCurrency: "EUR",
		TotalCost: dec("100"), Fee: dec("0.26"), Timestamp: time.Now(), Type: TradeTypeBuy,
	}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Type = "HODL"
	bad.Fee = dec("-1")
	err := bad.Validate()
	require.ErrorIs(t, err, ErrInvalidTrade)
	assert.Contains(t, err.Error(), "unknown type")
	assert.Contains(t, err.Error(), "negative fee")
}

func TestRateTableAddAndLookup(t *testing.T) {
	table := NewRateTable("eur")
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	require.NoError(t, table.Add(ExchangeRate{RateDate: day, Rate: dec("4.3211"), Currency: "EUR"}))
	require.NoError(t, table.Add(ExchangeRate{RateDate: day, Rate: dec("4.32110"), Currency: "EUR"}), "identical duplicate is a no-op")
	assert.ErrorIs(t, table.Add(ExchangeRate{RateDate: day, Rate: dec("4.40"), Currency: "EUR"}), ErrConflictingRate)
	assert.Error(t, table.Add(ExchangeRate{RateDate: day, Rate: dec("4.0"), Currency: "USD"}))

	got, ok := table.Lookup(day)
	require.True(t, ok)
	assert.True(t, got.Rate.Equal(dec("4.3211")))
	assert.Equal(t, ReportingCurrency, got.ReportingCurrency)
	assert.Equal(t, 1, table.Len())

	_, ok = table.Lookup(day.AddDate(0, 0, 1))
	assert.False(t, ok)
}

func TestRateTableRatesSorted(t *testing.T) {
	table := NewRateTable("USD")
	for _, d := range []int{5, 1, 3} {
		require.NoError(t, table.Add(ExchangeRate{RateDate: time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC), Rate: dec("4"), Currency: "USD"}))
	}
	rates := table.Rates()
	require.Len(t, rates, 3)
	assert.Equal(t, 1, rates[0].RateDate.Day())
	assert.Equal(t, 5, rates[2].RateDate.Day())
}

func TestCivilDate(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	// 23:30 UTC on 31 Dec is already 1 Jan in Warsaw.
	ts := time.Date(2023, 12, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), CivilDate(ts, warsaw))
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), CivilDate(ts, nil))
}

func TestNewTaxTransaction(t *testing.T) {
	rate := ExchangeRate{RateDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Rate: dec("4.30"), Currency: "EUR"}
	base := Trade{TradeID: "1", QuoteCurrency: "EUR", TotalCost: dec("1000"), Fee: dec("10")}

	buy := base
	buy.Type = TradeTypeBuy
	tx, err := NewTaxTransaction(buy, rate)
	require.NoError(t, err)
	assert.Equal(t, "4343.00", tx.ConvertedCost().StringFixed(2))

	sell := base
	sell.Type = TradeTypeSell
	tx, err = NewTaxTransaction(sell, rate)
	require.NoError(t, err)
	assert.Equal(t, "4257.00", tx.ConvertedCost().StringFixed(2))

	usd := base
	usd.Type = TradeTypeBuy
	usd.QuoteCurrency = "USD"
	_, err = NewTaxTransaction(usd, rate)
	assert.Error(t, err)

	bogus := base
	bogus.Type = "swap"
	_, err = NewTaxTransaction(bogus, rate)
	assert.ErrorIs(t, err, ErrInvalidTradeType)
}

func TestNewPit38Result(t *testing.T) {
	tests := []struct {
		name                string
		income, costs, prev string
		base, loss, tax     string
	}{
		{"gain", "21.52", "0", "0", "21.52", "0.00", "4.09"},
		{"loss", "100.00", "150.00", "0", "0.00", "50.00", "0.00"},
		{"zero net", "100.00", "60.00", "40.00", "0.00", "0.00", "0.00"},
		{"carry forward reduces gain", "1000", "200", "300", "500.00", "0.00", "95.00"},
		{"inputs rounded first", "10.005", "0.004", "0", "10.01", "0.00", "1.90"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewPit38Result(2024, dec(tt.income), dec(tt.costs), dec(tt.prev))
			assert.Equal(t, tt.base, FormatMoney(r.Field37))
			assert.Equal(t, tt.loss, FormatMoney(r.Field38))
			assert.Equal(t, tt.tax, FormatMoney(r.Field39))
			assert.True(t, r.Field37.IsZero() || r.Field38.IsZero())
		})
	}
}

func TestPit38ResultJSONRoundTrip(t *testing.T) {
	r := NewPit38Result(2024, dec("12345.675"), dec("100"), dec("0"))

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"field34_income":"12345.68"`)
	assert.Contains(t, string(data), `"field38_loss":"0.00"`)

	var back Pit38Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.Year, back.Year)
	for _, f := range Pit38Fields {
		assert.True(t, f.Value(r).Equal(f.Value(back)), f.Name)
		assert.Equal(t, FormatMoney(f.Value(r)), FormatMoney(f.Value(back)), f.Name)
	}
}

func TestProcessingReportSummary(t *testing.T) {
	r := ProcessingReport{
		TotalTrades:         5,
		Matched:             3,
		SkippedMissingRates: []SkippedTrade{{TradeID: "a", Currency: "CHF"}},
	}
	assert.Equal(t, "3 trades processed, 1 skipped due to missing rates", r.Summary())
	assert.False(t, r.Complete())

	r.SkippedReportingCurrency = 1
	r.Rejected = []RejectedRecord{{Line: 4, Reason: "bad price"}}
	assert.Equal(t, "3 trades processed, 1 skipped due to missing rates, 1 already in PLN, 1 input records rejected", r.Summary())
}
