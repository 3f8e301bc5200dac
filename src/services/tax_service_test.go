package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptotaxpl/src/models"
	"github.com/username/cryptotaxpl/src/parsers"
	"github.com/username/cryptotaxpl/src/processors"
)

type stubRates struct {
	rates models.RatesByCurrency
	err   error
	calls atomic.Int32
}

func (s *stubRates) GetExchangeRates(_ context.Context, ccy string, _, _ time.Time) (*models.RateTable, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if t, ok := s.rates.Table(ccy); ok {
		return t, nil
	}
	return models.NewRateTable(ccy), nil
}

func (s *stubRates) RatesForTrades(context.Context, []models.Trade) (models.RatesByCurrency, error) {
	s.calls.Add(1)
	return s.rates, s.err
}

func eurRates(t *testing.T) models.RatesByCurrency {
	t.Helper()
	table := models.NewRateTable("EUR")
	for d, r := range map[time.Time]string{
		date(2024, 3, 14): "4.30",
		date(2024, 3, 15): "4.32",
		date(2024, 6, 3):  "4.25",
	} {
		require.NoError(t, table.Add(models.ExchangeRate{RateDate: d, Rate: decimal.RequireFromString(r), Currency: "EUR"}))
	}
	return models.RatesByCurrency{"EUR": table}
}

func TestTaxServiceCalculate(t *testing.T) {
	svc := NewTaxService(&stubRates{rates: eurRates(t)}, time.UTC, processors.DefaultMaxLookbackDays, nil, quietLogger())

	trades := []models.Trade{
		{Platform: "Kraken", TradeID: "B1", QuoteCurrency: "EUR", Type: models.TradeTypeBuy,
			TotalCost: decimal.RequireFromString("1000"), Fee: decimal.RequireFromString("10"),
			Timestamp: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)},
		{Platform: "Kraken", TradeID: "S1", QuoteCurrency: "EUR", Type: models.TradeTypeSell,
			TotalCost: decimal.RequireFromString("1500"), Fee: decimal.RequireFromString("15"),
			Timestamp: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)},
		{Platform: "Kraken", TradeID: "P1", QuoteCurrency: "PLN", Type: models.TradeTypeSell,
			TotalCost: decimal.RequireFromString("100"), Timestamp: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)},
		{Platform: "Kraken", TradeID: "U1", QuoteCurrency: "USD", Type: models.TradeTypeSell,
			TotalCost: decimal.RequireFromString("100"), Timestamp: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)},
	}

	report, err := svc.Calculate(context.Background(), trades, TaxOptions{Year: 2024, SettlementDay: -1, PreviousYearCosts: decimal.RequireFromString("100")})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Transactions, 2)
	// buy: 1010 * 4.32, sell: 1485 * 4.25
	assert.Equal(t, "6311.25", models.FormatMoney(report.Pit38.Field34))
	assert.Equal(t, "4363.20", models.FormatMoney(report.Pit38.Field35))
	assert.Equal(t, "100.00", models.FormatMoney(report.Pit38.Field36))
	assert.Equal(t, "1848.05", models.FormatMoney(report.Pit38.Field37))
	assert.Equal(t, "0.00", models.FormatMoney(report.Pit38.Field38))
	assert.Equal(t, "351.13", models.FormatMoney(report.Pit38.Field39))

	assert.Equal(t, 1, report.Report.SkippedReportingCurrency)
	require.Len(t, report.Report.SkippedMissingRates, 1)
	assert.Equal(t, "U1", report.Report.SkippedMissingRates[0].TradeID)
	assert.True(t, strings.HasPrefix(report.Summary, "2 trades processed, 1 skipped due to missing rates"), report.Summary)
}

func TestTaxServiceRejectsBadOptionsBeforeFetchingRates(t *testing.T) {
	tests := []struct {
		name string
		opts TaxOptions
		want error
	}{
		{"positive settlement day", TaxOptions{Year: 2024, SettlementDay: 1}, processors.ErrInvalidSettlementDay},
		{"negative carry", TaxOptions{Year: 2024, SettlementDay: -1, PreviousYearCosts: decimal.RequireFromString("-0.01")}, processors.ErrNegativeCarryForward},
		{"invalid year", TaxOptions{Year: 0, SettlementDay: -1}, processors.ErrInvalidTaxYear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rates := &stubRates{rates: eurRates(t)}
			svc := NewTaxService(rates, time.UTC, processors.DefaultMaxLookbackDays, nil, quietLogger())

			_, err := svc.Calculate(context.Background(), nil, tt.opts)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsInputError(err))
			assert.Zero(t, rates.calls.Load())
		})
	}
}

func TestTaxServiceWrapsProviderFailure(t *testing.T) {
	svc := NewTaxService(&stubRates{err: errors.New("boom")}, time.UTC, processors.DefaultMaxLookbackDays, nil, quietLogger())

	_, err := svc.Calculate(context.Background(), nil, TaxOptions{Year: 2024, SettlementDay: -1})
	require.ErrorIs(t, err, ErrProcessingFailed)
	assert.False(t, IsInputError(err))
}

const uploadCSV = `Platform,Trade ID,Trading Pair,Base Currency,Quote Currency,Price,Date & Time,Volume,Total Cost,Fee,Type
Kraken,B1,BTC/EUR,BTC,EUR,50000,2024-03-15 12:00:00,0.02,1000,10,buy
Kraken,S1,BTC/EUR,BTC,EUR,60000,2024-06-03 09:00:00,0.025,1500,15,SELL
Kraken,X1,BTC/EUR,BTC,EUR,60000,not a date,0.025,1500,15,SELL
`

func TestTaxServiceProcessUpload(t *testing.T) {
	rates := &stubRates{rates: eurRates(t)}
	reportCache := cache.New(DefaultCacheExpiration, CacheCleanupInterval)
	svc := NewTaxService(rates, time.UTC, processors.DefaultMaxLookbackDays, reportCache, quietLogger())
	opts := TaxOptions{Year: 2024, SettlementDay: -1}

	report, err := svc.ProcessUpload(context.Background(), strings.NewReader(uploadCSV), "cryptohub", opts)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Report.Matched)
	require.Len(t, report.Report.Rejected, 1)
	assert.Equal(t, "X1", report.Report.Rejected[0].TradeID)
	assert.Contains(t, report.Summary, "1 input records rejected")
	assert.Equal(t, "6311.25", models.FormatMoney(report.Pit38.Field34))

	// Callers may mutate what they get back without touching the cached report.
	report.Report.Rejected[0].TradeID = "changed"
	report.Transactions = nil

	again, err := svc.ProcessUpload(context.Background(), strings.NewReader(uploadCSV), "cryptohub", opts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), rates.calls.Load(), "second upload served from cache")
	assert.NotSame(t, report, again)
	assert.NotEqual(t, report.RunID, again.RunID, "every request gets its own run id")
	assert.Equal(t, "X1", again.Report.Rejected[0].TradeID)
	assert.Len(t, again.Transactions, 2)
	assert.Equal(t, "6311.25", models.FormatMoney(again.Pit38.Field34))

	third, err := svc.ProcessUpload(context.Background(), strings.NewReader(uploadCSV), "cryptohub", opts)
	require.NoError(t, err)
	assert.NotEqual(t, again.RunID, third.RunID)

	_, err = svc.ProcessUpload(context.Background(), strings.NewReader(uploadCSV), "coinbase", opts)
	require.ErrorIs(t, err, ErrParsingFailed)
	require.ErrorIs(t, err, parsers.ErrUnknownSource)
	assert.True(t, IsInputError(err))
}

func TestTaxOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    TaxOptions
		wantErr error
	}{
		{name: "valid", opts: TaxOptions{Year: 2024, SettlementDay: -1}},
		{name: "same day", opts: TaxOptions{Year: 2024, SettlementDay: 0}},
		{name: "positive settlement day", opts: TaxOptions{Year: 2024, SettlementDay: 1}, wantErr: processors.ErrInvalidSettlementDay},
		{name: "negative carry", opts: TaxOptions{Year: 2024, SettlementDay: -1, PreviousYearCosts: decimal.RequireFromString("-0.01")}, wantErr: processors.ErrNegativeCarryForward},
		{name: "year zero", opts: TaxOptions{SettlementDay: -1}, wantErr: processors.ErrInvalidTaxYear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate(processors.DefaultMaxLookbackDays)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsInputError(err))
		})
	}
}
