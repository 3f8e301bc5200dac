package processors

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptotaxpl/src/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func taxTx(t *testing.T, id string, typ models.TradeType, ts time.Time, cost, fee, rate string) models.TaxTransaction {
	t.Helper()
	trade := models.Trade{
		Platform: "Binance", TradeID: id, TradingPair: "BTCUSDT", BaseCurrency: "BTC", QuoteCurrency: "USD",
		TotalCost: dec(cost), Fee: dec(fee), Timestamp: ts, Type: typ,
	}
	tx, err := ConvertTrade(trade, models.ExchangeRate{RateDate: models.CivilDate(ts, nil), Rate: dec(rate), Currency: "USD"})
	require.NoError(t, err)
	return tx
}

func TestConvertTradeIsIdempotent(t *testing.T) {
	trade := eurTrade("1", day(2024, 2, 1))
	rate := models.ExchangeRate{RateDate: day(2024, 2, 1), Rate: dec("4.3217"), Currency: "EUR"}

	a, err := ConvertTrade(trade, rate)
	require.NoError(t, err)
	b, err := ConvertTrade(trade, rate)
	require.NoError(t, err)
	assert.Equal(t, a.ConvertedCost().String(), b.ConvertedCost().String())
	assert.Equal(t, "4364.917", a.ConvertedCost().String(), "no rounding before aggregation")
}

func TestPit38Calculate(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	txs := []models.TaxTransaction{
		taxTx(t, "b1", models.TradeTypeBuy, ts, "1000", "10", "4.30"),
		taxTx(t, "s1", models.TradeTypeSell, ts, "1000", "10", "4.30"),
		taxTx(t, "s2", models.TradeTypeSell, ts, "100", "0", "4.00"),
		taxTx(t, "old", models.TradeTypeSell, ts.AddDate(-1, 0, 0), "9999", "0", "4.00"),
	}

	r, err := CalculatePit38(txs, 2024, dec("0"), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2024, r.Year)
	assert.Equal(t, "4657.00", models.FormatMoney(r.Field34))
	assert.Equal(t, "4343.00", models.FormatMoney(r.Field35))
	assert.Equal(t, "0.00", models.FormatMoney(r.Field36))
	assert.Equal(t, "314.00", models.FormatMoney(r.Field37))
	assert.Equal(t, "0.00", models.FormatMoney(r.Field38))
	assert.Equal(t, "59.66", models.FormatMoney(r.Field39))
}

func TestPit38CalculateScenarios(t *testing.T) {
	ts := time.Date(2023, 3, 3, 9, 0, 0, 0, time.UTC)

	t.Run("small gain", func(t *testing.T) {
		txs := []models.TaxTransaction{taxTx(t, "s", models.TradeTypeSell, ts, "5.38", "0", "4.00")}
		r, err := CalculatePit38(txs, 2023, decimal.Zero, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, "21.52", models.FormatMoney(r.Field37))
		assert.Equal(t, "4.09", models.FormatMoney(r.Field39))
	})

	t.Run("loss", func(t *testing.T) {
		txs := []models.TaxTransaction{
			taxTx(t, "s", models.TradeTypeSell, ts, "25", "0", "4.00"),
			taxTx(t, "b", models.TradeTypeBuy, ts, "37.5", "0", "4.00"),
		}
		r, err := CalculatePit38(txs, 2023, decimal.Zero, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, "0.00", models.FormatMoney(r.Field37))
		assert.Equal(t, "50.00", models.FormatMoney(r.Field38))
		assert.Equal(t, "0.00", models.FormatMoney(r.Field39))
	})

	t.Run("carry forward wipes out gain exactly", func(t *testing.T) {
		txs := []models.TaxTransaction{taxTx(t, "s", models.TradeTypeSell, ts, "25", "0", "4.00")}
		r, err := CalculatePit38(txs, 2023, dec("100"), time.UTC)
		require.NoError(t, err)
		assert.Equal(t, "100.00", models.FormatMoney(r.Field36))
		assert.True(t, r.Field37.IsZero())
		assert.True(t, r.Field38.IsZero())
		assert.True(t, r.Field39.IsZero())
	})

	t.Run("no transactions", func(t *testing.T) {
		r, err := CalculatePit38(nil, 2023, decimal.Zero, time.UTC)
		require.NoError(t, err)
		for _, f := range models.Pit38Fields {
			assert.Equal(t, "0.00", models.FormatMoney(f.Value(r)), f.Name)
		}
	})
}

func TestPit38CalculateRejectsBadInput(t *testing.T) {
	_, err := CalculatePit38(nil, 2024, dec("-0.01"), time.UTC)
	assert.ErrorIs(t, err, ErrNegativeCarryForward)

	_, err = CalculatePit38(nil, 0, decimal.Zero, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidTaxYear)
}

func TestPit38YearUsesTaxTimezone(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	// New Year's Eve 23:30 UTC is already 2025 in Warsaw.
	ts := time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC)
	txs := []models.TaxTransaction{taxTx(t, "s", models.TradeTypeSell, ts, "10", "0", "4")}

	r, err := CalculatePit38(txs, 2024, decimal.Zero, warsaw)
	require.NoError(t, err)
	assert.True(t, r.Field34.IsZero())

	r, err = CalculatePit38(txs, 2025, decimal.Zero, warsaw)
	require.NoError(t, err)
	assert.Equal(t, "40.00", models.FormatMoney(r.Field34))
}

func TestPit38IsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ts := time.Date(2024, 8, 8, 8, 0, 0, 0, time.UTC)

	var txs []models.TaxTransaction
	for i := 0; i < 200; i++ {
		typ := models.TradeTypeBuy
		if rng.Intn(2) == 0 {
			typ = models.TradeTypeSell
		}
		cost := decimal.New(rng.Int63n(10_000_000), -4)
		fee := decimal.New(rng.Int63n(10_000), -6)
		rate := decimal.New(3_500_000+rng.Int63n(1_000_000), -6)
		txs = append(txs, taxTx(t, "t", typ, ts, cost.String(), fee.String(), rate.String()))
	}

	want, err := CalculatePit38(txs, 2024, dec("12.34"), time.UTC)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		shuffled := append([]models.TaxTransaction(nil), txs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := CalculatePit38(shuffled, 2024, dec("12.34"), time.UTC)
		require.NoError(t, err)
		for _, f := range models.Pit38Fields {
			assert.True(t, f.Value(want).Equal(f.Value(got)), f.Name)
		}
	}
}

func TestPit38RoundingLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		income := decimal.New(rng.Int63n(1_000_000_000), -4)
		costs := decimal.New(rng.Int63n(1_000_000_000), -4)
		prev := decimal.New(rng.Int63n(100_000_000), -4)

		r := models.NewPit38Result(2024, income, costs, prev)
		net := r.Field34.Sub(r.Field35.Add(r.Field36))

		assert.True(t, r.Field37.IsZero() || r.Field38.IsZero())
		if net.IsPositive() {
			assert.True(t, r.Field37.Equal(net))
			assert.True(t, r.Field39.Equal(r.Field37.Mul(models.TaxRate).Round(2)))
		} else {
			assert.True(t, r.Field39.IsZero())
			assert.True(t, r.Field38.Equal(net.Abs()))
		}
		for _, f := range models.Pit38Fields {
			v := f.Value(r)
			assert.True(t, v.Equal(v.Round(2)), "%s has more than two decimals: %s", f.Name, v)
		}
	}
}
