package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TaxTransaction is a trade paired with the rate it was matched to.
// The converted cost is computed once by NewTaxTransaction and never recomputed.
type TaxTransaction struct {
	trade         Trade
	rate          ExchangeRate
	convertedCost decimal.Decimal
}

// NewTaxTransaction converts the trade's cost basis into the reporting currency:
// BUY adds the fee to the acquisition cost, SELL deducts it from the proceeds.
// No rounding is applied.
func NewTaxTransaction(trade Trade, rate ExchangeRate) (TaxTransaction, error) {
	if !strings.EqualFold(trade.QuoteCurrency, rate.Currency) {
		return TaxTransaction{}, fmt.Errorf("rate currency %s does not match quote currency %s of trade %s", rate.Currency, trade.QuoteCurrency, trade.TradeID)
	}

	var basis decimal.Decimal
	switch trade.Type {
	case TradeTypeBuy:
		basis = trade.TotalCost.Add(trade.Fee)
	case TradeTypeSell:
		basis = trade.TotalCost.Sub(trade.Fee)
	default:
		return TaxTransaction{}, fmt.Errorf("%w %q on trade %s", ErrInvalidTradeType, trade.Type, trade.TradeID)
	}

	return TaxTransaction{
		trade:         trade,
		rate:          rate,
		convertedCost: basis.Mul(rate.Rate),
	}, nil
}

func (t TaxTransaction) Trade() Trade { return t.trade }
func (t TaxTransaction) Rate() ExchangeRate { return t.rate }
func (t TaxTransaction) ConvertedCost() decimal.Decimal { return t.convertedCost }

type taxTransactionJSON struct {
	Trade
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	RateDate      string          `json:"rate_date"`
	TableNo       string          `json:"table_no,omitempty"`
	ConvertedCost decimal.Decimal `json:"total_cost_pln"`
}

func (t TaxTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(taxTransactionJSON{
		Trade:         t.trade,
		ExchangeRate:  t.rate.Rate,
		RateDate:      t.rate.RateDate.Format(DateLayout),
		TableNo:       t.rate.TableNo,
		ConvertedCost: t.convertedCost,
	})
}
