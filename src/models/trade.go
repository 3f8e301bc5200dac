// src/models/trade.go
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReportingCurrency is the currency every PIT-38 amount is expressed in.
const ReportingCurrency = "PLN"

var (
	ErrInvalidTradeType = errors.New("invalid trade type")
	ErrInvalidTrade     = errors.New("invalid trade")
)

// TradeType is the canonical side of an executed trade.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// ParseTradeType canonicalizes a side as reported by an exchange ("buy", "Sell", " BUY ").
// Anything other than buy or sell is rejected.
func ParseTradeType(s string) (TradeType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(TradeTypeBuy):
		return TradeTypeBuy, nil
	case string(TradeTypeSell):
		return TradeTypeSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTradeType, s)
	}
}

func (t TradeType) Valid() bool {
	return t == TradeTypeBuy || t == TradeTypeSell
}

// Pair describes how an exchange symbol splits into base and quote assets.
type Pair struct {
	Symbol        string `json:"symbol"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
}

// Trade is one executed trade, normalized from any exchange.
// Values are copied around freely and never mutated after construction.
type Trade struct {
	Platform      string          `json:"platform"`
	TradeID       string          `json:"trade_id"` // unique within Platform + TradingPair only
	TradingPair   string          `json:"trading_pair"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
	TotalCost     decimal.Decimal `json:"total_cost"` // trusted as reported, never re-derived from Price * Volume
	Fee           decimal.Decimal `json:"fee"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          TradeType       `json:"type"`
}

// Validate reports data errors that make a trade unusable for tax purposes.
func (t Trade) Validate() error {
	var problems []string
	if strings.TrimSpace(t.TradeID) == "" {
		problems = append(problems, "missing trade id")
	}
	if strings.TrimSpace(t.QuoteCurrency) == "" {
		problems = append(problems, "missing quote currency")
	}
	if t.Timestamp.IsZero() {
		problems = append(problems, "missing timestamp")
	}
	if !t.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", t.Type))
	}
	if t.TotalCost.IsNegative() {
		problems = append(problems, "negative total cost")
	}
	if t.Fee.IsNegative() {
		problems = append(problems, "negative fee")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %s: %s", ErrInvalidTrade, t.TradeID, strings.Join(problems, ", "))
	}
	return nil
}

// Key identifies a trade across platforms.
func (t Trade) Key() string {
	return t.Platform + "|" + t.TradingPair + "|" + t.TradeID
}
