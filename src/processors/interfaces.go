package processors

import (
	"time"

	"github.com/username/cryptotaxpl/src/models"
)

// Matcher resolves the exchange rate that applies to a trade. Location is the
// timezone that defines a trade's calendar date.
type Matcher interface {
	Match(trade models.Trade, rates models.RatesByCurrency) (models.ExchangeRate, error)
	Location() *time.Location
}
