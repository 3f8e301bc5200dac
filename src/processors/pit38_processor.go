package processors

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotaxpl/src/models"
)

// Pit38Processor aggregates one tax year of tax transactions into PIT-38 fields.
type Pit38Processor struct {
	location *time.Location
}

// NewPit38Processor uses loc to decide which calendar year a trade falls in; nil means UTC.
func NewPit38Processor(loc *time.Location) *Pit38Processor {
	if loc == nil {
		loc = time.UTC
	}
	return &Pit38Processor{location: loc}
}

// Calculate sums SELL conversions into income and BUY conversions into costs for
// trades executed in year. Other years are ignored.
func (p *Pit38Processor) Calculate(txs []models.TaxTransaction, year int, previousYearCosts decimal.Decimal) (models.Pit38Result, error) {
	if year < 1 || year > 9999 {
		return models.Pit38Result{}, fmt.Errorf("%w: %d", ErrInvalidTaxYear, year)
	}
	if previousYearCosts.IsNegative() {
		return models.Pit38Result{}, fmt.Errorf("%w: %s", ErrNegativeCarryForward, previousYearCosts)
	}

	income := decimal.Zero
	costs := decimal.Zero
	for _, tx := range txs {
		trade := tx.Trade()
		if trade.Timestamp.In(p.location).Year() != year {
			continue
		}
		switch trade.Type {
		case models.TradeTypeSell:
			income = income.Add(tx.ConvertedCost())
		case models.TradeTypeBuy:
			costs = costs.Add(tx.ConvertedCost())
		}
	}

	return models.NewPit38Result(year, income, costs, previousYearCosts), nil
}

// CalculatePit38 is Calculate without a long-lived processor.
func CalculatePit38(txs []models.TaxTransaction, year int, previousYearCosts decimal.Decimal, loc *time.Location) (models.Pit38Result, error) {
	return NewPit38Processor(loc).Calculate(txs, year, previousYearCosts)
}
