package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxRate is the flat PIT-38 rate on income from virtual currencies.
var TaxRate = decimal.RequireFromString("0.19")

// RoundMoney rounds half away from zero to whole grosze. Every monetary PIT-38 field goes through it.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Pit38Result holds PIT-38 section E for one tax year. Field34..36 are inputs,
// Field37..39 are derived from them by NewPit38Result.
type Pit38Result struct {
	Year    int
	Field34 decimal.Decimal // income from disposal of virtual currencies
	Field35 decimal.Decimal // costs incurred in the tax year
	Field36 decimal.Decimal // unused costs carried from previous years
	Field37 decimal.Decimal // tax base
	Field38 decimal.Decimal // loss
	Field39 decimal.Decimal // tax due
}

// NewPit38Result rounds the three inputs and derives the tax base, loss and tax due.
// A net of exactly zero counts as non-positive.
func NewPit38Result(year int, income, costs, previousYearCosts decimal.Decimal) Pit38Result {
	r := Pit38Result{
		Year:    year,
		Field34: RoundMoney(income),
		Field35: RoundMoney(costs),
		Field36: RoundMoney(previousYearCosts),
	}

	net := r.Field34.Sub(r.Field35.Add(r.Field36))
	if net.IsPositive() {
		r.Field37 = RoundMoney(net)
		r.Field38 = decimal.Zero
		r.Field39 = RoundMoney(r.Field37.Mul(TaxRate))
	} else {
		r.Field37 = decimal.Zero
		r.Field38 = RoundMoney(net.Abs())
		r.Field39 = decimal.Zero
	}
	return r
}

// Pit38Field is one display row of a Pit38Result.
type Pit38Field struct {
	Name        string
	Description string
	Value       func(Pit38Result) decimal.Decimal
}

// Pit38Fields lists the form fields in the order they appear on PIT-38.
var Pit38Fields = []Pit38Field{
	{"field34_income", "Field 34: Income from disposal of virtual currencies", func(r Pit38Result) decimal.Decimal { return r.Field34 }},
	{"field35_costs_current_year", "Field 35: Costs incurred in the tax year", func(r Pit38Result) decimal.Decimal { return r.Field35 }},
	{"field36_costs_previous_years", "Field 36: Unused costs from previous years", func(r Pit38Result) decimal.Decimal { return r.Field36 }},
	{"field37_tax_base", "Field 37: Taxable income", func(r Pit38Result) decimal.Decimal { return r.Field37 }},
	{"field38_loss", "Field 38: Loss", func(r Pit38Result) decimal.Decimal { return r.Field38 }},
	{"field39_tax", "Field 39: Tax due (19%)", func(r Pit38Result) decimal.Decimal { return r.Field39 }},
}

// FormatMoney renders d with exactly two fractional digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func (r Pit38Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(Pit38Fields)+1)
	out["year"] = r.Year
	for _, f := range Pit38Fields {
		out[f.Name] = FormatMoney(f.Value(r))
	}
	return json.Marshal(out)
}

func (r *Pit38Result) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var res Pit38Result
	if y, ok := raw["year"]; ok {
		if err := json.Unmarshal(y, &res.Year); err != nil {
			return fmt.Errorf("year: %w", err)
		}
	}
	targets := []*decimal.Decimal{&res.Field34, &res.Field35, &res.Field36, &res.Field37, &res.Field38, &res.Field39}
	for i, f := range Pit38Fields {
		v, ok := raw[f.Name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, targets[i]); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	*r = res
	return nil
}
