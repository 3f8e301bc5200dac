// Package export writes trades, tax transactions and PIT-38 results for people and spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/username/cryptotaxpl/src/models"
	"github.com/username/cryptotaxpl/src/parsers/cryptohub"
	"github.com/username/cryptotaxpl/src/security/validation"
)

// TaxTransactionColumns extends the trade columns with the matched rate and the converted amount.
var TaxTransactionColumns = append(append([]string(nil), cryptohub.Columns...),
	"Exchange Rate (Quote Currency/PLN)", "Rate Date", "NBP Table", "Total Cost (PLN)")

// WriteTrades writes trades in the format the cryptohub parser reads back.
// Times are written as wall clock in loc.
func WriteTrades(w io.Writer, trades []models.Trade, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cryptohub.Columns); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write(tradeRecord(t, loc)); err != nil {
			return fmt.Errorf("writing trade %s: %w", t.TradeID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTaxTransactions writes every tax transaction with its rate and PLN amount.
func WriteTaxTransactions(w io.Writer, txs []models.TaxTransaction, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TaxTransactionColumns); err != nil {
		return err
	}
	for _, tx := range txs {
		rate := tx.Rate()
		record := append(tradeRecord(tx.Trade(), loc),
			rate.Rate.String(),
			rate.RateDate.Format(models.DateLayout),
			validation.SanitizeForFormulaInjection(rate.TableNo),
			tx.ConvertedCost().String(),
		)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing tax transaction %s: %w", tx.Trade().TradeID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePit38 renders the PIT-38 fields as an aligned text table.
func WritePit38(w io.Writer, result models.Pit38Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PIT-38 %d\t\t\n", result.Year)
	for _, f := range models.Pit38Fields {
		fmt.Fprintf(tw, "%s\t%s %s\t\n", f.Description, models.FormatMoney(f.Value(result)), models.ReportingCurrency)
	}
	return tw.Flush()
}

func tradeRecord(t models.Trade, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	return []string{
		validation.SanitizeForFormulaInjection(t.Platform),
		validation.SanitizeForFormulaInjection(t.TradeID),
		validation.SanitizeForFormulaInjection(t.TradingPair),
		validation.SanitizeForFormulaInjection(t.BaseCurrency),
		validation.SanitizeForFormulaInjection(t.QuoteCurrency),
		t.Price.String(),
		t.Timestamp.In(loc).Format(cryptohub.DateTimeLayout),
		t.Volume.String(),
		t.TotalCost.String(),
		t.Fee.String(),
		string(t.Type),
	}
}
