package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/username/cryptotaxpl/src/config"
	"github.com/username/cryptotaxpl/src/exchanges"
	"github.com/username/cryptotaxpl/src/export"
	"github.com/username/cryptotaxpl/src/models"
	"github.com/username/cryptotaxpl/src/parsers"
	"github.com/username/cryptotaxpl/src/security/validation"
	"github.com/username/cryptotaxpl/src/services"
	"github.com/username/cryptotaxpl/src/utils"
)

func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// downloadTrades pulls the history of the named accounts, or of every account when names is empty.
func (a *app) downloadTrades(ctx context.Context, names []string) ([]models.Trade, error) {
	cfg := a.cfg
	if len(names) > 0 {
		restricted, err := cfg.WithAccounts(names...)
		if err != nil {
			return nil, err
		}
		cfg = restricted
	}
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("%w: no exchange accounts configured", config.ErrInvalidConfig)
	}
	collectors, err := exchanges.NewCollectors(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return exchanges.DownloadAll(ctx, collectors, a.logger)
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	accounts := fs.String("accounts", "", "comma separated account names, default all")
	out := fs.String("o", "", "output file, default stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	trades, err := a.downloadTrades(ctx, splitNames(*accounts))
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(*out)
	if err != nil {
		return err
	}
	defer closeOut()
	if err := export.WriteTrades(w, trades, a.cfg.TaxTimezone); err != nil {
		return err
	}
	a.logger.Info("Trades downloaded", "count", len(trades))
	return nil
}

// loadTrades parses every file with the parser for source.
func (a *app) loadTrades(files []string, source string) ([]models.Trade, []models.RejectedRecord, error) {
	parser, err := parsers.GetParser(source, a.cfg.TaxTimezone)
	if err != nil {
		return nil, nil, err
	}
	var trades []models.Trade
	var rejected []models.RejectedRecord
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		t, r, err := parser.Parse(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", services.ErrParsingFailed, path, err)
		}
		for _, rec := range r {
			a.logger.Warn("Rejected input record", "file", path, "line", rec.Line, "tradeID", rec.TradeID, "reason", rec.Reason)
		}
		trades = append(trades, t...)
		rejected = append(rejected, r...)
	}
	return trades, rejected, nil
}

func (a *app) pit38(ctx context.Context, args []string) error {
	defaults := a.defaultOptions()
	fs := flag.NewFlagSet("pit38", flag.ContinueOnError)
	year := fs.Int("year", defaults.Year, "tax year")
	settlementDay := fs.Int("settlement-day", defaults.SettlementDay, "rate date offset in business days, zero or negative")
	carry := fs.String("previous-year-costs", defaults.PreviousYearCosts.String(), "unsettled costs from previous years (field 36)")
	source := fs.String("source", "cryptohub", "format of the input files: "+strings.Join(parsers.Sources, ", "))
	accounts := fs.String("accounts", "", "accounts to download when no files are given, default all")
	txOut := fs.String("transactions", "", "write the converted transactions as CSV to this file")
	asJSON := fs.Bool("json", false, "print the full report as JSON")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: cryptotaxpl pit38 [flags] [file.csv ...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	carryValue, err := decimal.NewFromString(strings.TrimSpace(*carry))
	if err != nil {
		return fmt.Errorf("%w: -previous-year-costs %q is not a decimal", config.ErrInvalidConfig, *carry)
	}
	opts := services.TaxOptions{Year: *year, SettlementDay: *settlementDay, PreviousYearCosts: carryValue}
	if err := opts.Validate(a.cfg.MaxLookbackDays); err != nil {
		return err
	}

	var trades []models.Trade
	var rejected []models.RejectedRecord
	if fs.NArg() > 0 {
		trades, rejected, err = a.loadTrades(fs.Args(), strings.ToLower(*source))
	} else {
		trades, err = a.downloadTrades(ctx, splitNames(*accounts))
	}
	if err != nil {
		return err
	}

	defer a.close()
	rates, err := a.rateProvider()
	if err != nil {
		return err
	}
	report, err := a.taxService(rates, nil).Calculate(ctx, trades, opts)
	if err != nil {
		return err
	}
	report.Report.Rejected = append(rejected, report.Report.Rejected...)
	report.Summary = report.Report.Summary()

	if *txOut != "" {
		if err := a.writeTransactions(*txOut, report.Transactions); err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	if err := export.WritePit38(os.Stdout, report.Pit38); err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(report.Summary)
	for _, s := range report.Report.SkippedMissingRates {
		fmt.Fprintf(os.Stderr, "skipped %s %s (%s %s): %s\n", s.Platform, s.TradeID, s.Currency, s.Date, s.Reason)
	}
	if !report.Report.Complete() {
		a.logger.Warn("Report is incomplete, review skipped trades and rejected records before filing", "runID", report.RunID)
	}
	return nil
}

func (a *app) writeTransactions(path string, txs []models.TaxTransaction) error {
	w, closeOut, err := openOutput(path)
	if err != nil {
		return err
	}
	defer closeOut()
	return export.WriteTaxTransactions(w, txs, a.cfg.TaxTimezone)
}

func (a *app) rates(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rates", flag.ContinueOnError)
	currency := fs.String("currency", "EUR", "currency code")
	start := fs.String("start", "", "first date YYYY-MM-DD, default 30 days before end")
	end := fs.String("end", "", "last date YYYY-MM-DD, default yesterday")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ccy := strings.ToUpper(strings.TrimSpace(*currency))
	if err := validation.ValidateCurrencyCode(ccy, "currency"); err != nil {
		return err
	}
	today := models.CivilDate(time.Now(), a.cfg.TaxTimezone)
	from, to, err := utils.ParseDateRange(*start, *end, today)
	if err != nil {
		return err
	}

	defer a.close()
	provider, err := a.rateProvider()
	if err != nil {
		return err
	}
	table, err := provider.GetExchangeRates(ctx, ccy, from, to)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Date\t%s/%s\tTable\n", ccy, models.ReportingCurrency)
	for _, r := range table.Rates() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.RateDate.Format(models.DateLayout), r.Rate.StringFixed(4), r.TableNo)
	}
	return tw.Flush()
}

// openOutput returns stdout for an empty path.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
