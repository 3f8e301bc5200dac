package models

import "fmt"

// SkippedTrade is a trade that could not be matched to a rate and was left out of the totals.
type SkippedTrade struct {
	Platform string `json:"platform"`
	TradeID  string `json:"trade_id"`
	Currency string `json:"currency"`
	Date     string `json:"date"`
	Reason   string `json:"reason"`
}

// RejectedRecord is an input row that failed ingestion.
type RejectedRecord struct {
	Line    int    `json:"line,omitempty"`
	TradeID string `json:"trade_id,omitempty"`
	Reason  string `json:"reason"`
}

// ProcessingReport accounts for every trade handed to one run.
type ProcessingReport struct {
	TotalTrades              int              `json:"total_trades"`
	Matched                  int              `json:"matched"`
	SkippedReportingCurrency int              `json:"skipped_reporting_currency"`
	SkippedMissingRates      []SkippedTrade   `json:"skipped_missing_rates"`
	Rejected                 []RejectedRecord `json:"rejected"`
}

// Processed counts trades that made it into tax transactions.
func (r ProcessingReport) Processed() int {
	return r.Matched
}

func (r ProcessingReport) Skipped() int {
	return len(r.SkippedMissingRates)
}

// Complete is true when no trade was dropped for missing rates and no input row was rejected.
func (r ProcessingReport) Complete() bool {
	return len(r.SkippedMissingRates) == 0 && len(r.Rejected) == 0
}

func (r ProcessingReport) Summary() string {
	s := fmt.Sprintf("%d trades processed, %d skipped due to missing rates", r.Processed(), r.Skipped())
	if r.SkippedReportingCurrency > 0 {
		s += fmt.Sprintf(", %d already in %s", r.SkippedReportingCurrency, ReportingCurrency)
	}
	if len(r.Rejected) > 0 {
		s += fmt.Sprintf(", %d input records rejected", len(r.Rejected))
	}
	return s
}
