// src/processors/tax_transaction_processor.go
package processors

import (
	"errors"
	"log/slog"

	"github.com/username/cryptotaxpl/src/models"
)

// TaxTransactionProcessor turns trades into tax transactions, one independent match per trade.
type TaxTransactionProcessor struct {
	matcher Matcher
	logger  *slog.Logger
}

func NewTaxTransactionProcessor(matcher Matcher, logger *slog.Logger) *TaxTransactionProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaxTransactionProcessor{matcher: matcher, logger: logger}
}

// ConvertTrade applies the fee-sign policy and the matched rate to one trade.
func ConvertTrade(trade models.Trade, rate models.ExchangeRate) (models.TaxTransaction, error) {
	return models.NewTaxTransaction(trade, rate)
}

// Process matches and converts every trade. Trades quoted in the reporting
// currency are dropped silently, trades without a usable rate are logged and
// itemized in the report. Neither stops the batch.
func (p *TaxTransactionProcessor) Process(trades []models.Trade, rates models.RatesByCurrency) ([]models.TaxTransaction, models.ProcessingReport) {
	report := models.ProcessingReport{TotalTrades: len(trades)}
	txs := make([]models.TaxTransaction, 0, len(trades))

	for _, trade := range trades {
		rate, err := p.matcher.Match(trade, rates)
		if err != nil {
			if errors.Is(err, ErrReportingCurrency) {
				report.SkippedReportingCurrency++
				p.logger.Debug("Skipping trade in reporting currency", "platform", trade.Platform, "tradeID", trade.TradeID)
				continue
			}
			p.logger.Warn("No exchange rate for trade, skipping",
				"platform", trade.Platform,
				"tradeID", trade.TradeID,
				"currency", trade.QuoteCurrency,
				"time", trade.Timestamp,
				"error", err)
			report.SkippedMissingRates = append(report.SkippedMissingRates, models.SkippedTrade{
				Platform: trade.Platform,
				TradeID:  trade.TradeID,
				Currency: trade.QuoteCurrency,
				Date:     models.CivilDate(trade.Timestamp, p.matcher.Location()).Format(models.DateLayout),
				Reason:   err.Error(),
			})
			continue
		}

		tx, err := ConvertTrade(trade, rate)
		if err != nil {
			p.logger.Warn("Rejecting trade during conversion", "platform", trade.Platform, "tradeID", trade.TradeID, "error", err)
			report.Rejected = append(report.Rejected, models.RejectedRecord{TradeID: trade.TradeID, Reason: err.Error()})
			continue
		}
		txs = append(txs, tx)
	}

	report.Matched = len(txs)
	p.logger.Info("Matched trades with exchange rates",
		"total", report.TotalTrades,
		"matched", report.Matched,
		"skippedMissingRates", report.Skipped(),
		"skippedReportingCurrency", report.SkippedReportingCurrency)
	return txs, report
}
