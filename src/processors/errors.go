package processors

import "errors"

var (
	// Configuration errors, reported before any trade is looked at.
	ErrInvalidSettlementDay = errors.New("settlement day must be zero or negative")
	ErrInvalidLookback      = errors.New("max lookback days must be positive")
	ErrNegativeCarryForward = errors.New("previous years costs must not be negative")
	ErrInvalidTaxYear       = errors.New("invalid tax year")

	// Match failures. The trade is skipped, the batch goes on.
	ErrReportingCurrency = errors.New("trade is already denominated in the reporting currency")
	ErrNoRateTable       = errors.New("no exchange rate table for currency")
	ErrRateNotFound      = errors.New("no exchange rate within lookback window")
)
