package binance

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotaxpl/src/models"
	"github.com/username/cryptotaxpl/src/parsers/csvutil"
	"github.com/username/cryptotaxpl/src/security/validation"
)

const (
	PlatformName = "Binance"
	timeLayout   = "2006-01-02 15:04:05"
)

var requiredColumns = []string{"Date(UTC)", "Type", "Price", "Amount", "Total", "Fee", "Fee Coin"}

// quote assets tried longest first when splitting a market symbol
var quoteSuffixes = []string{"FDUSD", "USDT", "BUSD", "USDC", "TUSD", "EUR", "GBP", "PLN", "TRY", "BRL", "BTC", "ETH", "BNB"}

// SplitSymbol splits a Binance market symbol such as BTCEUR into base and quote.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return strings.TrimSuffix(symbol, suffix), suffix, true
		}
	}
	return "", "", false
}

// FeeInQuote returns the commission when it was charged in the quote asset.
// Commissions paid in another asset (BNB discounts, base asset on buys) are not
// part of the quote-currency cost basis and count as zero.
func FeeInQuote(commission decimal.Decimal, commissionAsset, quote string) decimal.Decimal {
	if strings.EqualFold(strings.TrimSpace(commissionAsset), quote) {
		return commission
	}
	return decimal.Zero
}

// Parser reads the spot "Trade History" CSV export. The export has no trade
// ids, so each row gets a hash of its contents.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(file io.Reader) ([]models.Trade, []models.RejectedRecord, error) {
	reader := csvutil.NewReader(file)
	header, err := csvutil.ReadHeader(reader, requiredColumns...)
	if err != nil {
		return nil, nil, err
	}
	marketColumn := "Market"
	if !header.Has(marketColumn) {
		marketColumn = "Pair"
	}
	if !header.Has(marketColumn) {
		return nil, nil, fmt.Errorf("%w: Market", csvutil.ErrMissingColumn)
	}

	var trades []models.Trade
	var rejected []models.RejectedRecord
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line, _ := reader.FieldPos(0)
		if err != nil {
			rejected = append(rejected, models.RejectedRecord{Line: line, Reason: err.Error()})
			continue
		}

		trade, err := parseRecord(header, marketColumn, record)
		if err != nil {
			rejected = append(rejected, models.RejectedRecord{Line: line, TradeID: trade.TradeID, Reason: err.Error()})
			continue
		}
		trades = append(trades, trade)
	}
	return trades, rejected, nil
}

// parseRecord returns the partially filled trade alongside an error so the caller can report its id.
func parseRecord(h csvutil.Header, marketColumn string, record []string) (models.Trade, error) {
	market := validation.SanitizeText(h.Get(record, marketColumn))
	trade := models.Trade{
		Platform:    PlatformName,
		TradingPair: market,
		TradeID: csvutil.RowHash(h.Get(record, "Date(UTC)"), market, h.Get(record, "Type"),
			h.Get(record, "Price"), h.Get(record, "Amount"), h.Get(record, "Total")),
	}

	base, quote, ok := SplitSymbol(market)
	if !ok {
		return trade, fmt.Errorf("cannot split market %q into base and quote", market)
	}
	trade.BaseCurrency, trade.QuoteCurrency = base, quote

	var err error
	if trade.Type, err = models.ParseTradeType(h.Get(record, "Type")); err != nil {
		return trade, err
	}
	if trade.Timestamp, err = time.ParseInLocation(timeLayout, h.Get(record, "Date(UTC)"), time.UTC); err != nil {
		return trade, fmt.Errorf("invalid Date(UTC) %q", h.Get(record, "Date(UTC)"))
	}
	if trade.Price, err = csvutil.ParseDecimal(h.Get(record, "Price")); err != nil {
		return trade, fmt.Errorf("Price: %w", err)
	}
	if trade.Volume, err = csvutil.ParseDecimal(h.Get(record, "Amount")); err != nil {
		return trade, fmt.Errorf("Amount: %w", err)
	}
	if trade.TotalCost, err = csvutil.ParseDecimal(h.Get(record, "Total")); err != nil {
		return trade, fmt.Errorf("Total: %w", err)
	}
	fee, err := csvutil.ParseDecimal(h.Get(record, "Fee"))
	if err != nil {
		return trade, fmt.Errorf("Fee: %w", err)
	}
	trade.Fee = FeeInQuote(fee, h.Get(record, "Fee Coin"), quote)

	if err := trade.Validate(); err != nil {
		return trade, err
	}
	return trade, nil
}
