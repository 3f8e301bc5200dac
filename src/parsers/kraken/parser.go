// src/parsers/kraken/parser.go
package kraken

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/username/cryptotaxpl/src/models"
	"github.com/username/cryptotaxpl/src/parsers/csvutil"
	"github.com/username/cryptotaxpl/src/security/validation"
)

const (
	PlatformName = "Kraken"
	timeLayout   = "2006-01-02 15:04:05" // UTC, fractional seconds accepted
)

var requiredColumns = []string{"txid", "pair", "time", "type", "price", "cost", "fee", "vol"}

// legacy four-letter codes Kraken still uses in pair ids and exports
var legacyAssets = map[string]string{
	"XXBT": "XBT", "XETH": "ETH", "XLTC": "LTC", "XXRP": "XRP", "XXLM": "XLM",
	"XXDG": "XDG", "XETC": "ETC", "XZEC": "ZEC", "XXMR": "XMR", "XREP": "REP", "XMLN": "MLN",
	"ZEUR": "EUR", "ZUSD": "USD", "ZGBP": "GBP", "ZCAD": "CAD", "ZJPY": "JPY", "ZCHF": "CHF", "ZAUD": "AUD",
}

var assetAliases = map[string]string{"XBT": "BTC", "XDG": "DOGE"}

// quote suffixes tried longest first when a pair id has no separator
var quoteSuffixes = []string{"USDT", "USDC", "EUR", "USD", "GBP", "CAD", "JPY", "CHF", "AUD", "XBT", "ETH", "DAI"}

// NormalizeAsset maps Kraken asset codes (XXBT, ZEUR, XBT) to common tickers (BTC, EUR).
func NormalizeAsset(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if short, ok := legacyAssets[code]; ok {
		code = short
	}
	if alias, ok := assetAliases[code]; ok {
		return alias
	}
	return code
}

// SplitPair splits "XXBTZEUR", "XBTEUR" or "XBT/EUR" into normalized base and quote.
func SplitPair(pair string) (base, quote string, ok bool) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if b, q, found := strings.Cut(pair, "/"); found {
		if b == "" || q == "" {
			return "", "", false
		}
		return NormalizeAsset(b), NormalizeAsset(q), true
	}
	if len(pair) == 8 {
		_, legacyBase := legacyAssets[pair[:4]]
		_, legacyQuote := legacyAssets[pair[4:]]
		if legacyBase && legacyQuote {
			return NormalizeAsset(pair[:4]), NormalizeAsset(pair[4:]), true
		}
	}
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(pair, suffix) && len(pair) > len(suffix) {
			return NormalizeAsset(strings.TrimSuffix(pair, suffix)), NormalizeAsset(suffix), true
		}
	}
	return "", "", false
}

// Parser reads the trades.csv export from the Kraken web UI.
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

		trade, err := parseRecord(header, record)
		if err != nil {
			rejected = append(rejected, models.RejectedRecord{Line: line, TradeID: header.Get(record, "txid"), Reason: err.Error()})
			continue
		}
		trades = append(trades, trade)
	}
	return trades, rejected, nil
}

func parseRecord(h csvutil.Header, record []string) (models.Trade, error) {
	pair := validation.SanitizeText(h.Get(record, "pair"))
	base, quote, ok := SplitPair(pair)
	if !ok {
		return models.Trade{}, fmt.Errorf("cannot split pair %q into base and quote", pair)
	}
	tradeType, err := models.ParseTradeType(h.Get(record, "type"))
	if err != nil {
		return models.Trade{}, err
	}
	ts, err := time.ParseInLocation(timeLayout, h.Get(record, "time"), time.UTC)
	if err != nil {
		return models.Trade{}, fmt.Errorf("invalid time %q", h.Get(record, "time"))
	}

	trade := models.Trade{
		Platform:      PlatformName,
		TradeID:       validation.SanitizeText(h.Get(record, "txid")),
		TradingPair:   pair,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Timestamp:     ts,
		Type:          tradeType,
	}
	if trade.Price, err = csvutil.ParseDecimal(h.Get(record, "price")); err != nil {
		return models.Trade{}, fmt.Errorf("price: %w", err)
	}
	if trade.Volume, err = csvutil.ParseDecimal(h.Get(record, "vol")); err != nil {
		return models.Trade{}, fmt.Errorf("vol: %w", err)
	}
	if trade.TotalCost, err = csvutil.ParseDecimal(h.Get(record, "cost")); err != nil {
		return models.Trade{}, fmt.Errorf("cost: %w", err)
	}
	if trade.Fee, err = csvutil.ParseDecimal(h.Get(record, "fee")); err != nil {
		return models.Trade{}, fmt.Errorf("fee: %w", err)
	}
	if err := trade.Validate(); err != nil {
		return models.Trade{}, err
	}
	return trade, nil
}
