// src/parsers/cryptohub/parser.go
package cryptohub

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

// DateTimeLayout is the "Date & Time" column format, a wall-clock time in the tax timezone.
const DateTimeLayout = "2006-01-02 15:04:05"

// Columns of the trade export written by this tool and read back by the parser.
var Columns = []string{
	"Platform", "Trade ID", "Trading Pair", "Base Currency", "Quote Currency",
	"Price", "Date & Time", "Volume", "Total Cost", "Fee", "Type",
}

// Parser reads the tool's own trade export. Tax transaction exports carry the
// same leading columns and parse too.
type Parser struct {
	location *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{location: loc}
}

func (p *Parser) Parse(file io.Reader) ([]models.Trade, []models.RejectedRecord, error) {
	reader := csvutil.NewReader(file)
	header, err := csvutil.ReadHeader(reader, Columns...)
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
		if isBlank(record) {
			continue
		}

		trade, err := p.parseRecord(header, record)
		if err != nil {
			rejected = append(rejected, models.RejectedRecord{Line: line, TradeID: header.Get(record, "Trade ID"), Reason: err.Error()})
			continue
		}
		trades = append(trades, trade)
	}
	return trades, rejected, nil
}

func (p *Parser) parseRecord(h csvutil.Header, record []string) (models.Trade, error) {
	tradeType, err := models.ParseTradeType(h.Get(record, "Type"))
	if err != nil {
		return models.Trade{}, err
	}
	ts, err := time.ParseInLocation(DateTimeLayout, h.Get(record, "Date & Time"), p.location)
	if err != nil {
		return models.Trade{}, fmt.Errorf("invalid Date & Time %q", h.Get(record, "Date & Time"))
	}

	trade := models.Trade{
		Platform:      validation.SanitizeText(h.Get(record, "Platform")),
		TradeID:       validation.SanitizeText(h.Get(record, "Trade ID")),
		TradingPair:   validation.SanitizeText(h.Get(record, "Trading Pair")),
		BaseCurrency:  strings.ToUpper(validation.SanitizeText(h.Get(record, "Base Currency"))),
		QuoteCurrency: strings.ToUpper(validation.SanitizeText(h.Get(record, "Quote Currency"))),
		Timestamp:     ts,
		Type:          tradeType,
	}

	if trade.Price, err = csvutil.ParseDecimal(h.Get(record, "Price")); err != nil {
		return models.Trade{}, fmt.Errorf("Price: %w", err)
	}
	if trade.Volume, err = csvutil.ParseDecimal(h.Get(record, "Volume")); err != nil {
		return models.Trade{}, fmt.Errorf("Volume: %w", err)
	}
	if trade.TotalCost, err = csvutil.ParseDecimal(h.Get(record, "Total Cost")); err != nil {
		return models.Trade{}, fmt.Errorf("Total Cost: %w", err)
	}
	if trade.Fee, err = csvutil.ParseDecimal(h.Get(record, "Fee")); err != nil {
		return models.Trade{}, fmt.Errorf("Fee: %w", err)
	}

	if err := validation.ValidateCurrencyCode(trade.QuoteCurrency, "Quote Currency"); err != nil {
		return models.Trade{}, err
	}
	if err := trade.Validate(); err != nil {
		return models.Trade{}, err
	}
	return trade, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
