// src/exchanges/binance/client.go
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotaxpl/src/models"
	binancecsv "github.com/username/cryptotaxpl/src/parsers/binance"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.binance.com"

	// myTrades page size, the maximum Binance accepts.
	pageLimit = 1000
	// Subtracted from the server clock offset to stay clear of -1021 timestamp errors.
	clockSafetyMargin = time.Second
	// Returned for symbols that were delisted or never traded by the account's region.
	codeInvalidSymbol = -1121
)

var ErrAPI = errors.New("binance API error")

// APIError is an error payload returned by Binance. It matches ErrAPI with errors.Is.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %d: %s", ErrAPI, e.Code, e.Msg)
}

func (e *APIError) Is(target error) bool { return target == ErrAPI }

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

type myTrade struct {
	Symbol          string          `json:"symbol"`
	ID              int64           `json:"id"`
	OrderID         int64           `json:"orderId"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            int64           `json:"time"`
	IsBuyer         bool            `json:"isBuyer"`
}

// Options tune a Client. Zero values get defaults.
type Options struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	MaxWorkers        int
	FilterQuoteAssets []string
}

// Client downloads the spot trade history of one Binance account.
type Client struct {
	name        string
	apiKey      string
	secret      []byte
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxWorkers  int
	quoteFilter map[string]bool
	logger      *slog.Logger

	offsetOnce  sync.Once
	clockOffset time.Duration
	offsetErr   error
}

func NewClient(name, apiKey, apiSecret string, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 2
	}
	var filter map[string]bool
	if len(opts.FilterQuoteAssets) > 0 {
		filter = make(map[string]bool, len(opts.FilterQuoteAssets))
		for _, q := range opts.FilterQuoteAssets {
			filter[strings.ToUpper(strings.TrimSpace(q))] = true
		}
	}
	return &Client{
		name:        name,
		apiKey:      apiKey,
		secret:      []byte(apiSecret),
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		maxWorkers:  opts.MaxWorkers,
		quoteFilter: filter,
		logger:      logger.With("exchange", "binance", "account", name),
	}
}

func (c *Client) Name() string { return c.name }

// DownloadTrades fetches myTrades for every trading symbol, a bounded number of symbols at a
// time. Any failing symbol fails the download, except symbols Binance reports as invalid.
func (c *Client) DownloadTrades(ctx context.Context) ([]models.Trade, error) {
	pairs, err := c.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.syncClock(ctx); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(pairs))
	for s := range pairs {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	results := make([][]models.Trade, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			trades, err := c.symbolTrades(gctx, pairs[symbol])
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
					c.logger.Warn("Skipping symbol rejected as invalid", "symbol", symbol, "error", err)
					return nil
				}
				c.logger.Error("Error retrieving trades for symbol", "symbol", symbol, "error", err)
				return fmt.Errorf("symbol %s: %w", symbol, err)
			}
			results[i] = trades
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Trade
	for _, r := range results {
		all = append(all, r...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	c.logger.Info("Binance download complete", "symbols", len(symbols), "trades", len(all))
	return all, nil
}

// Symbols lists TRADING spot symbols, restricted to the quote filter when one is set.
func (c *Client) Symbols(ctx context.Context) (map[string]models.Pair, error) {
	var info exchangeInfo
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, false, &info); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	pairs := make(map[string]models.Pair)
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if c.quoteFilter != nil && !c.quoteFilter[s.QuoteAsset] {
			continue
		}
		pairs[s.Symbol] = models.Pair{Symbol: s.Symbol, BaseCurrency: s.BaseAsset, QuoteCurrency: s.QuoteAsset}
	}
	c.logger.Debug("Mapped symbols", "count", len(pairs))
	return pairs, nil
}

func (c *Client) symbolTrades(ctx context.Context, pair models.Pair) ([]models.Trade, error) {
	var trades []models.Trade
	var fromID int64 = -1
	for {
		params := url.Values{}
		params.Set("symbol", pair.Symbol)
		params.Set("limit", strconv.Itoa(pageLimit))
		if fromID >= 0 {
			params.Set("fromId", strconv.FormatInt(fromID, 10))
		}
		var page []myTrade
		if err := c.get(ctx, "/api/v3/myTrades", params, true, &page); err != nil {
			return nil, err
		}
		for _, t := range page {
			trade, err := c.toTrade(t, pair)
			if err != nil {
				return nil, err
			}
			trades = append(trades, trade)
		}
		if len(page) < pageLimit {
			return trades, nil
		}
		fromID = page[len(page)-1].ID + 1
	}
}

func (c *Client) toTrade(t myTrade, pair models.Pair) (models.Trade, error) {
	tradeType := models.TradeTypeSell
	if t.IsBuyer {
		tradeType = models.TradeTypeBuy
	}
	trade := models.Trade{
		Platform:      c.name,
		TradeID:       strconv.FormatInt(t.ID, 10),
		TradingPair:   pair.Symbol,
		BaseCurrency:  pair.BaseCurrency,
		QuoteCurrency: pair.QuoteCurrency,
		Price:         t.Price,
		Volume:        t.Qty,
		TotalCost:     t.Qty.Mul(t.Price),
		Fee:           binancecsv.FeeInQuote(t.Commission, t.CommissionAsset, pair.QuoteCurrency),
		Timestamp:     time.UnixMilli(t.Time).UTC(),
		Type:          tradeType,
	}
	return trade, trade.Validate()
}

// syncClock records the server clock offset once per client.
func (c *Client) syncClock(ctx context.Context) error {
	c.offsetOnce.Do(func() {
		var st struct {
			ServerTime int64 `json:"serverTime"`
		}
		if err := c.get(ctx, "/api/v3/time", nil, false, &st); err != nil {
			c.offsetErr = fmt.Errorf("server time: %w", err)
			return
		}
		c.clockOffset = time.UnixMilli(st.ServerTime).Sub(time.Now()) - clockSafetyMargin
		c.logger.Debug("Synchronized with server clock", "offset", c.clockOffset)
	})
	return c.offsetErr
}

func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, result any) error {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().Add(c.clockOffset).UnixMilli(), 10))
		params.Set("recvWindow", "10000")
		query = params.Encode()
		query += "&signature=" + Sign(c.secret, query)
	}

	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{}
		if json.Unmarshal(body, apiErr) == nil && apiErr.Msg != "" {
			return apiErr
		}
		return fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// Sign returns the hex HMAC-SHA256 of the query string.
func Sign(secret []byte, query string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
