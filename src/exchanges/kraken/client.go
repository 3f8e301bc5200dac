// src/exchanges/kraken/client.go
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
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
	krakencsv "github.com/username/cryptotaxpl/src/parsers/kraken"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.kraken.com"

	tradesHistoryPath = "/0/private/TradesHistory"
	assetPairsPath    = "/0/public/AssetPairs"
)

var ErrAPI = errors.New("kraken API error")

type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type assetPair struct {
	Altname string `json:"altname"`
	Wsname  string `json:"wsname"`
}

type tradesHistory struct {
	Trades map[string]tradeEntry `json:"trades"`
	Count  int                   `json:"count"`
}

type tradeEntry struct {
	Pair  string          `json:"pair"`
	Time  json.Number     `json:"time"`
	Type  string          `json:"type"`
	Price decimal.Decimal `json:"price"`
	Cost  decimal.Decimal `json:"cost"`
	Fee   decimal.Decimal `json:"fee"`
	Vol   decimal.Decimal `json:"vol"`
}

// Options tune a Client. Zero values get defaults.
type Options struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	// FilterQuoteAssets restricts downloads to pairs quoted in these assets. Empty means all.
	FilterQuoteAssets []string
}

// Client downloads the spot trade history of one Kraken account.
type Client struct {
	name        string
	apiKey      string
	secret      []byte
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	quoteFilter map[string]bool
	logger      *slog.Logger

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewClient expects the base64 encoded private key exactly as Kraken issues it.
func NewClient(name, apiKey, apiSecret string, opts Options, logger *slog.Logger) (*Client, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("kraken account %q: API secret is not valid base64: %w", name, err)
	}
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
		opts.RequestsPerSecond = 0.5
	}
	var filter map[string]bool
	if len(opts.FilterQuoteAssets) > 0 {
		filter = make(map[string]bool, len(opts.FilterQuoteAssets))
		for _, q := range opts.FilterQuoteAssets {
			filter[krakencsv.NormalizeAsset(q)] = true
		}
	}
	return &Client{
		name:        name,
		apiKey:      apiKey,
		secret:      secret,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		quoteFilter: filter,
		logger:      logger.With("exchange", "kraken", "account", name),
	}, nil
}

func (c *Client) Name() string { return c.name }

// DownloadTrades pages through the whole trade history with the ofs parameter.
func (c *Client) DownloadTrades(ctx context.Context) ([]models.Trade, error) {
	pairs, err := c.AssetPairs(ctx)
	if err != nil {
		return nil, err
	}

	var trades []models.Trade
	offset := 0
	for {
		page, err := c.tradesHistory(ctx, offset)
		if err != nil {
			return nil, err
		}
		if len(page.Trades) == 0 {
			break
		}

		txids := make([]string, 0, len(page.Trades))
		for txid := range page.Trades {
			txids = append(txids, txid)
		}
		sort.Strings(txids)
		for _, txid := range txids {
			trade, ok, err := c.toTrade(txid, page.Trades[txid], pairs)
			if err != nil {
				return nil, err
			}
			if ok {
				trades = append(trades, trade)
			}
		}

		offset += len(page.Trades)
		c.logger.Debug("Downloaded trades page", "offset", offset, "count", page.Count)
		if page.Count > 0 && offset >= page.Count {
			break
		}
	}

	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })
	c.logger.Info("Kraken download complete", "trades", len(trades))
	return trades, nil
}

// AssetPairs maps Kraken pair ids to normalized base and quote assets using wsname.
// Pairs outside the quote filter are left out.
func (c *Client) AssetPairs(ctx context.Context) (map[string]models.Pair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+assetPairsPath, nil)
	if err != nil {
		return nil, err
	}
	var result map[string]assetPair
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("asset pairs: %w", err)
	}

	pairs := make(map[string]models.Pair, len(result))
	for id, info := range result {
		base, quote, ok := strings.Cut(info.Wsname, "/")
		if !ok {
			continue
		}
		pair := models.Pair{
			Symbol:        id,
			BaseCurrency:  krakencsv.NormalizeAsset(base),
			QuoteCurrency: krakencsv.NormalizeAsset(quote),
		}
		if c.quoteFilter != nil && !c.quoteFilter[pair.QuoteCurrency] {
			continue
		}
		pairs[id] = pair
		if info.Altname != "" {
			pairs[info.Altname] = pair
		}
	}
	c.logger.Debug("Mapped asset pairs", "count", len(pairs))
	return pairs, nil
}

func (c *Client) toTrade(txid string, e tradeEntry, pairs map[string]models.Pair) (models.Trade, bool, error) {
	pair, known := pairs[e.Pair]
	if !known {
		if c.quoteFilter != nil {
			return models.Trade{}, false, nil
		}
		base, quote, ok := krakencsv.SplitPair(e.Pair)
		if !ok {
			c.logger.Warn("No pair info found, skipping trade", "pair", e.Pair, "txid", txid)
			return models.Trade{}, false, nil
		}
		pair = models.Pair{Symbol: e.Pair, BaseCurrency: base, QuoteCurrency: quote}
	}

	ts, err := parseUnixSeconds(e.Time)
	if err != nil {
		return models.Trade{}, false, fmt.Errorf("trade %s: %w", txid, err)
	}
	tradeType, err := models.ParseTradeType(e.Type)
	if err != nil {
		return models.Trade{}, false, fmt.Errorf("trade %s: %w", txid, err)
	}
	trade := models.Trade{
		Platform:      c.name,
		TradeID:       txid,
		TradingPair:   e.Pair,
		BaseCurrency:  pair.BaseCurrency,
		QuoteCurrency: pair.QuoteCurrency,
		Price:         e.Price,
		Volume:        e.Vol,
		TotalCost:     e.Cost,
		Fee:           e.Fee,
		Timestamp:     ts,
		Type:          tradeType,
	}
	if err := trade.Validate(); err != nil {
		return models.Trade{}, false, err
	}
	return trade, true, nil
}

func (c *Client) tradesHistory(ctx context.Context, offset int) (*tradesHistory, error) {
	form := url.Values{}
	form.Set("nonce", strconv.FormatInt(c.nextNonce(), 10))
	form.Set("ofs", strconv.Itoa(offset))
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tradesHistoryPath, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", Sign(c.secret, tradesHistoryPath, form.Get("nonce"), body))

	var page tradesHistory
	if err := c.do(req, &page); err != nil {
		return nil, fmt.Errorf("trades history at offset %d: %w", offset, err)
	}
	return &page, nil
}

func (c *Client) do(req *http.Request, result any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: status %d, undecodable body: %v", ErrAPI, resp.StatusCode, err)
	}
	if len(envelope.Error) > 0 {
		return fmt.Errorf("%w: %s", ErrAPI, strings.Join(envelope.Error, "; "))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}
	return json.Unmarshal(envelope.Result, result)
}

// nextNonce is strictly increasing even when called twice in the same millisecond.
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := time.Now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// Sign computes API-Sign: base64(HMAC-SHA512(secret, path + SHA256(nonce + body))).
func Sign(secret []byte, path, nonce, body string) string {
	sum := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// parseUnixSeconds converts Kraken's fractional epoch seconds without going through float64.
func parseUnixSeconds(n json.Number) (time.Time, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", n)
	}
	secs := d.IntPart()
	nanos := d.Sub(decimal.NewFromInt(secs)).Shift(9).IntPart()
	return time.Unix(secs, nanos).UTC(), nil
}
