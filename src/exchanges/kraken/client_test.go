package kraken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptotaxpl/src/models"
)

const docSecret = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="

func TestSignMatchesKrakenDocumentation(t *testing.T) {
	secret, err := base64.StdEncoding.DecodeString(docSecret)
	require.NoError(t, err)

	sig := Sign(secret, "/0/private/AddOrder", "1616492376594",
		"nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25")
	assert.Equal(t, "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==", sig)
}

func TestParseUnixSeconds(t *testing.T) {
	ts, err := parseUnixSeconds(json.Number("1704103200.1234"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 123400000, time.UTC), ts)

	_, err = parseUnixSeconds(json.Number("soon"))
	assert.Error(t, err)
}

const assetPairsJSON = `{"error":[],"result":{
	"XXBTZEUR":{"altname":"XBTEUR","wsname":"XBT/EUR","base":"XXBT","quote":"ZEUR"},
	"XETHZUSD":{"altname":"ETHUSD","wsname":"ETH/USD","base":"XETH","quote":"ZUSD"},
	"SOLPLN":{"altname":"SOLPLN","wsname":"SOL/PLN","base":"SOL","quote":"PLN"}
}}`

var historyPages = map[string]string{
	"0": `{"error":[],"result":{"count":3,"trades":{
		"TA-1":{"pair":"XXBTZEUR","time":1704103200.1234,"type":"buy","price":"40000.0","cost":"400.00","fee":"1.04","vol":"0.01"},
		"TA-2":{"pair":"XETHZUSD","time":1704106800,"type":"sell","price":"2300.00","cost":"230.00","fee":"0.60","vol":"0.1"}
	}}}`,
	"2": `{"error":[],"result":{"count":3,"trades":{
		"TA-3":{"pair":"XTZEUR","time":1704110400,"type":"sell","price":"1.0","cost":"50","fee":"0.1","vol":"50"}
	}}}`,
}

func newTestServer(t *testing.T, apiSecret string) (*httptest.Server, *[]string) {
	t.Helper()
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	require.NoError(t, err)
	var offsets []string

	mux := http.NewServeMux()
	mux.HandleFunc(assetPairsPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, assetPairsJSON)
	})
	mux.HandleFunc(tradesHistoryPath, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		assert.Equal(t, "key-1", r.Header.Get("API-Key"))
		assert.Equal(t, Sign(secret, tradesHistoryPath, form.Get("nonce"), string(body)), r.Header.Get("API-Sign"))

		offsets = append(offsets, form.Get("ofs"))
		page, ok := historyPages[form.Get("ofs")]
		if !ok {
			page = `{"error":[],"result":{"count":3,"trades":{}}}`
		}
		fmt.Fprint(w, page)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &offsets
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientDownloadTrades(t *testing.T) {
	server, offsets := newTestServer(t, docSecret)
	client, err := NewClient("Kraken 1", "key-1", docSecret, Options{BaseURL: server.URL, RequestsPerSecond: 1000}, quietLogger())
	require.NoError(t, err)

	trades, err := client.DownloadTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, []string{"0", "2"}, *offsets)

	first := trades[0]
	assert.Equal(t, "TA-1", first.TradeID)
	assert.Equal(t, "Kraken 1", first.Platform)
	assert.Equal(t, "BTC", first.BaseCurrency)
	assert.Equal(t, "EUR", first.QuoteCurrency)
	assert.Equal(t, models.TradeTypeBuy, first.Type)
	assert.Equal(t, "1.04", first.Fee.String())
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 123400000, time.UTC), first.Timestamp)

	assert.Equal(t, "USD", trades[1].QuoteCurrency)
	assert.Equal(t, "XTZ", trades[2].BaseCurrency, "unknown pair falls back to splitting the id")
}

func TestClientQuoteFilter(t *testing.T) {
	server, _ := newTestServer(t, docSecret)
	client, err := NewClient("Kraken 1", "key-1", docSecret, Options{
		BaseURL: server.URL, RequestsPerSecond: 1000, FilterQuoteAssets: []string{"ZEUR"},
	}, quietLogger())
	require.NoError(t, err)

	pairs, err := client.AssetPairs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, pairs, "XXBTZEUR")
	assert.Contains(t, pairs, "XBTEUR")
	assert.NotContains(t, pairs, "XETHZUSD")

	trades, err := client.DownloadTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "TA-1", trades[0].TradeID)
}

func TestClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":["EAPI:Invalid key"]}`)
	}))
	defer server.Close()

	client, err := NewClient("Kraken 1", "key-1", docSecret, Options{BaseURL: server.URL, RequestsPerSecond: 1000}, quietLogger())
	require.NoError(t, err)

	_, err = client.DownloadTrades(context.Background())
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "EAPI:Invalid key")
}

func TestNewClientRejectsBadSecret(t *testing.T) {
	_, err := NewClient("Kraken 1", "key", "not base64!", Options{}, quietLogger())
	assert.Error(t, err)
}
