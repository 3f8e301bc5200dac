// src/exchanges/exchange.go
package exchanges

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/username/cryptotaxpl/src/config"
	"github.com/username/cryptotaxpl/src/exchanges/binance"
	"github.com/username/cryptotaxpl/src/exchanges/kraken"
	"github.com/username/cryptotaxpl/src/models"
	"golang.org/x/sync/errgroup"
)

// Collector downloads the complete trade history of one exchange account.
type Collector interface {
	Name() string
	DownloadTrades(ctx context.Context) ([]models.Trade, error)
}

// NewCollectors builds one collector per configured account.
func NewCollectors(cfg *config.AppConfig, logger *slog.Logger) ([]Collector, error) {
	var collectors []Collector
	for _, a := range cfg.Accounts {
		switch a.Exchange {
		case config.ExchangeKraken:
			c, err := kraken.NewClient(a.Name, a.APIKey, a.APISecret, kraken.Options{
				FilterQuoteAssets: cfg.FilterQuoteAssets,
			}, logger)
			if err != nil {
				return nil, err
			}
			collectors = append(collectors, c)
		case config.ExchangeBinance:
			collectors = append(collectors, binance.NewClient(a.Name, a.APIKey, a.APISecret, binance.Options{
				MaxWorkers:        cfg.MaxConcurrentSymbols,
				FilterQuoteAssets: cfg.FilterQuoteAssets,
			}, logger))
		default:
			return nil, fmt.Errorf("%w: account %q has unknown exchange %q", config.ErrInvalidConfig, a.Name, a.Exchange)
		}
	}
	return collectors, nil
}

// DownloadAll runs every collector concurrently. Any failing account fails the whole
// download, since a partial history would understate costs or income.
func DownloadAll(ctx context.Context, collectors []Collector, logger *slog.Logger) ([]models.Trade, error) {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([][]models.Trade, len(collectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range collectors {
		i, c := i, c
		g.Go(func() error {
			start := time.Now()
			logger.Info("Downloading trades", "account", c.Name())
			trades, err := c.DownloadTrades(gctx)
			if err != nil {
				return fmt.Errorf("account %q: %w", c.Name(), err)
			}
			logger.Info("Downloaded trades", "account", c.Name(), "count", len(trades), "duration", time.Since(start))
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
	return all, nil
}
