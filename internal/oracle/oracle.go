/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/metrics"
	"rwa-lending-go/internal/models"
)

var errInvalidPrice = errors.New("price must be positive")

// Adapter returns the latest quote for one asset
type Adapter interface {
	GetPrice(ctx context.Context, symbol string) (models.Quote, error)
}

// Config bounds which quotes are acceptable
type Config struct {
	MaxAge        time.Duration
	Timeout       time.Duration
	MinConfidence decimal.Decimal
}

// Feed builds immutable price snapshots from an adapter
type Feed struct {
	adapter Adapter
	cfg     Config
	now     func() time.Time
}

// NewFeed creates a feed. A zero MaxAge disables the staleness check.
func NewFeed(adapter Adapter, cfg Config) *Feed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Feed{adapter: adapter, cfg: cfg, now: time.Now}
}

// Snapshot fetches quotes for symbols concurrently and returns them only if
// every quote is acceptable. A single bad quote fails the whole snapshot.
func (f *Feed) Snapshot(ctx context.Context, symbols []string) (lending.Prices, error) {
	unique := dedupe(symbols)
	quotes := make([]models.Quote, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range unique {
		i, symbol := i, symbol
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, f.cfg.Timeout)
			defer cancel()

			q, err := f.adapter.GetPrice(callCtx, symbol)
			if err != nil {
				metrics.OracleQuoteErrors.WithLabelValues(symbol, "fetch").Inc()
				return fmt.Errorf("failed to get price for %s: %w", symbol, err)
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Warn("Price snapshot failed", zap.Strings("symbols", unique), zap.Error(err))
		return nil, err
	}

	now := f.now()
	prices := make(lending.Prices, len(unique))
	for i, symbol := range unique {
		if err := f.check(symbol, quotes[i], now); err != nil {
			zap.L().Warn("Rejected price quote",
				zap.String("symbol", symbol),
				zap.String("price", quotes[i].Price.String()),
				zap.Time("as_of", quotes[i].AsOf),
				zap.Error(err))
			return nil, err
		}
		prices[symbol] = quotes[i].Price
	}
	return prices, nil
}

func (f *Feed) check(symbol string, q models.Quote, now time.Time) error {
	if q.Symbol != "" && q.Symbol != symbol {
		metrics.OracleQuoteErrors.WithLabelValues(symbol, "symbol_mismatch").Inc()
		return fmt.Errorf("%w: asked for %s, got %s", lending.ErrMissingQuote, symbol, q.Symbol)
	}
	if !q.Price.IsPositive() {
		metrics.OracleQuoteErrors.WithLabelValues(symbol, "invalid").Inc()
		return fmt.Errorf("%s: %w", symbol, errInvalidPrice)
	}
	if f.cfg.MaxAge > 0 && now.Sub(q.AsOf) > f.cfg.MaxAge {
		metrics.OracleQuoteErrors.WithLabelValues(symbol, "stale").Inc()
		return fmt.Errorf("%w: %s quoted at %s, max age %s", lending.ErrStaleQuote, symbol,
			q.AsOf.Format(time.RFC3339), f.cfg.MaxAge)
	}
	if q.Confidence.LessThan(f.cfg.MinConfidence) {
		metrics.OracleQuoteErrors.WithLabelValues(symbol, "low_confidence").Inc()
		return fmt.Errorf("%w: %s confidence %s", lending.ErrLowConfidence, symbol, q.Confidence.String())
	}
	return nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// StaticAdapter serves operator-set prices stamped at read time. It backs
// markets whose prices are administered rather than streamed.
type StaticAdapter struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	now    func() time.Time
}

// NewStaticAdapter creates an adapter seeded with prices
func NewStaticAdapter(prices map[string]decimal.Decimal) *StaticAdapter {
	a := &StaticAdapter{prices: make(map[string]decimal.Decimal, len(prices)), now: time.Now}
	for s, p := range prices {
		a.prices[s] = p
	}
	return a
}

// Set replaces the price of symbol
func (a *StaticAdapter) Set(symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[symbol] = price
}

func (a *StaticAdapter) GetPrice(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, err
	}
	a.mu.RLock()
	price, ok := a.prices[symbol]
	a.mu.RUnlock()
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: %s", lending.ErrMissingQuote, symbol)
	}
	return models.Quote{Symbol: symbol, Price: price, AsOf: a.now(), Confidence: decimal.NewFromInt(1)}, nil
}
