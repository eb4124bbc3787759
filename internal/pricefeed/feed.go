// Package pricefeed holds the reference market prices the matching engine
// checks orders against, and fans price ticks out to subscribers such as
// the stop-loss monitor.
package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Feed is a source of reference prices.
type Feed interface {
	CurrentPrice(ctx context.Context, symbol string) (int64, error)
	IsWithinRange(ctx context.Context, symbol string, price int64, tolerance decimal.Decimal) (bool, error)
}

// MemoryFeed keeps the last price per symbol. Every Set is published as a
// tick to all subscribers; a subscriber whose buffer is full misses the
// tick rather than stalling the feed.
type MemoryFeed struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceTick
	subs   map[int]chan domain.PriceTick
	nextID int
	logger *slog.Logger
}

// NewMemoryFeed creates an empty feed. logger may be nil.
func NewMemoryFeed(logger *slog.Logger) *MemoryFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryFeed{
		prices: make(map[string]domain.PriceTick),
		subs:   make(map[int]chan domain.PriceTick),
		logger: logger,
	}
}

// Set records a price observation. Ticks older than the current one for
// the symbol are ignored.
func (f *MemoryFeed) Set(symbol string, price int64, at time.Time) error {
	if price <= 0 {
		return &domain.ValidationError{Message: fmt.Sprintf("price for %s must be positive", symbol)}
	}
	tick := domain.PriceTick{Symbol: symbol, Price: price, Timestamp: at}

	// Sends never block, so they happen under the lock that also guards
	// unsubscribing.
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.prices[symbol]; ok && at.Before(prev.Timestamp) {
		return nil
	}
	f.prices[symbol] = tick
	for _, ch := range f.subs {
		select {
		case ch <- tick:
		default:
			f.logger.Warn("price tick dropped for slow subscriber",
				slog.String("symbol", symbol),
				slog.Int64("price", price),
			)
		}
	}
	return nil
}

// Apply records a decoded tick.
func (f *MemoryFeed) Apply(tick domain.PriceTick) error {
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now()
	}
	return f.Set(tick.Symbol, tick.Price, tick.Timestamp)
}

// CurrentPrice returns the last price, or domain.ErrNoMarketPrice.
func (f *MemoryFeed) CurrentPrice(_ context.Context, symbol string) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tick, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w for %s", domain.ErrNoMarketPrice, symbol)
	}
	return tick.Price, nil
}

// Tick returns the last observation for symbol.
func (f *MemoryFeed) Tick(symbol string) (domain.PriceTick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tick, ok := f.prices[symbol]
	return tick, ok
}

// IsWithinRange reports whether price deviates from the current price by
// no more than tolerance.
func (f *MemoryFeed) IsWithinRange(ctx context.Context, symbol string, price int64, tolerance decimal.Decimal) (bool, error) {
	market, err := f.CurrentPrice(ctx, symbol)
	if err != nil {
		return false, err
	}
	return domain.WithinTolerance(price, market, tolerance), nil
}

// Subscribe returns a channel receiving every subsequent tick and a
// function that unsubscribes and closes it.
func (f *MemoryFeed) Subscribe(buffer int) (<-chan domain.PriceTick, func()) {
	ch := make(chan domain.PriceTick, buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}
