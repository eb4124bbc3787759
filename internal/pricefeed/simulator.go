package pricefeed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Float64Source yields uniform draws in [0, 1).
type Float64Source interface {
	Float64() float64
}

// Simulator moves every symbol's price by a bounded random step on each
// tick. It stands in for a market data stream in development.
type Simulator struct {
	feed       *MemoryFeed
	symbols    []string
	volatility decimal.Decimal
	rng        Float64Source
	now        func() time.Time
}

// NewSimulator seeds each symbol at seed cents and walks it by up to
// ±volatility per step.
func NewSimulator(feed *MemoryFeed, symbols []string, seed int64, volatility decimal.Decimal, rng Float64Source) *Simulator {
	s := &Simulator{
		feed:       feed,
		symbols:    symbols,
		volatility: volatility,
		rng:        rng,
		now:        time.Now,
	}
	now := s.now()
	for _, sym := range symbols {
		if _, ok := feed.Tick(sym); !ok {
			feed.Set(sym, seed, now)
		}
	}
	return s
}

// Step moves every symbol once.
func (s *Simulator) Step() {
	now := s.now()
	two := decimal.NewFromInt(2)
	for _, sym := range s.symbols {
		tick, ok := s.feed.Tick(sym)
		if !ok {
			continue
		}
		// draw in [-1, 1) scaled by volatility
		draw := decimal.NewFromFloat(s.rng.Float64()).Mul(two).Sub(decimal.NewFromInt(1))
		next := decimal.NewFromInt(tick.Price).Mul(decimal.NewFromInt(1).Add(draw.Mul(s.volatility))).Round(0).IntPart()
		if next < 1 {
			next = 1
		}
		s.feed.Set(sym, next, now)
	}
}

// Run steps every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}
