package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Tier is one price-distance band of synthetic display liquidity. Count
// orders are placed on each side, offset from the reference price by a
// fraction drawn uniformly from [MinOffset, MaxOffset).
type Tier struct {
	MinOffset decimal.Decimal
	MaxOffset decimal.Decimal
	Count     int
	MinQty    int64
	MaxQty    int64
}

// DefaultTiers seeds ±0.5%, 0.5–1% and 1–3% bands.
var DefaultTiers = []Tier{
	{MinOffset: decimal.Zero, MaxOffset: decimal.RequireFromString("0.005"), Count: 15, MinQty: 500, MaxQty: 2000},
	{MinOffset: decimal.RequireFromString("0.005"), MaxOffset: decimal.RequireFromString("0.01"), Count: 5, MinQty: 200, MaxQty: 800},
	{MinOffset: decimal.RequireFromString("0.01"), MaxOffset: decimal.RequireFromString("0.03"), Count: 5, MinQty: 100, MaxQty: 500},
}

// DisplayBookGenerator rebuilds a symbol's book from tiered synthetic
// liquidity plus the symbol's resting user orders. Rebuilds replace the
// book wholesale under the symbol's write lock, so they never interleave
// with a matching evaluation.
type DisplayBookGenerator struct {
	books *BookManager
	rng   RandomSource
	tiers []Tier
	now   func() time.Time
}

// NewDisplayBookGenerator creates a generator. A nil tiers slice selects
// DefaultTiers.
func NewDisplayBookGenerator(books *BookManager, rng RandomSource, tiers []Tier) *DisplayBookGenerator {
	if tiers == nil {
		tiers = DefaultTiers
	}
	return &DisplayBookGenerator{
		books: books,
		rng:   rng,
		tiers: tiers,
		now:   time.Now,
	}
}

// RestingLoader returns a symbol's resting user orders.
type RestingLoader func(symbol string) []*domain.Order

// Regenerate replaces the symbol's book with fresh tiers around
// referencePrice. Resting priced user orders are carried over so the book
// keeps showing them; everything else, bot counter-orders included, is
// discarded. load runs under the symbol's write lock so the carried orders
// cannot go stale before the book is replaced. A nil load carries nothing.
func (g *DisplayBookGenerator) Regenerate(symbol string, referencePrice int64, load RestingLoader) error {
	if referencePrice <= 0 {
		return fmt.Errorf("regenerate %s: reference price must be positive, got %d", symbol, referencePrice)
	}

	orders := g.generate(symbol, referencePrice)

	book := g.books.GetOrCreate(symbol)
	book.Lock()
	defer book.Unlock()
	if load != nil {
		for _, o := range load(symbol) {
			if o.Symbol == symbol && o.Status.IsResting() && o.HasPrice() && o.RemainingQuantity() > 0 {
				orders = append(orders, o.DisplayOrder())
			}
		}
	}
	book.reset(orders)
	return nil
}

// Clear empties the symbol's book.
func (g *DisplayBookGenerator) Clear(symbol string) {
	book := g.books.GetOrCreate(symbol)
	book.Lock()
	book.reset(nil)
	book.Unlock()
}

func (g *DisplayBookGenerator) generate(symbol string, ref int64) []domain.DisplayOrder {
	now := g.now()
	var out []domain.DisplayOrder
	for _, tier := range g.tiers {
		width := tier.MaxOffset.Sub(tier.MinOffset)
		for i := 0; i < tier.Count; i++ {
			for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
				offset := tier.MinOffset.Add(width.Mul(decimal.NewFromFloat(g.rng.Float64())))
				out = append(out, domain.DisplayOrder{
					OrderID:   "display-" + uuid.NewString(),
					Symbol:    symbol,
					Side:      side,
					Price:     tierPrice(ref, side, offset),
					Quantity:  g.rng.Int64Range(tier.MinQty, tier.MaxQty),
					IsBot:     true,
					CreatedAt: now,
				})
			}
		}
	}
	return out
}

// tierPrice places bids strictly below and asks strictly above ref, never
// below one cent.
func tierPrice(ref int64, side domain.OrderSide, offset decimal.Decimal) int64 {
	if side == domain.OrderSideBuy {
		p := domain.ScalePrice(ref, offset.Neg())
		if p >= ref {
			p = ref - 1
		}
		return max(p, 1)
	}
	p := domain.ScalePrice(ref, offset)
	if p <= ref {
		p = ref + 1
	}
	return p
}
