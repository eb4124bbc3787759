package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/engine"
	"github.com/iremturen/stofina-sub001/internal/store"
)

// Quotes exposes the latest price observation per symbol.
type Quotes interface {
	Tick(symbol string) (domain.PriceTick, bool)
}

// PriceResponse represents the response for GET /stocks/{symbol}/price.
type PriceResponse struct {
	Symbol         string
	MarketPrice    *int64     // nil until the feed quotes the symbol
	QuotedAt       *time.Time // nil until the feed quotes the symbol
	VWAP           *int64     // nil when no trades ever
	Window         string     // e.g. "5m"
	TradesInWindow int
	LastTradeAt    *time.Time // nil when no trades ever
}

// PhaseResponse represents the response for GET /market/phase.
type PhaseResponse struct {
	Phase     domain.MarketPhase
	Trading   bool
	NextClose *time.Time // nil without a calendar
	At        time.Time
}

// MarketService answers book, price and market phase queries.
type MarketService struct {
	books       *engine.BookManager
	trades      *store.TradeStore
	quotes      Quotes
	maintenance *engine.Maintenance
	calendar    *engine.Calendar
	symbols     *domain.SymbolRegistry
	vwapWindow  time.Duration
	now         func() time.Time
}

// NewMarketService creates a new MarketService with the given dependencies.
func NewMarketService(
	books *engine.BookManager,
	trades *store.TradeStore,
	quotes Quotes,
	maintenance *engine.Maintenance,
	calendar *engine.Calendar,
	symbols *domain.SymbolRegistry,
	vwapWindow time.Duration,
) *MarketService {
	return &MarketService{
		books:       books,
		trades:      trades,
		quotes:      quotes,
		maintenance: maintenance,
		calendar:    calendar,
		symbols:     symbols,
		vwapWindow:  vwapWindow,
		now:         time.Now,
	}
}

// GetBook returns the top depth levels per side of a symbol's book.
func (s *MarketService) GetBook(symbol string, depth int) (domain.BookSnapshot, error) {
	if !s.symbols.Exists(symbol) {
		return domain.BookSnapshot{}, domain.ErrSymbolNotFound
	}
	if depth < 1 || depth > 50 {
		return domain.BookSnapshot{}, &domain.ValidationError{
			Message: "depth must be between 1 and 50",
		}
	}
	return s.books.Snapshot(symbol, depth), nil
}

// GetPrice returns the feed's market price together with the VWAP of the
// venue's own trades over the configured window. The VWAP falls back to
// the last trade's price when the window is empty.
func (s *MarketService) GetPrice(_ context.Context, symbol string) (*PriceResponse, error) {
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotFound
	}

	resp := &PriceResponse{
		Symbol: symbol,
		Window: formatDuration(s.vwapWindow),
	}
	if tick, ok := s.quotes.Tick(symbol); ok {
		resp.MarketPrice = &tick.Price
		resp.QuotedAt = &tick.Timestamp
	}

	trades := s.trades.GetBySymbol(symbol)
	if len(trades) == 0 {
		return resp, nil
	}
	last := trades[len(trades)-1]
	resp.LastTradeAt = &last.ExecutedAt

	windowStart := s.now().Add(-s.vwapWindow)
	var sumPriceQty, sumQty int64
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.ExecutedAt.Before(windowStart) {
			break
		}
		sumPriceQty += t.Notional()
		sumQty += t.Quantity
		resp.TradesInWindow++
	}

	if sumQty > 0 {
		vwap := sumPriceQty / sumQty
		resp.VWAP = &vwap
	} else {
		resp.VWAP = &last.Price
	}
	return resp, nil
}

// GetPhase returns the current market phase.
func (s *MarketService) GetPhase() *PhaseResponse {
	now := s.now()
	phase := s.maintenance.Phase()
	resp := &PhaseResponse{Phase: phase, Trading: phase.Trading(), At: now}
	if s.calendar != nil {
		next := s.calendar.NextClose(now)
		resp.NextClose = &next
	}
	return resp
}

// formatDuration renders whole minutes as "5m" and anything else with
// time.Duration's own format.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	minutes := int(d.Minutes())
	if d == time.Duration(minutes)*time.Minute && minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return d.String()
}
