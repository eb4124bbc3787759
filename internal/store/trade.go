package store

import (
	"fmt"
	"sync"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Journal is durable append-only trade storage replayed at startup.
type Journal interface {
	Append(t *domain.Trade) error
	Replay(fn func(*domain.Trade) error) error
	Close() error
}

// TradeStore is a thread-safe in-memory store for trades,
// keyed by symbol. Trades are append-only and chronological.
// When a Journal is attached every Append is written through to it first.
type TradeStore struct {
	mu      sync.RWMutex
	trades  map[string][]*domain.Trade // symbol → trades (chronological)
	refs    map[string]struct{}        // trade references seen
	journal Journal
}

// NewTradeStore creates an empty TradeStore. journal may be nil.
func NewTradeStore(journal Journal) *TradeStore {
	return &TradeStore{
		trades:  make(map[string][]*domain.Trade),
		refs:    make(map[string]struct{}),
		journal: journal,
	}
}

// Load replays the journal into memory. It is a no-op without a journal.
func (s *TradeStore) Load() error {
	if s.journal == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.journal.Replay(func(t *domain.Trade) error {
		s.appendLocked(t)
		return nil
	})
}

// Append adds a trade to its symbol's chronological list. Trade
// references are globally unique; a duplicate is rejected.
func (s *TradeStore) Append(t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.refs[t.Reference]; dup {
		return fmt.Errorf("duplicate trade reference %s", t.Reference)
	}
	if s.journal != nil {
		if err := s.journal.Append(t); err != nil {
			return fmt.Errorf("journal trade %s: %w", t.TradeID, err)
		}
	}
	s.appendLocked(t)
	return nil
}

func (s *TradeStore) appendLocked(t *domain.Trade) {
	s.trades[t.Symbol] = append(s.trades[t.Symbol], t)
	s.refs[t.Reference] = struct{}{}
}

// GetBySymbol returns all trades for a symbol in chronological order.
// Returns an empty slice if no trades exist for the symbol.
func (s *TradeStore) GetBySymbol(symbol string) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[symbol]
	if trades == nil {
		return []*domain.Trade{}
	}

	// Return a copy to avoid callers mutating the internal slice.
	result := make([]*domain.Trade, len(trades))
	copy(result, trades)
	return result
}

// Last returns the most recent trade for a symbol.
func (s *TradeStore) Last(symbol string) (*domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[symbol]
	if len(trades) == 0 {
		return nil, false
	}
	return trades[len(trades)-1], true
}
