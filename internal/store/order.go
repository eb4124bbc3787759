package store

import (
	"sort"
	"sync"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// OrderStore is a thread-safe in-memory store for orders, with a primary
// index by order_id and secondary indexes by account_id and symbol.
//
// Orders are copied on the way in and out, so callers never share state
// with the store. Update enforces optimistic concurrency on Version.
type OrderStore struct {
	mu            sync.RWMutex
	orders        map[string]*domain.Order
	accountOrders map[string][]string            // account_id → order ids (append-only)
	symbolOrders  map[string]map[string]struct{} // symbol → order ids
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:        make(map[string]*domain.Order),
		accountOrders: make(map[string][]string),
		symbolOrders:  make(map[string]map[string]struct{}),
	}
}

// Create adds a new order at version 1. It returns
// domain.ErrOrderExists if the id is already taken.
func (s *OrderStore) Create(o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.OrderID]; exists {
		return domain.ErrOrderExists
	}
	o.Version = 1
	s.orders[o.OrderID] = o.Clone()
	s.accountOrders[o.AccountID] = append(s.accountOrders[o.AccountID], o.OrderID)
	if s.symbolOrders[o.Symbol] == nil {
		s.symbolOrders[o.Symbol] = make(map[string]struct{})
	}
	s.symbolOrders[o.Symbol][o.OrderID] = struct{}{}
	return nil
}

// Get retrieves a copy of an order by ID. It returns
// domain.ErrOrderNotFound if the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// Update writes o if its Version matches the stored version, then bumps
// the version on both the stored copy and o. A mismatch returns
// *domain.ConcurrencyConflictError and leaves the store untouched.
func (s *OrderStore) Update(o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.OrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if cur.Version != o.Version {
		return &domain.ConcurrencyConflictError{
			OrderID:  o.OrderID,
			Expected: o.Version,
			Actual:   cur.Version,
		}
	}
	o.Version++
	s.orders[o.OrderID] = o.Clone()
	return nil
}

// ListByAccount returns orders for an account in reverse chronological order
// (newest first). If status is non-nil, only orders matching that status
// are included. Pagination is 1-based. Returns the matching orders for the
// requested page and the total count of matching orders (before pagination).
func (s *OrderStore) ListByAccount(accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.accountOrders[accountID]

	filtered := make([]*domain.Order, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		o := s.orders[ids[i]]
		if status != nil && o.Status != *status {
			continue
		}
		filtered = append(filtered, o)
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]*domain.Order, 0, end-start)
	for _, o := range filtered[start:end] {
		out = append(out, o.Clone())
	}
	return out, total
}

// ActiveBySymbol returns ACTIVE and PARTIALLY_FILLED orders for a symbol,
// oldest first (created_at ascending, then order_id).
func (s *OrderStore) ActiveBySymbol(symbol string) []*domain.Order {
	return s.bySymbol(symbol, func(o *domain.Order) bool {
		return o.Status.IsResting()
	})
}

// MatchableBySymbol returns NEW, ACTIVE and PARTIALLY_FILLED orders for a
// symbol, oldest first. NEW orders appear here when their first pass found
// no market price.
func (s *OrderStore) MatchableBySymbol(symbol string) []*domain.Order {
	return s.bySymbol(symbol, func(o *domain.Order) bool {
		return o.Status.IsMatchable()
	})
}

// ExpiredBefore returns non-terminal orders whose expiry is at or before now,
// earliest expiry first.
func (s *OrderStore) ExpiredBefore(now time.Time) []*domain.Order {
	out := s.filter(func(o *domain.Order) bool {
		return !o.Status.IsTerminal() && o.Expired(now)
	})
	sortByExpiry(out)
	return out
}

// Expirable returns every non-terminal order that carries an expiry.
func (s *OrderStore) Expirable() []*domain.Order {
	out := s.filter(func(o *domain.Order) bool {
		return !o.Status.IsTerminal() && o.ExpiresAt != nil
	})
	sortByExpiry(out)
	return out
}

func (s *OrderStore) bySymbol(symbol string, keep func(*domain.Order) bool) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for id := range s.symbolOrders[symbol] {
		o := s.orders[id]
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

func (s *OrderStore) filter(keep func(*domain.Order) bool) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func sortByExpiry(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i].ExpiresAt, orders[j].ExpiresAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return orders[i].OrderID < orders[j].OrderID
	})
}
