package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/store"
)

type expiryEntry struct {
	orderID   string
	expiresAt time.Time
}

// ExpiryManager tracks orders that carry an expiry, sorted by expires_at,
// and retires the due ones through the Matcher on each Tick.
type ExpiryManager struct {
	matcher *Matcher
	orders  *store.OrderStore
	logger  *slog.Logger

	mu      sync.Mutex
	pending []expiryEntry // sorted by expires_at ASC
}

// NewExpiryManager creates a new ExpiryManager. logger may be nil.
func NewExpiryManager(matcher *Matcher, orders *store.OrderStore, logger *slog.Logger) *ExpiryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryManager{
		matcher: matcher,
		orders:  orders,
		logger:  logger,
		pending: make([]expiryEntry, 0),
	}
}

// Add inserts an order into the sorted pending slice, maintaining
// expires_at ASC order. Orders without an expiry are ignored.
func (e *ExpiryManager) Add(order *domain.Order) {
	if order.ExpiresAt == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insert(expiryEntry{orderID: order.OrderID, expiresAt: *order.ExpiresAt})
}

func (e *ExpiryManager) insert(entry expiryEntry) {
	// Binary search for the insertion point.
	idx := sort.Search(len(e.pending), func(i int) bool {
		return e.pending[i].expiresAt.After(entry.expiresAt)
	})
	e.pending = append(e.pending, expiryEntry{})
	copy(e.pending[idx+1:], e.pending[idx:])
	e.pending[idx] = entry
}

// Remove deletes an order from the pending slice by order ID.
func (e *ExpiryManager) Remove(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, entry := range e.pending {
		if entry.orderID == orderID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// Rebuild reloads the pending slice from every non-terminal order in the
// store that carries an expiry.
func (e *ExpiryManager) Rebuild() {
	orders := e.orders.Expirable()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = make([]expiryEntry, 0, len(orders))
	for _, o := range orders {
		e.pending = append(e.pending, expiryEntry{orderID: o.OrderID, expiresAt: *o.ExpiresAt})
	}
}

// Tick pops every entry with expires_at <= now from the front of the
// pending slice and expires the corresponding orders, together with any
// due order the store still holds open. The store query picks up orders
// whose earlier expiry attempt failed, so a failure is retried on the next
// Tick. Orders that already reached a terminal state are skipped. It
// returns the number of orders retired.
func (e *ExpiryManager) Tick(ctx context.Context, now time.Time) (int, error) {
	e.mu.Lock()
	cutoff := 0
	for cutoff < len(e.pending) && !e.pending[cutoff].expiresAt.After(now) {
		cutoff++
	}
	due := make([]expiryEntry, cutoff, cutoff+4)
	copy(due, e.pending[:cutoff])
	e.pending = e.pending[cutoff:]
	e.mu.Unlock()

	seen := make(map[string]bool, len(due))
	for _, entry := range due {
		seen[entry.orderID] = true
	}
	for _, o := range e.orders.ExpiredBefore(now) {
		if !seen[o.OrderID] {
			due = append(due, expiryEntry{orderID: o.OrderID, expiresAt: *o.ExpiresAt})
		}
	}

	var errs []error
	retired := 0
	for _, entry := range due {
		changed, err := e.matcher.ExpireOrder(ctx, entry.orderID, now)
		if changed {
			retired++
		}
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			errs = append(errs, fmt.Errorf("expire %s: %w", entry.orderID, err))
		}
	}
	if retired > 0 {
		e.logger.Info("orders expired", slog.Int("count", retired))
	}
	return retired, errors.Join(errs...)
}

// PendingCount returns the number of orders currently tracked for
// expiration.
func (e *ExpiryManager) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
