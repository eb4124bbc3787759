package store

import (
	"sort"
	"sync"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// WatcherStore is a thread-safe in-memory store for stop-loss watchers.
// Watchers are soft-deleted, never removed. At most one live watcher
// exists per order.
type WatcherStore struct {
	mu       sync.RWMutex
	watchers map[string]*domain.StopLossWatcher // watcher_id → watcher
	byOrder  map[string][]string                // order_id → watcher ids (oldest first)
}

// NewWatcherStore creates an empty WatcherStore.
func NewWatcherStore() *WatcherStore {
	return &WatcherStore{
		watchers: make(map[string]*domain.StopLossWatcher),
		byOrder:  make(map[string][]string),
	}
}

// Create stores a new watcher. It returns domain.ErrWatcherExists if the
// order already has a live watcher.
func (s *WatcherStore) Create(w *domain.StopLossWatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byOrder[w.OrderID] {
		if s.watchers[id].Live() {
			return domain.ErrWatcherExists
		}
	}
	s.watchers[w.WatcherID] = w.Clone()
	s.byOrder[w.OrderID] = append(s.byOrder[w.OrderID], w.WatcherID)
	return nil
}

// Get retrieves a copy of a watcher by ID.
func (s *WatcherStore) Get(id string) (*domain.StopLossWatcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.watchers[id]
	if !ok {
		return nil, domain.ErrWatcherNotFound
	}
	return w.Clone(), nil
}

// GetByOrder returns the most recent watcher for an order.
func (s *WatcherStore) GetByOrder(orderID string) (*domain.StopLossWatcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOrder[orderID]
	if len(ids) == 0 {
		return nil, domain.ErrWatcherNotFound
	}
	return s.watchers[ids[len(ids)-1]].Clone(), nil
}

// Update replaces a stored watcher.
func (s *WatcherStore) Update(w *domain.StopLossWatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[w.WatcherID]; !ok {
		return domain.ErrWatcherNotFound
	}
	s.watchers[w.WatcherID] = w.Clone()
	return nil
}

// UntriggeredBySymbol returns live watchers for a symbol, oldest first.
func (s *WatcherStore) UntriggeredBySymbol(symbol string) []*domain.StopLossWatcher {
	return s.live(func(w *domain.StopLossWatcher) bool { return w.Symbol == symbol })
}

// Untriggered returns every live watcher, oldest first.
func (s *WatcherStore) Untriggered() []*domain.StopLossWatcher {
	return s.live(func(*domain.StopLossWatcher) bool { return true })
}

func (s *WatcherStore) live(keep func(*domain.StopLossWatcher) bool) []*domain.StopLossWatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.StopLossWatcher, 0)
	for _, w := range s.watchers {
		if w.Live() && keep(w) {
			out = append(out, w.Clone())
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
