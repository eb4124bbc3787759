package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/store"
)

// watcherRef is an index entry; watcher state lives in the WatcherStore.
type watcherRef struct {
	watcherID string
	createdAt time.Time
}

func watcherRefLess(a, b watcherRef) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.watcherID < b.watcherID
}

// StopLossMonitor evaluates stop-loss watchers against streamed price
// ticks. It keeps a per-symbol index of live watchers, oldest first; the
// WatcherStore stays the source of truth and stale index entries are
// pruned as they are met.
type StopLossMonitor struct {
	books    *BookManager
	orders   *store.OrderStore
	watchers *store.WatcherStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	index map[string]*btree.BTreeG[watcherRef] // symbol → live watchers
}

// NewStopLossMonitor creates a monitor. notifier and logger may be nil.
func NewStopLossMonitor(
	books *BookManager,
	orders *store.OrderStore,
	watchers *store.WatcherStore,
	notifier Notifier,
	logger *slog.Logger,
) *StopLossMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &StopLossMonitor{
		books:    books,
		orders:   orders,
		watchers: watchers,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		index:    make(map[string]*btree.BTreeG[watcherRef]),
	}
}

// Register moves a NEW STOP_LOSS order to PENDING_TRIGGER and creates its
// watcher. It returns domain.ErrWatcherExists if the order is already
// watched.
func (m *StopLossMonitor) Register(orderID string) (*domain.StopLossWatcher, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.Type != domain.OrderTypeStopLoss {
		return nil, &domain.ValidationError{Message: "only STOP_LOSS orders can be watched"}
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.Lock()
	w, err := m.register(orderID)
	book.Unlock()
	if err != nil {
		return nil, err
	}

	m.track(w)
	if o, err := m.orders.Get(orderID); err == nil {
		m.notifier.OrderUpdated(o)
	}
	return w, nil
}

func (m *StopLossMonitor) register(orderID string) (*domain.StopLossWatcher, error) {
	o, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if err := o.TransitionTo(domain.OrderStatusPendingTrigger); err != nil {
		return nil, err
	}

	now := m.now()
	w := &domain.StopLossWatcher{
		WatcherID:    uuid.NewString(),
		OrderID:      o.OrderID,
		Symbol:       o.Symbol,
		Side:         o.Side,
		TriggerPrice: o.StopPrice,
		Quantity:     o.Quantity,
		AccountID:    o.AccountID,
		TenantID:     o.TenantID,
		CreatedAt:    now,
		Active:       true,
	}
	if err := m.watchers.Create(w); err != nil {
		return nil, err
	}

	o.UpdatedAt = now
	if err := m.orders.Update(o); err != nil {
		// Roll the watcher back so the order can be registered again.
		w.Active = false
		m.watchers.Update(w)
		return nil, err
	}
	return w, nil
}

// OnTick evaluates every live watcher of the tick's symbol. Each
// evaluation bumps CheckCount and LastCheckAt; a breached watcher is
// soft-deleted as triggered and its order moves to ACTIVE for the next
// matching sweep. Ticks the watcher has already seen (older than its last
// check, or the same timestamp and price) are ignored, so re-delivery never
// double-counts or re-triggers.
// It returns the ids of the activated orders.
func (m *StopLossMonitor) OnTick(tick domain.PriceTick) []string {
	refs := m.refs(tick.Symbol)
	if len(refs) == 0 {
		return nil
	}

	var (
		stale     []watcherRef
		activated []*domain.Order
	)

	book := m.books.GetOrCreate(tick.Symbol)
	book.Lock()
	for _, ref := range refs {
		w, err := m.watchers.Get(ref.watcherID)
		if err != nil || !w.Live() {
			stale = append(stale, ref)
			continue
		}
		if w.Seen(tick.Timestamp, tick.Price) {
			continue
		}

		ts := tick.Timestamp
		w.LastCheckAt = &ts
		w.LastCheckPrice = tick.Price
		w.CheckCount++
		if w.Breached(tick.Price) {
			w.Triggered = true
			w.Active = false
			w.TriggeredAt = &ts
			stale = append(stale, ref)
			if o := m.activate(w.OrderID); o != nil {
				activated = append(activated, o)
			}
		}
		if err := m.watchers.Update(w); err != nil {
			m.logger.Warn("failed to update watcher",
				slog.String("watcher_id", w.WatcherID),
				slog.String("error", err.Error()),
			)
		}
	}
	book.Unlock()

	m.untrack(tick.Symbol, stale)

	ids := make([]string, 0, len(activated))
	for _, o := range activated {
		m.logger.Info("stop-loss triggered",
			slog.String("order_id", o.OrderID),
			slog.String("symbol", o.Symbol),
			slog.Int64("price", tick.Price),
		)
		m.notifier.OrderUpdated(o)
		ids = append(ids, o.OrderID)
	}
	return ids
}

// activate moves a triggered order to ACTIVE. The caller holds the book lock.
func (m *StopLossMonitor) activate(orderID string) *domain.Order {
	o, err := m.orders.Get(orderID)
	if err != nil || o.Status != domain.OrderStatusPendingTrigger {
		return nil
	}
	if err := o.TransitionTo(domain.OrderStatusActive); err != nil {
		return nil
	}
	o.UpdatedAt = m.now()
	if err := m.orders.Update(o); err != nil {
		m.logger.Warn("failed to activate triggered order",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return o
}

// Run consumes ticks until ctx is done or the channel closes.
func (m *StopLossMonitor) Run(ctx context.Context, ticks <-chan domain.PriceTick) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			m.OnTick(tick)
		}
	}
}

// Cleanup soft-deletes live watchers whose order is missing or no longer
// PENDING_TRIGGER, and reports how many it retired.
func (m *StopLossMonitor) Cleanup() int {
	retired := 0
	for _, w := range m.watchers.Untriggered() {
		o, err := m.orders.Get(w.OrderID)
		if err == nil && o.Status == domain.OrderStatusPendingTrigger {
			continue
		}
		w.Active = false
		if err := m.watchers.Update(w); err != nil {
			continue
		}
		m.untrack(w.Symbol, []watcherRef{{watcherID: w.WatcherID, createdAt: w.CreatedAt}})
		retired++
	}
	return retired
}

// Rebuild reloads the index from the store's live watchers.
func (m *StopLossMonitor) Rebuild() {
	m.mu.Lock()
	m.index = make(map[string]*btree.BTreeG[watcherRef])
	m.mu.Unlock()
	for _, w := range m.watchers.Untriggered() {
		m.track(w)
	}
}

// Watching returns the number of indexed watchers for a symbol.
func (m *StopLossMonitor) Watching(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tree, ok := m.index[symbol]; ok {
		return tree.Len()
	}
	return 0
}

func (m *StopLossMonitor) track(w *domain.StopLossWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.index[w.Symbol]
	if !ok {
		tree = btree.NewBTreeG(watcherRefLess)
		m.index[w.Symbol] = tree
	}
	tree.Set(watcherRef{watcherID: w.WatcherID, createdAt: w.CreatedAt})
}

func (m *StopLossMonitor) untrack(symbol string, refs []watcherRef) {
	if len(refs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.index[symbol]
	if !ok {
		return
	}
	for _, ref := range refs {
		tree.Delete(ref)
	}
}

func (m *StopLossMonitor) refs(symbol string) []watcherRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.index[symbol]
	if !ok {
		return nil
	}
	return tree.Items()
}
