package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/store"
	"github.com/iremturen/stofina-sub001/internal/worker"
)

// Intervals configures how often each maintenance task runs. A zero
// interval disables the task.
type Intervals struct {
	DisplayRefresh time.Duration
	MatchingSweep  time.Duration
	Expiry         time.Duration
	Phase          time.Duration
	WatcherCleanup time.Duration
}

// Maintenance holds the periodic jobs that keep books, orders and watchers
// moving without client requests. Per-symbol work fans out on the worker
// pool.
type Maintenance struct {
	symbols   *domain.SymbolRegistry
	books     *BookManager
	generator *DisplayBookGenerator
	matcher   *Matcher
	expiry    *ExpiryManager
	monitor   *StopLossMonitor
	calendar  *Calendar
	prices    PriceSource
	orders    *store.OrderStore
	pool      *worker.Pool
	notifier  Notifier
	logger    *slog.Logger
	depth     int
	now       func() time.Time

	mu    sync.Mutex
	phase domain.MarketPhase
}

// MaintenanceDeps bundles the collaborators of Maintenance.
type MaintenanceDeps struct {
	Symbols   *domain.SymbolRegistry
	Books     *BookManager
	Generator *DisplayBookGenerator
	Matcher   *Matcher
	Expiry    *ExpiryManager
	Monitor   *StopLossMonitor
	Calendar  *Calendar // nil means always trading
	Prices    PriceSource
	Orders    *store.OrderStore
	Pool      *worker.Pool
	Notifier  Notifier
	Logger    *slog.Logger
	Depth     int
}

// NewMaintenance wires the maintenance jobs.
func NewMaintenance(d MaintenanceDeps) *Maintenance {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Depth <= 0 {
		d.Depth = 10
	}
	return &Maintenance{
		symbols:   d.Symbols,
		books:     d.Books,
		generator: d.Generator,
		matcher:   d.Matcher,
		expiry:    d.Expiry,
		monitor:   d.Monitor,
		calendar:  d.Calendar,
		prices:    d.Prices,
		orders:    d.Orders,
		pool:      d.Pool,
		notifier:  d.Notifier,
		logger:    d.Logger,
		depth:     d.Depth,
		now:       time.Now,
	}
}

// Tasks returns the scheduled tasks. Display refresh and watcher cleanup
// are cosmetic and drop work under pressure; the matching sweep and the
// expiry sweep run inline instead.
func (mt *Maintenance) Tasks(iv Intervals) []Task {
	return []Task{
		{Name: "market_phase", Interval: iv.Phase, RunAtStart: true, Run: mt.UpdatePhase},
		{Name: "display_refresh", Interval: iv.DisplayRefresh, Run: mt.RefreshDisplay},
		{Name: "matching_sweep", Interval: iv.MatchingSweep, Run: mt.SweepMatching},
		{Name: "expiry_sweep", Interval: iv.Expiry, Run: mt.SweepExpiry},
		{Name: "watcher_cleanup", Interval: iv.WatcherCleanup, Run: mt.CleanupWatchers},
	}
}

// Phase returns the last observed market phase.
func (mt *Maintenance) Phase() domain.MarketPhase {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.phase == "" {
		return mt.currentPhase()
	}
	return mt.phase
}

func (mt *Maintenance) currentPhase() domain.MarketPhase {
	if mt.calendar == nil {
		return domain.MarketPhaseOpen
	}
	return mt.calendar.Phase(mt.now())
}

func (mt *Maintenance) trading() bool {
	return mt.Phase().Trading()
}

// RefreshDisplay regenerates every symbol's display book around its
// current price while the market is trading.
func (mt *Maintenance) RefreshDisplay(ctx context.Context) error {
	if !mt.trading() {
		return nil
	}
	return mt.forEachSymbol(ctx, "display_refresh", worker.RejectAndLog, mt.refreshSymbol)
}

func (mt *Maintenance) refreshSymbol(ctx context.Context, symbol string) error {
	price, err := mt.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: %w", symbol, err)
	}
	if err := mt.generator.Regenerate(symbol, price, mt.orders.ActiveBySymbol); err != nil {
		return err
	}
	mt.notifier.BookUpdated(mt.books.Snapshot(symbol, mt.depth))
	return nil
}

// SweepMatching re-evaluates resting orders of every symbol, symbols in
// parallel and orders within a symbol oldest first.
func (mt *Maintenance) SweepMatching(ctx context.Context) error {
	if !mt.trading() {
		return nil
	}
	return mt.forEachSymbol(ctx, "matching_sweep", worker.RunInline, func(ctx context.Context, symbol string) error {
		_, err := mt.matcher.Sweep(ctx, symbol)
		return err
	})
}

// SweepExpiry retires orders whose expiry has passed.
func (mt *Maintenance) SweepExpiry(ctx context.Context) error {
	_, err := mt.expiry.Tick(ctx, mt.now())
	return err
}

// CleanupWatchers retires watchers whose orders left PENDING_TRIGGER.
func (mt *Maintenance) CleanupWatchers(context.Context) error {
	if n := mt.monitor.Cleanup(); n > 0 {
		mt.logger.Info("watchers retired", slog.Int("count", n))
	}
	return nil
}

// UpdatePhase recomputes the market phase and broadcasts changes.
// Entering OPEN regenerates display books; entering CLOSED clears them.
func (mt *Maintenance) UpdatePhase(ctx context.Context) error {
	next := mt.currentPhase()
	mt.mu.Lock()
	prev := mt.phase
	mt.phase = next
	mt.mu.Unlock()
	if prev == next {
		return nil
	}

	mt.logger.Info("market phase changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	mt.notifier.PhaseChanged(prev, next, mt.now())

	switch next {
	case domain.MarketPhaseOpen:
		return mt.forEachSymbol(ctx, "display_refresh", worker.RunInline, mt.refreshSymbol)
	case domain.MarketPhaseClosed:
		for _, symbol := range mt.symbols.List() {
			mt.generator.Clear(symbol)
			mt.notifier.BookUpdated(mt.books.Snapshot(symbol, mt.depth))
		}
	}
	return nil
}

func (mt *Maintenance) forEachSymbol(ctx context.Context, name string, policy worker.Policy, fn func(context.Context, string) error) error {
	symbols := mt.symbols.List()
	jobs := make([]worker.Job, 0, len(symbols))
	for _, symbol := range symbols {
		symbol := symbol
		jobs = append(jobs, func(ctx context.Context) error {
			return fn(ctx, symbol)
		})
	}
	err := mt.pool.All(ctx, name, policy, jobs...)
	if errors.Is(err, worker.ErrQueueFull) {
		mt.logger.Warn("maintenance work dropped under load", slog.String("task", name))
	}
	return err
}
