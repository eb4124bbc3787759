package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/store"
)

// BotAccountID is the account recorded on the synthetic side of every trade.
const BotAccountID = "bot"

// PriceSource yields the reference market price for a symbol.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (int64, error)
}

// Ledger is the settlement side of the order saga. Every call may block
// on the network and is never made while a book lock is held.
type Ledger interface {
	Confirm(ctx context.Context, order *domain.Order, trade *domain.Trade) error
	ConfirmPartial(ctx context.Context, order *domain.Order, trade *domain.Trade) error
	Cancel(ctx context.Context, order *domain.Order, reason string) error
	Compensate(ctx context.Context, orderID, tradeID, reason string) error
}

// Notifier receives state changes for broadcast. Implementations must
// not block.
type Notifier interface {
	OrderUpdated(order *domain.Order)
	BookUpdated(snap domain.BookSnapshot)
	PhaseChanged(prev, next domain.MarketPhase, at time.Time)
}

// Strategy is the outcome class drawn for one evaluation.
type Strategy string

const (
	StrategyFullFill    Strategy = "FULL_FILL"
	StrategyPartialFill Strategy = "PARTIAL_FILL"
	StrategyNoFill      Strategy = "NO_FILL"
)

// MatchingResult describes one evaluation of one order.
type MatchingResult struct {
	Strategy          Strategy
	FilledQuantity    int64
	RemainingQuantity int64
	Trades            []*domain.Trade
	Order             *domain.Order
	CounterOrder      *domain.DisplayOrder
	Success           bool
	Reason            string
	Timestamp         time.Time
}

// MatcherConfig tunes the probabilistic matcher.
type MatcherConfig struct {
	// Tolerance bounds |price − market| / market for priced orders.
	Tolerance decimal.Decimal
	// FullWeight and PartialWeight are strategy probabilities; NO_FILL
	// takes the rest.
	FullWeight    float64
	PartialWeight float64
	// Partial fill ratios are drawn uniformly from [MinRatio, MaxRatio).
	MinRatio decimal.Decimal
	MaxRatio decimal.Decimal
	// BotOffset places NO_FILL counter-orders this fraction away from the
	// order price in the unfavorable direction.
	BotOffset decimal.Decimal
	// SnapshotDepth is the number of levels per side broadcast after a
	// book change.
	SnapshotDepth int
}

// DefaultMatcherConfig returns the standard venue parameters.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Tolerance:     decimal.RequireFromString("0.10"),
		FullWeight:    0.30,
		PartialWeight: 0.40,
		MinRatio:      decimal.RequireFromString("0.3"),
		MaxRatio:      decimal.RequireFromString("0.8"),
		BotOffset:     decimal.RequireFromString("0.02"),
		SnapshotDepth: 10,
	}
}

// Matcher evaluates user orders against synthetic liquidity. All book and
// order mutations for a symbol happen under that symbol's write lock;
// price lookups and ledger calls happen outside it.
type Matcher struct {
	cfg      MatcherConfig
	books    *BookManager
	orders   *store.OrderStore
	trades   *store.TradeStore
	watchers *store.WatcherStore
	prices   PriceSource
	ledger   Ledger
	rng      RandomSource
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewMatcher creates a new Matcher with the given dependencies. notifier
// and logger may be nil.
func NewMatcher(
	cfg MatcherConfig,
	books *BookManager,
	orders *store.OrderStore,
	trades *store.TradeStore,
	watchers *store.WatcherStore,
	prices PriceSource,
	ledger Ledger,
	rng RandomSource,
	notifier Notifier,
	logger *slog.Logger,
) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Matcher{
		cfg:      cfg,
		books:    books,
		orders:   orders,
		trades:   trades,
		watchers: watchers,
		prices:   prices,
		ledger:   ledger,
		rng:      rng,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// pendingFill is a fill computed under the lock and awaiting ledger
// confirmation.
type pendingFill struct {
	order *domain.Order // as persisted when the lock was released
	trade *domain.Trade
	final bool
}

// Evaluate runs one matching pass for a NEW, ACTIVE or PARTIALLY_FILLED
// order and returns its result.
//
// A priced order outside the tolerance band yields a failed result and an
// *domain.OutOfRangeError: a NEW order is REJECTED and its reservation
// released, a resting order is left unchanged. Ledger failures are
// returned as *domain.LedgerError with the order left unfilled. When the
// order changes while the ledger confirms, the confirmed trade is
// compensated and *domain.ConcurrencyConflictError is returned.
func (m *Matcher) Evaluate(ctx context.Context, orderID string) (*MatchingResult, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.IsMatchable() {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotMatchable, orderID, order.Status)
	}

	market, err := m.prices.CurrentPrice(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("market price for %s: %w", order.Symbol, err)
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.Lock()
	result, fill, err := m.plan(book, orderID, market)
	snap := book.Snapshot(m.cfg.SnapshotDepth)
	book.Unlock()

	if err != nil {
		var oor *domain.OutOfRangeError
		if errors.As(err, &oor) && result != nil && result.Order.Status == domain.OrderStatusRejected {
			m.cancelReservation(ctx, result.Order, result.Reason)
			m.notifier.OrderUpdated(result.Order)
		}
		return result, err
	}

	m.notifier.OrderUpdated(result.Order)
	if fill == nil {
		m.notifier.BookUpdated(snap)
		return result, nil
	}

	if err := m.confirm(ctx, fill); err != nil {
		result.Success = false
		result.Reason = err.Error()
		return result, err
	}

	book.Lock()
	applied, err := m.apply(book, fill)
	snap = book.Snapshot(m.cfg.SnapshotDepth)
	book.Unlock()

	if err != nil {
		m.logger.Warn("fill superseded during confirmation, compensating",
			slog.String("order_id", orderID),
			slog.String("trade_id", fill.trade.TradeID),
			slog.String("error", err.Error()),
		)
		if cerr := m.ledger.Compensate(ctx, orderID, fill.trade.TradeID, "order modified during confirmation"); cerr != nil {
			m.logLedgerFailure("compensate", orderID, cerr)
			err = errors.Join(err, cerr)
		}
		result.Success = false
		result.Reason = err.Error()
		return result, err
	}

	if err := m.trades.Append(fill.trade); err != nil {
		m.logger.Error("failed to record trade",
			slog.String("order_id", orderID),
			slog.String("trade_id", fill.trade.TradeID),
			slog.String("error", err.Error()),
		)
	}

	result.Order = applied
	result.Trades = []*domain.Trade{fill.trade}
	result.FilledQuantity = fill.trade.Quantity
	result.RemainingQuantity = applied.RemainingQuantity()
	result.Success = true

	m.notifier.OrderUpdated(applied)
	m.notifier.BookUpdated(snap)
	return result, nil
}

// plan runs the locked half of an evaluation: range check, activation,
// strategy draw and fill computation. The caller holds the book lock.
func (m *Matcher) plan(book *OrderBook, orderID string, market int64) (*MatchingResult, *pendingFill, error) {
	o, err := m.orders.Get(orderID)
	if err != nil {
		return nil, nil, err
	}
	if !o.Status.IsMatchable() {
		return nil, nil, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotMatchable, orderID, o.Status)
	}

	now := m.now()
	result := &MatchingResult{
		Order:             o,
		RemainingQuantity: o.RemainingQuantity(),
		Timestamp:         now,
	}

	if o.HasPrice() && !domain.WithinTolerance(o.Price, market, m.cfg.Tolerance) {
		oor := &domain.OutOfRangeError{
			Symbol:      o.Symbol,
			Price:       o.Price,
			MarketPrice: market,
			Deviation:   domain.Deviation(o.Price, market),
			Tolerance:   m.cfg.Tolerance,
		}
		result.Reason = oor.Error()
		if o.Status == domain.OrderStatusNew {
			if err := o.TransitionTo(domain.OrderStatusRejected); err != nil {
				return nil, nil, err
			}
			o.StatusReason = result.Reason
			o.UpdatedAt = now
			if err := m.orders.Update(o); err != nil {
				return nil, nil, err
			}
		}
		return result, nil, oor
	}

	if o.Status == domain.OrderStatusNew {
		if err := o.TransitionTo(domain.OrderStatusActive); err != nil {
			return nil, nil, err
		}
		o.UpdatedAt = now
		if err := m.orders.Update(o); err != nil {
			return nil, nil, err
		}
	}

	strategy, qty := m.decide(o.RemainingQuantity())
	result.Strategy = strategy

	if strategy == StrategyNoFill {
		counter := m.counterOrder(o, market, now)
		book.RemoveOrder(counter.OrderID)
		book.AddOrder(counter)
		project(book, o)
		result.CounterOrder = &counter
		result.Success = true
		result.Reason = "no counter-liquidity at the order price"
		return result, nil, nil
	}

	price := o.Price
	if !o.HasPrice() {
		price = market
	}
	project(book, o)
	return result, &pendingFill{
		order: o,
		trade: m.newTrade(o, price, qty, now),
		final: qty == o.RemainingQuantity(),
	}, nil
}

// apply records a confirmed fill if the order is still at the version the
// fill was computed against. The caller holds the book lock.
func (m *Matcher) apply(book *OrderBook, f *pendingFill) (*domain.Order, error) {
	cur, err := m.orders.Get(f.order.OrderID)
	if err != nil {
		return nil, err
	}
	if cur.Version != f.order.Version {
		return nil, &domain.ConcurrencyConflictError{
			OrderID:  cur.OrderID,
			Expected: f.order.Version,
			Actual:   cur.Version,
		}
	}

	cur.ApplyFill(f.trade.Quantity, f.trade.Price)
	cur.Trades = append(cur.Trades, f.trade)
	if next := cur.FillStatus(); next != cur.Status {
		if err := cur.TransitionTo(next); err != nil {
			return nil, err
		}
	}
	cur.UpdatedAt = m.now()
	if err := m.orders.Update(cur); err != nil {
		return nil, err
	}
	project(book, cur)
	return cur, nil
}

func (m *Matcher) confirm(ctx context.Context, f *pendingFill) error {
	var err error
	if f.final {
		err = m.ledger.Confirm(ctx, f.order, f.trade)
	} else {
		err = m.ledger.ConfirmPartial(ctx, f.order, f.trade)
	}
	if err != nil {
		step := "confirm_partial"
		if f.final {
			step = "confirm"
		}
		m.logLedgerFailure(step, f.order.OrderID, err)
	}
	return err
}

// decide draws a strategy and the quantity it fills.
func (m *Matcher) decide(remaining int64) (Strategy, int64) {
	r := m.rng.Float64()
	switch {
	case r < m.cfg.FullWeight:
		return StrategyFullFill, remaining
	case r < m.cfg.FullWeight+m.cfg.PartialWeight:
		span := m.cfg.MaxRatio.Sub(m.cfg.MinRatio)
		ratio := m.cfg.MinRatio.Add(span.Mul(decimal.NewFromFloat(m.rng.Float64())))
		qty := domain.ScaleQuantity(remaining, ratio)
		switch {
		case qty >= remaining:
			return StrategyFullFill, remaining
		case qty <= 0:
			return StrategyNoFill, 0
		}
		return StrategyPartialFill, qty
	default:
		return StrategyNoFill, 0
	}
}

func (m *Matcher) counterOrder(o *domain.Order, market int64, now time.Time) domain.DisplayOrder {
	base := o.Price
	if !o.HasPrice() {
		base = market
	}
	offset := m.cfg.BotOffset
	if o.Side == domain.OrderSideSell {
		offset = offset.Neg()
	}
	return domain.DisplayOrder{
		OrderID:   botOrderID(o.OrderID),
		Symbol:    o.Symbol,
		Side:      o.Side.Opposite(),
		Price:     max(domain.ScalePrice(base, offset), 1),
		Quantity:  o.RemainingQuantity(),
		IsBot:     true,
		CreatedAt: now,
	}
}

func (m *Matcher) newTrade(o *domain.Order, price, qty int64, now time.Time) *domain.Trade {
	t := &domain.Trade{
		TradeID:    uuid.NewString(),
		Reference:  "TRD-" + uuid.NewString(),
		Symbol:     o.Symbol,
		Price:      price,
		Quantity:   qty,
		IsBot:      true,
		ExecutedAt: now,
	}
	if o.Side == domain.OrderSideBuy {
		t.BuyOrderID, t.BuyAccountID = o.OrderID, o.AccountID
		t.SellOrderID, t.SellAccountID = botOrderID(o.OrderID), BotAccountID
	} else {
		t.SellOrderID, t.SellAccountID = o.OrderID, o.AccountID
		t.BuyOrderID, t.BuyAccountID = botOrderID(o.OrderID), BotAccountID
	}
	return t
}

// CancelOrder cancels an order and releases its reservation. Cancelling
// an order already in a terminal state is a no-op that returns it
// unchanged. The order's stop-loss watcher, if any, is soft-deleted.
//
// The cancellation is committed before the ledger is called; a ledger
// failure is returned alongside the cancelled order.
func (m *Matcher) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.Lock()
	cur, changed, err := m.terminate(book, orderID, domain.OrderStatusCancelled, reason)
	snap := book.Snapshot(m.cfg.SnapshotDepth)
	book.Unlock()
	if err != nil || !changed {
		return cur, err
	}

	m.notifier.OrderUpdated(cur)
	m.notifier.BookUpdated(snap)
	if err := m.cancelReservation(ctx, cur, reason); err != nil {
		return cur, err
	}
	return cur, nil
}

// ExpireOrder retires an order whose expiry has passed. PENDING_TRIGGER
// and ACTIVE orders become EXPIRED; orders that cannot reach EXPIRED
// (NEW, PARTIALLY_FILLED) are CANCELLED with reason "expired". It reports
// whether the order changed.
func (m *Matcher) ExpireOrder(ctx context.Context, orderID string, now time.Time) (bool, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return false, err
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.Lock()
	cur, err := m.orders.Get(orderID)
	if err != nil {
		book.Unlock()
		return false, err
	}
	if cur.Status.IsTerminal() || !cur.Expired(now) {
		book.Unlock()
		return false, nil
	}
	next := domain.OrderStatusExpired
	if !cur.Status.CanTransitionTo(next) {
		next = domain.OrderStatusCancelled
	}
	cur, changed, err := m.terminate(book, orderID, next, "expired")
	snap := book.Snapshot(m.cfg.SnapshotDepth)
	book.Unlock()
	if err != nil || !changed {
		return false, err
	}

	m.notifier.OrderUpdated(cur)
	m.notifier.BookUpdated(snap)
	return true, m.cancelReservation(ctx, cur, "expired")
}

// terminate moves an order to a terminal status, pulls it off the book and
// retires its watcher. The caller holds the book lock.
func (m *Matcher) terminate(book *OrderBook, orderID string, next domain.OrderStatus, reason string) (*domain.Order, bool, error) {
	cur, err := m.orders.Get(orderID)
	if err != nil {
		return nil, false, err
	}
	if cur.Status.IsTerminal() {
		return cur, false, nil
	}
	if next == domain.OrderStatusCancelled && !cur.CanCancel() {
		return nil, false, &domain.InvalidTransitionError{OrderID: orderID, From: cur.Status, To: next}
	}
	if err := cur.TransitionTo(next); err != nil {
		return nil, false, err
	}
	cur.StatusReason = reason
	cur.UpdatedAt = m.now()
	if err := m.orders.Update(cur); err != nil {
		return nil, false, err
	}
	project(book, cur)
	m.retireWatcher(orderID)
	return cur, true, nil
}

func (m *Matcher) retireWatcher(orderID string) {
	w, err := m.watchers.GetByOrder(orderID)
	if err != nil || !w.Live() {
		return
	}
	w.Active = false
	if err := m.watchers.Update(w); err != nil {
		m.logger.Warn("failed to retire watcher",
			slog.String("watcher_id", w.WatcherID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Matcher) cancelReservation(ctx context.Context, o *domain.Order, reason string) error {
	err := m.ledger.Cancel(ctx, o, reason)
	if err != nil {
		m.logLedgerFailure("cancel", o.OrderID, err)
	}
	return err
}

// Amendment carries the optional changes of an amend request.
// ExpectedVersion, when set, must match the stored version.
type Amendment struct {
	Price           *int64
	Quantity        *int64
	ExpectedVersion *int64
}

// AmendOrder changes the price and/or quantity of an ACTIVE or
// PARTIALLY_FILLED order. A new price is range-checked against the market
// price; a new quantity must exceed the already filled quantity.
func (m *Matcher) AmendOrder(ctx context.Context, orderID string, a Amendment) (*domain.Order, error) {
	if a.Price == nil && a.Quantity == nil {
		return nil, &domain.ValidationError{Message: "amendment must change price or quantity"}
	}
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}

	var market int64
	if a.Price != nil {
		if !order.Type.AllowsPrice() {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("%s orders do not carry a price", order.Type)}
		}
		if *a.Price <= 0 {
			return nil, &domain.ValidationError{Message: "price must be positive"}
		}
		if market, err = m.prices.CurrentPrice(ctx, order.Symbol); err != nil {
			return nil, fmt.Errorf("market price for %s: %w", order.Symbol, err)
		}
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.Lock()
	cur, err := m.amend(book, orderID, a, market)
	snap := book.Snapshot(m.cfg.SnapshotDepth)
	book.Unlock()
	if err != nil {
		return nil, err
	}

	m.notifier.OrderUpdated(cur)
	m.notifier.BookUpdated(snap)
	return cur, nil
}

func (m *Matcher) amend(book *OrderBook, orderID string, a Amendment, market int64) (*domain.Order, error) {
	cur, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if a.ExpectedVersion != nil && *a.ExpectedVersion != cur.Version {
		return nil, &domain.ConcurrencyConflictError{OrderID: orderID, Expected: *a.ExpectedVersion, Actual: cur.Version}
	}
	if !cur.CanUpdate() {
		return nil, &domain.InvalidTransitionError{OrderID: orderID, From: cur.Status, To: cur.Status, Action: "amended"}
	}
	if a.Quantity != nil {
		if *a.Quantity <= cur.FilledQuantity {
			return nil, &domain.ValidationError{Message: fmt.Sprintf(
				"quantity must exceed the filled quantity %d", cur.FilledQuantity)}
		}
		cur.Quantity = *a.Quantity
	}
	if a.Price != nil {
		if !domain.WithinTolerance(*a.Price, market, m.cfg.Tolerance) {
			return nil, &domain.OutOfRangeError{
				Symbol:      cur.Symbol,
				Price:       *a.Price,
				MarketPrice: market,
				Deviation:   domain.Deviation(*a.Price, market),
				Tolerance:   m.cfg.Tolerance,
			}
		}
		cur.Price = *a.Price
	}
	cur.UpdatedAt = m.now()
	if err := m.orders.Update(cur); err != nil {
		return nil, err
	}
	project(book, cur)
	return cur, nil
}

// Sweep re-evaluates every matchable order of a symbol, oldest first. NEW
// orders left behind by a missing market price get their first pass here.
// Out-of-range orders are skipped quietly; other failures are joined into
// the returned error.
func (m *Matcher) Sweep(ctx context.Context, symbol string) (int, error) {
	var errs []error
	evaluated := 0
	for _, o := range m.orders.MatchableBySymbol(symbol) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		evaluated++
		_, err := m.Evaluate(ctx, o.OrderID)
		var oor *domain.OutOfRangeError
		switch {
		case err == nil:
		case errors.As(err, &oor), errors.Is(err, domain.ErrOrderNotMatchable), errors.Is(err, domain.ErrNoMarketPrice):
			m.logger.Debug("sweep skipped order",
				slog.String("order_id", o.OrderID),
				slog.String("reason", err.Error()),
			)
		default:
			errs = append(errs, fmt.Errorf("order %s: %w", o.OrderID, err))
		}
	}
	return evaluated, errors.Join(errs...)
}

func (m *Matcher) logLedgerFailure(step, orderID string, err error) {
	critical := domain.IsCriticalLedgerError(err)
	level := slog.LevelWarn
	if critical {
		level = slog.LevelError
	}
	m.logger.Log(context.Background(), level, "ledger step failed",
		slog.String("step", step),
		slog.String("order_id", orderID),
		slog.Bool("critical", critical),
		slog.String("error", err.Error()),
	)
}

// project keeps the book's view of a user order in sync with its state:
// resting priced orders are shown at their price with their remaining
// quantity; anything else is removed along with its bot counter-order.
func project(book *OrderBook, o *domain.Order) {
	book.RemoveOrder(o.OrderID)
	if o.Status.IsResting() && o.HasPrice() && o.RemainingQuantity() > 0 {
		book.AddOrder(o.DisplayOrder())
		return
	}
	if o.Status.IsTerminal() {
		book.RemoveOrder(botOrderID(o.OrderID))
	}
}

func botOrderID(orderID string) string {
	return "bot-" + orderID
}

type nopNotifier struct{}

func (nopNotifier) OrderUpdated(*domain.Order) {}

func (nopNotifier) BookUpdated(domain.BookSnapshot) {}

func (nopNotifier) PhaseChanged(domain.MarketPhase, domain.MarketPhase, time.Time) {}
