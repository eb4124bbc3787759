package engine

import (
	"context"
	"sync"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/store"
)

// scriptedSource replays fixed draws. The last Float64 value repeats once
// the script runs out; Int64Range returns lo unless ints are scripted.
type scriptedSource struct {
	mu     sync.Mutex
	floats []float64
	ints   []int64
}

func script(floats ...float64) *scriptedSource {
	return &scriptedSource{floats: floats}
}

func (s *scriptedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[0]
	if len(s.floats) > 1 {
		s.floats = s.floats[1:]
	}
	return v
}

func (s *scriptedSource) Int64Range(lo, hi int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return lo
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	return v
}

// Draws that select each strategy under the default weights.
const (
	drawFull    = 0.10
	drawPartial = 0.50
	drawNoFill  = 0.90
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]int64
}

func newFakePrices(kv map[string]int64) *fakePrices {
	return &fakePrices{prices: kv}
}

func (f *fakePrices) set(symbol string, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakePrices) CurrentPrice(_ context.Context, symbol string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, domain.ErrNoMarketPrice
	}
	return p, nil
}

type ledgerCall struct {
	step    string
	orderID string
	tradeID string
	qty     int64
}

// fakeLedger records calls. confirmHook, when set, runs inside Confirm and
// ConfirmPartial before the result is returned.
type fakeLedger struct {
	mu          sync.Mutex
	calls       []ledgerCall
	confirmErr  error
	cancelErr   error
	confirmHook func()
}

func (l *fakeLedger) record(c ledgerCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *fakeLedger) Confirm(_ context.Context, o *domain.Order, t *domain.Trade) error {
	l.record(ledgerCall{step: "confirm", orderID: o.OrderID, tradeID: t.TradeID, qty: t.Quantity})
	if l.confirmHook != nil {
		l.confirmHook()
	}
	return l.confirmErr
}

func (l *fakeLedger) ConfirmPartial(_ context.Context, o *domain.Order, t *domain.Trade) error {
	l.record(ledgerCall{step: "confirm_partial", orderID: o.OrderID, tradeID: t.TradeID, qty: t.Quantity})
	if l.confirmHook != nil {
		l.confirmHook()
	}
	return l.confirmErr
}

func (l *fakeLedger) Cancel(_ context.Context, o *domain.Order, _ string) error {
	l.record(ledgerCall{step: "cancel", orderID: o.OrderID})
	return l.cancelErr
}

func (l *fakeLedger) Compensate(_ context.Context, orderID, tradeID, _ string) error {
	l.record(ledgerCall{step: "compensate", orderID: orderID, tradeID: tradeID})
	return nil
}

func (l *fakeLedger) steps() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	for i, c := range l.calls {
		out[i] = c.step
	}
	return out
}

// recordingNotifier captures broadcasts.
type recordingNotifier struct {
	mu     sync.Mutex
	orders []*domain.Order
	books  []domain.BookSnapshot
	phases []domain.MarketPhase
}

func (n *recordingNotifier) OrderUpdated(o *domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o.Clone())
}

func (n *recordingNotifier) BookUpdated(s domain.BookSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.books = append(n.books, s)
}

func (n *recordingNotifier) PhaseChanged(_, next domain.MarketPhase, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.phases = append(n.phases, next)
}

type testVenue struct {
	books    *BookManager
	orders   *store.OrderStore
	trades   *store.TradeStore
	watchers *store.WatcherStore
	prices   *fakePrices
	ledger   *fakeLedger
	notifier *recordingNotifier
	matcher  *Matcher
}

func newTestVenue(rng RandomSource) *testVenue {
	v := &testVenue{
		books:    NewBookManager(),
		orders:   store.NewOrderStore(),
		trades:   store.NewTradeStore(nil),
		watchers: store.NewWatcherStore(),
		prices:   newFakePrices(map[string]int64{"ABC": 10000}),
		ledger:   &fakeLedger{},
		notifier: &recordingNotifier{},
	}
	v.matcher = NewMatcher(DefaultMatcherConfig(), v.books, v.orders, v.trades, v.watchers,
		v.prices, v.ledger, rng, v.notifier, nil)
	return v
}

// submit stores a NEW order on the ABC book.
func (v *testVenue) submit(id string, side domain.OrderSide, typ domain.OrderType, qty, price int64) *domain.Order {
	o := &domain.Order{
		OrderID:     id,
		TenantID:    "tenant-1",
		AccountID:   "acct-1",
		Symbol:      "ABC",
		Side:        side,
		Type:        typ,
		Quantity:    qty,
		Price:       price,
		Status:      domain.OrderStatusNew,
		TimeInForce: domain.TimeInForceGTC,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
	if err := v.orders.Create(o); err != nil {
		panic(err)
	}
	return o
}

func (v *testVenue) order(id string) *domain.Order {
	o, err := v.orders.Get(id)
	if err != nil {
		panic(err)
	}
	return o
}
