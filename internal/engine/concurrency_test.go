package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// TestConcurrentMutationsOnOneSymbol drives evaluations, sweeps, cancels,
// display rebuilds and ticks at the same book from many goroutines, then
// checks the fill invariants against the order and trade stores.
func TestConcurrentMutationsOnOneSymbol(t *testing.T) {
	ctx := context.Background()
	v := newTestVenue(NewSeededSource(42))
	mon := NewStopLossMonitor(v.books, v.orders, v.watchers, v.notifier, quietLogger)
	gen := NewDisplayBookGenerator(v.books, NewSeededSource(7), nil)

	const limits, stops = 40, 10
	for i := 0; i < limits; i++ {
		side := domain.OrderSideBuy
		if i%2 == 1 {
			side = domain.OrderSideSell
		}
		v.submit(fmt.Sprintf("l%02d", i), side, domain.OrderTypeLimit, 100, 10000)
	}
	for i := 0; i < stops; i++ {
		id := fmt.Sprintf("s%02d", i)
		o := v.submit(id, domain.OrderSideSell, domain.OrderTypeStopLoss, 50, 0)
		o.StopPrice = 9900
		if err := v.orders.Update(o); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if _, err := mon.Register(id); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	for i := 0; i < limits; i++ {
		id := fmt.Sprintf("l%02d", i)
		run(func() { v.matcher.Evaluate(ctx, id) })
		run(func() { v.matcher.Evaluate(ctx, id) })
		if i%4 == 0 {
			run(func() { v.matcher.CancelOrder(ctx, id, "user_requested") })
		}
	}
	for i := 0; i < 20; i++ {
		at := time.Duration(i) * time.Millisecond
		price := int64(9850 + 10*(i%10))
		run(func() { v.matcher.Sweep(ctx, "ABC") })
		run(func() { gen.Regenerate("ABC", 10000, v.orders.ActiveBySymbol) })
		run(func() { mon.OnTick(tick(price, at)) })
	}
	wg.Wait()

	traded := make(map[string]int64)
	for _, tr := range v.trades.GetBySymbol("ABC") {
		traded[tr.BuyOrderID] += tr.Quantity
		traded[tr.SellOrderID] += tr.Quantity
	}

	for i := 0; i < limits+stops; i++ {
		id := fmt.Sprintf("l%02d", i)
		if i >= limits {
			id = fmt.Sprintf("s%02d", i-limits)
		}
		o := v.order(id)
		if o.FilledQuantity > o.Quantity {
			t.Errorf("%s filled %d of %d", id, o.FilledQuantity, o.Quantity)
		}
		if (o.Status == domain.OrderStatusFilled) != (o.FilledQuantity == o.Quantity) {
			t.Errorf("%s is %s with %d of %d filled", id, o.Status, o.FilledQuantity, o.Quantity)
		}
		if traded[id] != o.FilledQuantity {
			t.Errorf("%s trades sum to %d, order shows %d filled", id, traded[id], o.FilledQuantity)
		}
	}

	for _, w := range v.watchers.Untriggered() {
		if o := v.order(w.OrderID); o.Status != domain.OrderStatusPendingTrigger {
			t.Errorf("live watcher %s points at %s order %s", w.WatcherID, o.Status, o.OrderID)
		}
	}
}
