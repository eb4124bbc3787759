package domain

import "time"

// StopLossWatcher is a standing trigger condition linked to a
// PENDING_TRIGGER order.
type StopLossWatcher struct {
	WatcherID      string
	OrderID        string
	Symbol         string
	Side           OrderSide
	TriggerPrice   int64 // cents
	Quantity       int64
	AccountID      string
	TenantID       string
	CreatedAt      time.Time
	LastCheckAt    *time.Time
	LastCheckPrice int64 // cents
	CheckCount     int64
	Triggered      bool
	Active         bool
	TriggeredAt    *time.Time
}

// Live reports whether the watcher still participates in evaluation.
func (w *StopLossWatcher) Live() bool {
	return w.Active && !w.Triggered
}

// Seen reports whether a tick was already evaluated: it predates the last
// check, or repeats its timestamp and price. Distinct prices sharing a
// timestamp are separate ticks.
func (w *StopLossWatcher) Seen(ts time.Time, price int64) bool {
	if w.LastCheckAt == nil {
		return false
	}
	if ts.Before(*w.LastCheckAt) {
		return true
	}
	return ts.Equal(*w.LastCheckAt) && price == w.LastCheckPrice
}

// Breached reports whether price crosses the trigger. Sell stops fire when
// the price falls to or below the trigger, buy stops when it rises to or
// above it.
func (w *StopLossWatcher) Breached(price int64) bool {
	if w.Side == OrderSideBuy {
		return price >= w.TriggerPrice
	}
	return price <= w.TriggerPrice
}

// Clone returns a copy that shares no mutable state with w.
func (w *StopLossWatcher) Clone() *StopLossWatcher {
	c := *w
	if w.LastCheckAt != nil {
		t := *w.LastCheckAt
		c.LastCheckAt = &t
	}
	if w.TriggeredAt != nil {
		t := *w.TriggeredAt
		c.TriggeredAt = &t
	}
	return &c
}
