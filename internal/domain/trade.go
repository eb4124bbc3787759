package domain

import "time"

// Trade is an immutable execution of one quantity at one price between a
// user order and a (possibly synthetic) counter-order.
type Trade struct {
	TradeID       string
	Reference     string
	Symbol        string
	Price         int64 // cents
	Quantity      int64
	BuyOrderID    string
	SellOrderID   string
	BuyAccountID  string
	SellAccountID string
	IsBot         bool // counter-party is synthetic
	ExecutedAt    time.Time
}

// Notional returns price × quantity in cents.
func (t *Trade) Notional() int64 {
	return t.Price * t.Quantity
}
