package domain

import "time"

// OrderType is the closed set of order kinds accepted by the venue.
type OrderType string

const (
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeStopLoss OrderType = "STOP_LOSS"
)

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStopLoss:
		return true
	}
	return false
}

// RequiresPrice reports whether a limit price must be supplied.
func (t OrderType) RequiresPrice() bool {
	switch t {
	case OrderTypeLimit:
		return true
	case OrderTypeMarket, OrderTypeStopLoss:
		return false
	}
	return false
}

// AllowsPrice reports whether a limit price may be supplied at all.
// STOP_LOSS orders with a price behave as stop-limit orders once triggered.
func (t OrderType) AllowsPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLoss:
		return true
	case OrderTypeMarket:
		return false
	}
	return false
}

// RequiresStopPrice reports whether a stop trigger price must be supplied.
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStopLoss
}

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Opposite returns the counter side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// TimeInForce controls how long an order stays eligible.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceDay TimeInForce = "DAY"
)

// Valid reports whether tif is a known time-in-force.
func (tif TimeInForce) Valid() bool {
	return tif == TimeInForceGTC || tif == TimeInForceDay
}

// Order is a customer (or bot) instruction tracked through its lifecycle.
type Order struct {
	OrderID        string
	TenantID       string
	AccountID      string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       int64
	Price          int64 // cents, 0 when unpriced
	StopPrice      int64 // cents, STOP_LOSS only
	FilledQuantity int64
	AveragePrice   int64 // cents, 0 until the first fill
	Status         OrderStatus
	TimeInForce    TimeInForce
	ExpiresAt      *time.Time
	Version        int64
	IsBot          bool
	StatusReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Trades         []*Trade
}

// RemainingQuantity is the quantity still open for execution.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// HasPrice reports whether the order carries a limit price.
func (o *Order) HasPrice() bool {
	return o.Price > 0
}

// Expired reports whether the order's expiry is at or before now.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// Clone returns a copy that shares no mutable state with o.
func (o *Order) Clone() *Order {
	c := *o
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	if o.Trades != nil {
		c.Trades = make([]*Trade, len(o.Trades))
		copy(c.Trades, o.Trades)
	}
	return &c
}

// DisplayOrder projects a resting priced order onto the display book.
func (o *Order) DisplayOrder() DisplayOrder {
	return DisplayOrder{
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Price:     o.Price,
		Quantity:  o.RemainingQuantity(),
		IsBot:     o.IsBot,
		CreatedAt: o.CreatedAt,
	}
}

// ApplyFill records an execution of qty at price, recomputing the
// volume-weighted average price. The caller is responsible for the
// status transition.
func (o *Order) ApplyFill(qty, price int64) {
	if qty <= 0 {
		return
	}
	o.AveragePrice = WeightedAverage(o.AveragePrice, o.FilledQuantity, price, qty)
	o.FilledQuantity += qty
}
