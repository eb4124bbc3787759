package domain

import "time"

// DisplayOrder is ephemeral liquidity shown on the book. It is never
// persisted as an Order.
type DisplayOrder struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderLevel aggregates a single price level for display.
type OrderLevel struct {
	Price         int64 `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

// BookSnapshot is a point-in-time view of a symbol's book.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []OrderLevel `json:"bids"`
	Asks      []OrderLevel `json:"asks"`
	BestBid   *int64       `json:"best_bid"`
	BestAsk   *int64       `json:"best_ask"`
	Spread    *int64       `json:"spread"`
	Timestamp time.Time    `json:"timestamp"`
}
