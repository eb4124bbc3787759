package domain

import "time"

// PriceTick is one observation from the streaming price feed.
type PriceTick struct {
	Symbol    string    `json:"symbol"`
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
