// Package broadcast publishes venue state changes (book snapshots, order
// status changes and market phase moves) to downstream consumers.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Event types.
const (
	EventBookSnapshot = "book.snapshot"
	EventOrderStatus  = "order.status"
	EventMarketPhase  = "market.phase"
)

// Event is one published message. Key orders events per consumer
// partition; it is the symbol for book and order events.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// OrderStatus is the payload of order.status events.
type OrderStatus struct {
	OrderID        string             `json:"order_id"`
	TenantID       string             `json:"tenant_id"`
	AccountID      string             `json:"account_id"`
	Symbol         string             `json:"symbol"`
	Side           domain.OrderSide   `json:"side"`
	Type           domain.OrderType   `json:"type"`
	Status         domain.OrderStatus `json:"status"`
	Quantity       int64              `json:"quantity"`
	FilledQuantity int64              `json:"filled_quantity"`
	AveragePrice   int64              `json:"average_price"`
	Reason         string             `json:"reason,omitempty"`
	Version        int64              `json:"version"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// PhaseChange is the payload of market.phase events.
type PhaseChange struct {
	Previous domain.MarketPhase `json:"previous"`
	Current  domain.MarketPhase `json:"current"`
	At       time.Time          `json:"at"`
}

func newEvent(typ, key string, at time.Time, data any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		Key:        key,
		OccurredAt: at,
		Data:       data,
	}
}

// OrderEvent builds an order.status event.
func OrderEvent(o *domain.Order) Event {
	return newEvent(EventOrderStatus, o.Symbol, o.UpdatedAt, OrderStatus{
		OrderID:        o.OrderID,
		TenantID:       o.TenantID,
		AccountID:      o.AccountID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		Status:         o.Status,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		AveragePrice:   o.AveragePrice,
		Reason:         o.StatusReason,
		Version:        o.Version,
		UpdatedAt:      o.UpdatedAt,
	})
}

// BookEvent builds a book.snapshot event.
func BookEvent(snap domain.BookSnapshot) Event {
	return newEvent(EventBookSnapshot, snap.Symbol, snap.Timestamp, snap)
}

// PhaseEvent builds a market.phase event.
func PhaseEvent(prev, next domain.MarketPhase, at time.Time) Event {
	return newEvent(EventMarketPhase, "market", at, PhaseChange{Previous: prev, Current: next, At: at})
}

// Fanout publishes every event to each publisher in turn.
type Fanout []Publisher

// Publish joins the publishers' errors; one failing publisher does not
// stop the others.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
