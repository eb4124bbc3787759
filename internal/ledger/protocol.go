// Package ledger is the client side of the settlement saga that keeps
// account balances and positions in step with order outcomes. Every saga
// step is an explicit Request answered by a Response; Saga adds retries,
// per-attempt timeouts and the critical/recoverable error split on top of
// any Transport.
package ledger

import (
	"context"
	"time"
)

// Step names one saga operation.
type Step string

const (
	StepReserve        Step = "reserve"
	StepConfirm        Step = "confirm"
	StepConfirmPartial Step = "confirm_partial"
	StepCancel         Step = "cancel"
	StepCompensate     Step = "compensate"
)

// Status is the outcome tag of a Response.
type Status string

const (
	// StatusOK means the step was applied (or had already been applied).
	StatusOK Status = "OK"
	// StatusFailed means the step did not apply and may be retried unless
	// the response is Critical.
	StatusFailed Status = "FAILED"
	// StatusRejected is a business refusal, such as insufficient funds.
	// It is never retried.
	StatusRejected Status = "REJECTED"
)

// Rejection codes carried by StatusRejected responses.
const (
	CodeInsufficientFunds    = "insufficient_funds"
	CodeInsufficientHoldings = "insufficient_holdings"
	CodeUnknownAccount       = "unknown_account"
)

// TradeRef is the part of a trade the ledger settles.
type TradeRef struct {
	TradeID    string    `json:"trade_id"`
	Price      int64     `json:"price"`
	Quantity   int64     `json:"quantity"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Request is one saga step. Only the fields relevant to Step are set:
// reserve carries the account, side and amounts; confirm and
// confirm_partial carry the trade; compensate carries the trade id.
type Request struct {
	Step      Step      `json:"step"`
	OrderID   string    `json:"order_id"`
	AccountID string    `json:"account_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Side      string    `json:"side,omitempty"`
	Price     int64     `json:"price,omitempty"`    // unit price reserved, cents
	Amount    int64     `json:"amount,omitempty"`   // cash reserved, cents
	Quantity  int64     `json:"quantity,omitempty"` // shares reserved or settled
	Trade     *TradeRef `json:"trade,omitempty"`
	TradeID   string    `json:"trade_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Response answers a Request.
type Response struct {
	Status   Status `json:"status"`
	Code     string `json:"code,omitempty"`
	Critical bool   `json:"critical,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Transport delivers one request to the ledger. A non-nil error means the
// outcome is unknown and the step may be retried.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}
