package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrOrderExists       = errors.New("order_already_exists")
	ErrWatcherNotFound   = errors.New("watcher_not_found")
	ErrWatcherExists     = errors.New("watcher_already_exists")
	ErrSymbolNotFound    = errors.New("symbol_not_found")
	ErrNoMarketPrice     = errors.New("no_market_price")
	ErrAccountNotFound   = errors.New("account_not_found")
	ErrAccountExists     = errors.New("account_already_exists")
	ErrOrderNotMatchable = errors.New("order_not_matchable")

	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrInsufficientHoldings = errors.New("insufficient_holdings")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// OutOfRangeError reports a price that deviates from the market price by
// more than the configured tolerance.
type OutOfRangeError struct {
	Symbol      string
	Price       int64
	MarketPrice int64
	Deviation   decimal.Decimal
	Tolerance   decimal.Decimal
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("price %s deviates %s%% from market price %s for %s, tolerance is %s%%",
		FormatCents(e.Price),
		e.Deviation.Abs().Shift(2).StringFixed(2),
		FormatCents(e.MarketPrice),
		e.Symbol,
		e.Tolerance.Shift(2).StringFixed(2),
	)
}

// ConcurrencyConflictError reports an optimistic version mismatch. The
// caller should re-read and retry.
type ConcurrencyConflictError struct {
	OrderID  string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("order %s was modified concurrently: expected version %d, found %d",
		e.OrderID, e.Expected, e.Actual)
}

// Retryable is always true for version conflicts.
func (e *ConcurrencyConflictError) Retryable() bool { return true }

// InvalidTransitionError reports a mutation the current status disallows.
// Action is set for guarded operations that are not status moves, such as
// amendments.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
	Action  string
}

func (e *InvalidTransitionError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("order %s cannot be %s while %s", e.OrderID, e.Action, e.From)
	}
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// LedgerError reports a failed ledger saga step. Critical failures need
// operator attention and must not be retried.
type LedgerError struct {
	Step     string
	OrderID  string
	Critical bool
	Err      error
}

func (e *LedgerError) Error() string {
	kind := "recoverable"
	if e.Critical {
		kind = "critical"
	}
	return fmt.Sprintf("ledger %s for order %s failed (%s): %v", e.Step, e.OrderID, kind, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Retryable reports whether the step may be attempted again.
func (e *LedgerError) Retryable() bool { return !e.Critical }

// MaintenanceTaskError wraps a failure of one scheduled task execution.
type MaintenanceTaskError struct {
	Task string
	Err  error
}

func (e *MaintenanceTaskError) Error() string {
	return fmt.Sprintf("maintenance task %s: %v", e.Task, e.Err)
}

func (e *MaintenanceTaskError) Unwrap() error { return e.Err }

// IsCriticalLedgerError reports whether err carries a critical ledger failure.
func IsCriticalLedgerError(err error) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Critical
}
