package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Backoff is an exponential retry delay.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
}

// Next returns the delay before retry attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	wait := b.Min
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}
	limit := b.Max
	if limit <= 0 {
		limit = 2 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > limit {
			return limit
		}
		wait = next
	}
	return wait
}

// SagaConfig tunes retries. Attempts counts the first try.
type SagaConfig struct {
	Attempts int
	Timeout  time.Duration // per attempt
	Backoff  Backoff
}

// Saga drives the ledger protocol over a Transport. It implements
// engine.Ledger and adds Reserve for order intake.
//
// A step that keeps failing, or whose attempts time out, surfaces as a
// recoverable *domain.LedgerError. Critical responses are returned at once
// as critical *domain.LedgerError and never retried. Rejections of a
// reservation map to domain.ErrInsufficientFunds,
// domain.ErrInsufficientHoldings or domain.ErrAccountNotFound.
type Saga struct {
	transport Transport
	cfg       SagaConfig
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewSaga creates a saga client. logger may be nil.
func NewSaga(transport Transport, cfg SagaConfig, logger *slog.Logger) *Saga {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saga{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Reserve holds funds (BUY) or shares (SELL) for an order. unitPrice is
// the per-share price the reservation is sized at.
func (s *Saga) Reserve(ctx context.Context, o *domain.Order, unitPrice int64) error {
	req := Request{
		Step:      StepReserve,
		OrderID:   o.OrderID,
		AccountID: o.AccountID,
		TenantID:  o.TenantID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Price:     unitPrice,
		Quantity:  o.Quantity,
	}
	if o.Side == domain.OrderSideBuy {
		req.Amount = unitPrice * o.Quantity
	}
	return s.call(ctx, req)
}

// Confirm settles the trade that completes the order and closes its
// reservation.
func (s *Saga) Confirm(ctx context.Context, o *domain.Order, t *domain.Trade) error {
	return s.call(ctx, s.settlement(StepConfirm, o, t))
}

// ConfirmPartial settles one partial fill; the reservation stays open for
// the remainder.
func (s *Saga) ConfirmPartial(ctx context.Context, o *domain.Order, t *domain.Trade) error {
	return s.call(ctx, s.settlement(StepConfirmPartial, o, t))
}

// Cancel releases whatever remains reserved for the order.
func (s *Saga) Cancel(ctx context.Context, o *domain.Order, reason string) error {
	return s.call(ctx, Request{
		Step:      StepCancel,
		OrderID:   o.OrderID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Reason:    reason,
	})
}

// Compensate reverses a settled trade.
func (s *Saga) Compensate(ctx context.Context, orderID, tradeID, reason string) error {
	return s.call(ctx, Request{
		Step:    StepCompensate,
		OrderID: orderID,
		TradeID: tradeID,
		Reason:  reason,
	})
}

func (s *Saga) settlement(step Step, o *domain.Order, t *domain.Trade) Request {
	return Request{
		Step:      step,
		OrderID:   o.OrderID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Trade: &TradeRef{
			TradeID:    t.TradeID,
			Price:      t.Price,
			Quantity:   t.Quantity,
			ExecutedAt: t.ExecutedAt,
		},
	}
}

func (s *Saga) call(ctx context.Context, req Request) error {
	var last error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		resp, err := s.attempt(ctx, req)
		switch {
		case err != nil:
			last = err
		case resp.Status == StatusOK:
			return nil
		case resp.Status == StatusRejected:
			return rejection(req, resp)
		case resp.Critical:
			return &domain.LedgerError{
				Step:     string(req.Step),
				OrderID:  req.OrderID,
				Critical: true,
				Err:      errors.New(resp.Message),
			}
		default:
			last = fmt.Errorf("ledger answered %s: %s", resp.Status, resp.Message)
		}

		if attempt == s.cfg.Attempts || ctx.Err() != nil {
			break
		}
		s.logger.Debug("retrying ledger step",
			slog.String("step", string(req.Step)),
			slog.String("order_id", req.OrderID),
			slog.Int("attempt", attempt),
			slog.String("error", last.Error()),
		)
		if err := s.sleep(ctx, s.cfg.Backoff.Next(attempt)); err != nil {
			last = errors.Join(last, err)
			break
		}
	}
	return &domain.LedgerError{Step: string(req.Step), OrderID: req.OrderID, Err: last}
}

func (s *Saga) attempt(ctx context.Context, req Request) (Response, error) {
	if s.cfg.Timeout <= 0 {
		return s.transport.Send(ctx, req)
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	resp, err := s.transport.Send(actx, req)
	if err == nil && actx.Err() != nil {
		// An answer that arrives after the deadline is not trusted.
		err = actx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("no confirmation within %s: %w", s.cfg.Timeout, err)
	}
	return resp, err
}

func rejection(req Request, resp Response) error {
	var sentinel error
	switch resp.Code {
	case CodeInsufficientFunds:
		sentinel = domain.ErrInsufficientFunds
	case CodeInsufficientHoldings:
		sentinel = domain.ErrInsufficientHoldings
	case CodeUnknownAccount:
		sentinel = domain.ErrAccountNotFound
	default:
		return &domain.ValidationError{Message: fmt.Sprintf("ledger rejected %s: %s", req.Step, resp.Message)}
	}
	if resp.Message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, resp.Message)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
