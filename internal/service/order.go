package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/engine"
	"github.com/iremturen/stofina-sub001/internal/store"
	"github.com/iremturen/stofina-sub001/internal/worker"
)

var (
	accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	symbolRegex    = regexp.MustCompile(`^[A-Z]{1,10}$`)
)

// CancelReasonUser is recorded on orders cancelled through the API.
const CancelReasonUser = "user_requested"

// Reserver places the ledger hold an order needs before it is accepted.
type Reserver interface {
	Reserve(ctx context.Context, o *domain.Order, unitPrice int64) error
}

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	TenantID    string
	AccountID   string
	Symbol      string
	Side        domain.OrderSide
	Type        domain.OrderType
	Quantity    int64
	Price       *float64 // required for LIMIT, optional for STOP_LOSS
	StopPrice   *float64 // required for STOP_LOSS
	TimeInForce domain.TimeInForce
	ExpiresAt   *time.Time
}

// AmendOrderRequest represents the input for order amendment.
type AmendOrderRequest struct {
	Price           *float64
	Quantity        *int64
	ExpectedVersion *int64
}

// SubmitResult is the outcome of a submission. Result is nil for stop
// orders, which wait for their trigger.
type SubmitResult struct {
	Order  *domain.Order
	Result *engine.MatchingResult
}

// OrderService handles order intake, amendment, cancellation and queries.
type OrderService struct {
	matcher   *engine.Matcher
	monitor   *engine.StopLossMonitor
	expiry    *engine.ExpiryManager
	calendar  *engine.Calendar
	orders    *store.OrderStore
	watchers  *store.WatcherStore
	prices    engine.PriceSource
	reserver  Reserver
	pool      *worker.Pool
	symbols   *domain.SymbolRegistry
	tolerance decimal.Decimal
	logger    *slog.Logger
	now       func() time.Time
}

// OrderServiceDeps bundles the collaborators of OrderService.
type OrderServiceDeps struct {
	Matcher   *engine.Matcher
	Monitor   *engine.StopLossMonitor
	Expiry    *engine.ExpiryManager
	Calendar  *engine.Calendar // nil disables DAY orders
	Orders    *store.OrderStore
	Watchers  *store.WatcherStore
	Prices    engine.PriceSource
	Reserver  Reserver
	Pool      *worker.Pool
	Symbols   *domain.SymbolRegistry
	Tolerance decimal.Decimal
	Logger    *slog.Logger
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(d OrderServiceDeps) *OrderService {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &OrderService{
		matcher:   d.Matcher,
		monitor:   d.Monitor,
		expiry:    d.Expiry,
		calendar:  d.Calendar,
		orders:    d.Orders,
		watchers:  d.Watchers,
		prices:    d.Prices,
		reserver:  d.Reserver,
		pool:      d.Pool,
		symbols:   d.Symbols,
		tolerance: d.Tolerance,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// SubmitOrder validates the request, reserves funds or shares, stores the
// order and runs its first matching pass. STOP_LOSS orders are handed to
// the stop-loss monitor instead.
//
// A priced order outside the tolerance band is stored as REJECTED; it is
// returned together with the *domain.OutOfRangeError.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitResult, error) {
	order, err := s.newOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	unit, err := s.reservationPrice(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := s.reserver.Reserve(ctx, order, unit); err != nil {
		return nil, err
	}
	if err := s.orders.Create(order); err != nil {
		return nil, err
	}

	if order.Type == domain.OrderTypeStopLoss {
		if _, err := s.monitor.Register(order.OrderID); err != nil {
			return nil, err
		}
		cur, err := s.track(order.OrderID)
		return &SubmitResult{Order: cur}, err
	}

	var result *engine.MatchingResult
	evalErr := s.pool.Do(ctx, "evaluate", worker.RunInline, func(ctx context.Context) error {
		var err error
		result, err = s.matcher.Evaluate(ctx, order.OrderID)
		return err
	})
	cur, err := s.track(order.OrderID)
	if err != nil {
		return nil, err
	}
	if evalErr != nil {
		s.logger.Info("order evaluation failed",
			slog.String("order_id", order.OrderID),
			slog.String("status", string(cur.Status)),
			slog.String("error", evalErr.Error()),
		)
	}
	return &SubmitResult{Order: cur, Result: result}, evalErr
}

// track re-reads an order and schedules its expiry while it is live.
func (s *OrderService) track(orderID string) (*domain.Order, error) {
	cur, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !cur.Status.IsTerminal() {
		s.expiry.Add(cur)
	}
	return cur, nil
}

func (s *OrderService) newOrder(ctx context.Context, req SubmitOrderRequest) (*domain.Order, error) {
	if !req.Type.Valid() {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: LIMIT, MARKET, STOP_LOSS", req.Type),
		}
	}
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if req.TenantID != "" && !accountIDRegex.MatchString(req.TenantID) {
		return nil, &domain.ValidationError{Message: "tenant_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if !req.Side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'BUY' or 'SELL'"}
	}
	if !symbolRegex.MatchString(req.Symbol) {
		return nil, &domain.ValidationError{Message: "symbol must match ^[A-Z]{1,10}$"}
	}
	if req.Quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}
	if err := s.knownSymbol(ctx, req.Symbol); err != nil {
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		OrderID:     uuid.New().String(),
		TenantID:    req.TenantID,
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Status:      domain.OrderStatusNew,
		TimeInForce: req.TimeInForce,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch {
	case req.Price == nil && req.Type.RequiresPrice():
		return nil, &domain.ValidationError{Message: fmt.Sprintf("price is required for %s orders", req.Type)}
	case req.Price != nil && !req.Type.AllowsPrice():
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%s orders must not include price", req.Type)}
	case req.Price != nil:
		cents, err := positiveCents("price", *req.Price)
		if err != nil {
			return nil, err
		}
		order.Price = cents
	}

	switch {
	case req.StopPrice == nil && req.Type.RequiresStopPrice():
		return nil, &domain.ValidationError{Message: "stop_price is required for STOP_LOSS orders"}
	case req.StopPrice != nil && !req.Type.RequiresStopPrice():
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%s orders must not include stop_price", req.Type)}
	case req.StopPrice != nil:
		cents, err := positiveCents("stop_price", *req.StopPrice)
		if err != nil {
			return nil, err
		}
		order.StopPrice = cents
	}

	if order.TimeInForce == "" {
		order.TimeInForce = domain.TimeInForceGTC
	}
	if !order.TimeInForce.Valid() {
		return nil, &domain.ValidationError{Message: "time_in_force must be 'GTC' or 'DAY'"}
	}
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, &domain.ValidationError{Message: "expires_at must be a future timestamp"}
		}
		at := *req.ExpiresAt
		order.ExpiresAt = &at
	} else if order.TimeInForce == domain.TimeInForceDay {
		if s.calendar == nil {
			return nil, &domain.ValidationError{Message: "DAY orders are not accepted without a market calendar"}
		}
		at := s.calendar.NextClose(now)
		order.ExpiresAt = &at
	}
	return order, nil
}

// knownSymbol accepts registered symbols and symbols the price feed
// quotes, registering the latter.
func (s *OrderService) knownSymbol(ctx context.Context, symbol string) error {
	if s.symbols.Exists(symbol) {
		return nil
	}
	if _, err := s.prices.CurrentPrice(ctx, symbol); err != nil {
		if errors.Is(err, domain.ErrNoMarketPrice) {
			return domain.ErrSymbolNotFound
		}
		return err
	}
	s.symbols.Register(symbol)
	return nil
}

// reservationPrice is the per-share price a reservation is sized at:
// the limit price when there is one, otherwise the stop price or the
// market price, raised by the tolerance for buys so fills at a moved
// market stay covered.
func (s *OrderService) reservationPrice(ctx context.Context, o *domain.Order) (int64, error) {
	if o.HasPrice() {
		return o.Price, nil
	}
	ref := o.StopPrice
	if ref == 0 {
		market, err := s.prices.CurrentPrice(ctx, o.Symbol)
		if err != nil {
			return 0, fmt.Errorf("market price for %s: %w", o.Symbol, err)
		}
		ref = market
	}
	if o.Side == domain.OrderSideBuy {
		return domain.ScalePrice(ref, s.tolerance), nil
	}
	return ref, nil
}

func positiveCents(field string, v float64) (int64, error) {
	if v <= 0 {
		return 0, &domain.ValidationError{Message: field + " must be greater than 0"}
	}
	cents, err := domain.DollarsToCents(v)
	if err != nil {
		return 0, &domain.ValidationError{Message: field + " must have at most 2 decimal places"}
	}
	return cents, nil
}

// GetOrder retrieves an order by ID with all its trades.
func (s *OrderService) GetOrder(orderID string) (*domain.Order, error) {
	return s.orders.Get(orderID)
}

// GetWatcher returns the stop-loss watcher of an order.
func (s *OrderService) GetWatcher(orderID string) (*domain.StopLossWatcher, error) {
	if _, err := s.orders.Get(orderID); err != nil {
		return nil, err
	}
	return s.watchers.GetByOrder(orderID)
}

// CancelOrder cancels a live order. Cancelling a terminal order returns it
// unchanged.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.matcher.CancelOrder(ctx, orderID, CancelReasonUser)
	if order != nil && order.Status.IsTerminal() {
		s.expiry.Remove(orderID)
	}
	return order, err
}

// AmendOrder changes the price and/or quantity of a resting order.
func (s *OrderService) AmendOrder(ctx context.Context, orderID string, req AmendOrderRequest) (*domain.Order, error) {
	a := engine.Amendment{ExpectedVersion: req.ExpectedVersion}
	if req.Price != nil {
		cents, err := positiveCents("price", *req.Price)
		if err != nil {
			return nil, err
		}
		a.Price = &cents
	}
	if req.Quantity != nil {
		if *req.Quantity <= 0 {
			return nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
		}
		a.Quantity = req.Quantity
	}
	return s.matcher.AmendOrder(ctx, orderID, a)
}

// ListOrders returns a paginated list of an account's orders with optional
// status filtering.
func (s *OrderService) ListOrders(accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if !accountIDRegex.MatchString(accountID) {
		return nil, 0, &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if status != nil && !status.Valid() {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	orders, total := s.orders.ListByAccount(accountID, status, page, limit)
	return orders, total, nil
}

// RunStopLoss feeds ticks to the stop-loss monitor and gives every
// triggered order an immediate matching pass on the worker pool. Orders
// whose pass is dropped under load are picked up by the matching sweep.
func (s *OrderService) RunStopLoss(ctx context.Context, ticks <-chan domain.PriceTick) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			for _, id := range s.monitor.OnTick(tick) {
				orderID := id
				s.pool.Submit("evaluate_triggered", worker.RejectAndLog, func(ctx context.Context) error {
					_, err := s.matcher.Evaluate(ctx, orderID)
					return err
				})
			}
		}
	}
}
