package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/engine"
	"github.com/iremturen/stofina-sub001/internal/service"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders.
type submitOrderRequest struct {
	TenantID    string   `json:"tenant_id"`
	AccountID   string   `json:"account_id"`
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	Type        string   `json:"type"`
	Quantity    int64    `json:"quantity"`
	Price       *float64 `json:"price"`
	StopPrice   *float64 `json:"stop_price"`
	TimeInForce string   `json:"time_in_force"`
	ExpiresAt   *string  `json:"expires_at"`
}

// amendOrderRequest is the JSON request body for PATCH /orders/{order_id}.
type amendOrderRequest struct {
	Price           *float64 `json:"price"`
	Quantity        *int64   `json:"quantity"`
	ExpectedVersion *int64   `json:"expected_version"`
}

// orderResponse is the JSON representation of an order. Nullable fields
// are always present.
type orderResponse struct {
	OrderID           string          `json:"order_id"`
	TenantID          string          `json:"tenant_id"`
	AccountID         string          `json:"account_id"`
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"`
	Type              string          `json:"type"`
	Price             *float64        `json:"price"`
	StopPrice         *float64        `json:"stop_price"`
	Quantity          int64           `json:"quantity"`
	FilledQuantity    int64           `json:"filled_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	AveragePrice      *float64        `json:"average_price"`
	Status            string          `json:"status"`
	StatusReason      *string         `json:"status_reason"`
	TimeInForce       string          `json:"time_in_force"`
	ExpiresAt         *string         `json:"expires_at"`
	Version           int64           `json:"version"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
	Trades            []tradeResponse `json:"trades"`
}

// tradeResponse is a single trade in the order response.
type tradeResponse struct {
	TradeID    string  `json:"trade_id"`
	Reference  string  `json:"reference"`
	Price      float64 `json:"price"`
	Quantity   int64   `json:"quantity"`
	ExecutedAt string  `json:"executed_at"`
}

// matchingResponse summarises the first matching pass of a submission.
type matchingResponse struct {
	Strategy       string                `json:"strategy"`
	FilledQuantity int64                 `json:"filled_quantity"`
	CounterOrder   *counterOrderResponse `json:"counter_order"`
}

// counterOrderResponse is the liquidity placed on the book by a no-fill pass.
type counterOrderResponse struct {
	OrderID  string  `json:"order_id"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// submitOrderResponse is the JSON response for POST /orders (201 Created).
type submitOrderResponse struct {
	orderResponse
	Matching *matchingResponse `json:"matching"`
}

// watcherResponse is the JSON response for GET /orders/{order_id}/watcher.
type watcherResponse struct {
	WatcherID    string  `json:"watcher_id"`
	OrderID      string  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	TriggerPrice float64 `json:"trigger_price"`
	Quantity     int64   `json:"quantity"`
	Active       bool    `json:"active"`
	Triggered    bool    `json:"triggered"`
	CheckCount   int64   `json:"check_count"`
	LastCheckAt  *string `json:"last_check_at"`
	TriggeredAt  *string `json:"triggered_at"`
	CreatedAt    string  `json:"created_at"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Parse expires_at if provided.
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	res, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		TenantID:    req.TenantID,
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Side:        domain.OrderSide(req.Side),
		Type:        domain.OrderType(req.Type),
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: domain.TimeInForce(req.TimeInForce),
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		var order *domain.Order
		if res != nil {
			order = res.Order
		}
		writeOrderError(w, order, err)
		return
	}

	WriteJSON(w, http.StatusCreated, submitOrderResponse{
		orderResponse: buildOrderResponse(res.Order),
		Matching:      buildMatchingResponse(res.Result),
	})
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrder(chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// AmendOrder handles PATCH /orders/{order_id}.
func (h *OrderHandler) AmendOrder(w http.ResponseWriter, r *http.Request) {
	var req amendOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.orderSvc.AmendOrder(r.Context(), chi.URLParam(r, "order_id"), service.AmendOrderRequest{
		Price:           req.Price,
		Quantity:        req.Quantity,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.CancelOrder(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		writeOrderError(w, order, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// GetWatcher handles GET /orders/{order_id}/watcher.
func (h *OrderHandler) GetWatcher(w http.ResponseWriter, r *http.Request) {
	watcher, err := h.orderSvc.GetWatcher(chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildWatcherResponse(watcher))
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	// Parse query params.
	var statusFilter *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OrderStatus(s)
		statusFilter = &status
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		var err error
		page, err = strconv.Atoi(p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "page must be a valid integer")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be a valid integer")
			return
		}
	}

	orders, total, err := h.orderSvc.ListOrders(accountID, statusFilter, page, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]orderResponse, len(orders))
	for i, o := range orders {
		items[i] = buildOrderResponse(o)
		items[i].Trades = nil
	}

	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: items,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

// writeOrderError writes the mapped error and, when the request left an
// order behind, echoes it in the body.
func writeOrderError(w http.ResponseWriter, order *domain.Order, err error) {
	status, body := classify(err)
	if order != nil {
		resp := buildOrderResponse(order)
		body.Order = &resp
	}
	WriteJSON(w, status, body)
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		TenantID:          o.TenantID,
		AccountID:         o.AccountID,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		Type:              string(o.Type),
		Price:             optionalDollars(o.Price),
		StopPrice:         optionalDollars(o.StopPrice),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity(),
		AveragePrice:      optionalDollars(o.AveragePrice),
		Status:            string(o.Status),
		TimeInForce:       string(o.TimeInForce),
		ExpiresAt:         optionalTime(o.ExpiresAt),
		Version:           o.Version,
		CreatedAt:         o.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:         o.UpdatedAt.UTC().Format(timestampLayout),
		Trades:            buildTradeResponses(o.Trades),
	}
	if o.StatusReason != "" {
		reason := o.StatusReason
		resp.StatusReason = &reason
	}
	return resp
}

// buildTradeResponses converts domain trades to response trades.
func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = tradeResponse{
			TradeID:    t.TradeID,
			Reference:  t.Reference,
			Price:      domain.CentsToDollars(t.Price),
			Quantity:   t.Quantity,
			ExecutedAt: t.ExecutedAt.UTC().Format(timestampLayout),
		}
	}
	return result
}

func buildMatchingResponse(r *engine.MatchingResult) *matchingResponse {
	if r == nil {
		return nil
	}
	resp := &matchingResponse{
		Strategy:       string(r.Strategy),
		FilledQuantity: r.FilledQuantity,
	}
	if c := r.CounterOrder; c != nil {
		resp.CounterOrder = &counterOrderResponse{
			OrderID:  c.OrderID,
			Side:     string(c.Side),
			Price:    domain.CentsToDollars(c.Price),
			Quantity: c.Quantity,
		}
	}
	return resp
}

func buildWatcherResponse(wt *domain.StopLossWatcher) watcherResponse {
	return watcherResponse{
		WatcherID:    wt.WatcherID,
		OrderID:      wt.OrderID,
		Symbol:       wt.Symbol,
		Side:         string(wt.Side),
		TriggerPrice: domain.CentsToDollars(wt.TriggerPrice),
		Quantity:     wt.Quantity,
		Active:       wt.Active,
		Triggered:    wt.Triggered,
		CheckCount:   wt.CheckCount,
		LastCheckAt:  optionalTime(wt.LastCheckAt),
		TriggeredAt:  optionalTime(wt.TriggeredAt),
		CreatedAt:    wt.CreatedAt.UTC().Format(timestampLayout),
	}
}

// optionalDollars converts cents to dollars, mapping zero to null.
func optionalDollars(c int64) *float64 {
	if c == 0 {
		return nil
	}
	v := domain.CentsToDollars(c)
	return &v
}

func optionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timestampLayout)
	return &s
}
