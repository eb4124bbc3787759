package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

func TestWriteJSON(t *testing.T) {
	t.Run("sets content type and status code", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusCreated, map[string]string{"status": "ok"})

		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if w.Code != http.StatusCreated {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusCreated)
		}
	})

	t.Run("keeps null fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, orderResponse{OrderID: "o1"})

		var raw map[string]any
		if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		for _, field := range []string{"price", "stop_price", "average_price", "expires_at", "status_reason"} {
			v, ok := raw[field]
			if !ok || v != nil {
				t.Errorf("%s = %v (present %v), want null", field, v, ok)
			}
		}
	})
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusNotFound, "order_not_found", "order not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["error"] != "order_not_found" || raw["message"] != "order not found" {
		t.Errorf("unexpected body: %v", raw)
	}
	for _, field := range []string{"retryable", "critical", "order"} {
		if _, ok := raw[field]; ok {
			t.Errorf("%s should be omitted from a plain error", field)
		}
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
	}{
		{"valid", "application/json", `{"name":"test"}`, false},
		{"charset", "application/json; charset=utf-8", `{"name":"test"}`, false},
		{"missing content type", "", `{"name":"test"}`, true},
		{"wrong content type", "text/plain", `{"name":"test"}`, true},
		{"malformed", "application/json", `{invalid json}`, true},
		{"unknown field", "application/json", `{"name":"test","extra":1}`, true},
		{"empty body", "application/json", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			var v struct {
				Name string `json:"name"`
			}
			err := ParseJSON(r, &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && v.Name != "test" {
				t.Errorf("name = %q, want %q", v.Name, "test")
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
		critical  bool
	}{
		{"validation", &domain.ValidationError{Message: "bad"}, http.StatusBadRequest, "validation_error", false, false},
		{"out of range", &domain.OutOfRangeError{Symbol: "ABC", Price: 12000, MarketPrice: 10000,
			Deviation: decimal.RequireFromString("0.2"), Tolerance: decimal.RequireFromString("0.1")},
			http.StatusUnprocessableEntity, "price_out_of_range", false, false},
		{"conflict", &domain.ConcurrencyConflictError{OrderID: "o1", Expected: 1, Actual: 2}, http.StatusConflict, "concurrency_conflict", true, false},
		{"transition", &domain.InvalidTransitionError{OrderID: "o1", From: domain.OrderStatusFilled, Action: "amended"}, http.StatusConflict, "invalid_transition", false, false},
		{"funds", &domain.LedgerError{Step: "reserve", Err: domain.ErrInsufficientFunds}, http.StatusUnprocessableEntity, "insufficient_funds", false, false},
		{"holdings", domain.ErrInsufficientHoldings, http.StatusUnprocessableEntity, "insufficient_holdings", false, false},
		{"recoverable ledger", &domain.LedgerError{Step: "confirm", Err: errors.New("timeout")}, http.StatusServiceUnavailable, "ledger_unavailable", true, false},
		{"critical ledger", &domain.LedgerError{Step: "confirm", Critical: true, Err: errors.New("boom")}, http.StatusInternalServerError, "ledger_failure", false, true},
		{"order not found", fmt.Errorf("get: %w", domain.ErrOrderNotFound), http.StatusNotFound, "order_not_found", false, false},
		{"watcher not found", domain.ErrWatcherNotFound, http.StatusNotFound, "watcher_not_found", false, false},
		{"symbol not found", domain.ErrSymbolNotFound, http.StatusNotFound, "symbol_not_found", false, false},
		{"account not found", domain.ErrAccountNotFound, http.StatusNotFound, "account_not_found", false, false},
		{"account exists", domain.ErrAccountExists, http.StatusConflict, "account_already_exists", false, false},
		{"no price", fmt.Errorf("market price for ABC: %w", domain.ErrNoMarketPrice), http.StatusServiceUnavailable, "no_market_price", true, false},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError, "internal_error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := classify(tt.err)
			if status != tt.status || body.Error != tt.code {
				t.Errorf("classify = %d %s, want %d %s", status, body.Error, tt.status, tt.code)
			}
			if body.Retryable != tt.retryable || body.Critical != tt.critical {
				t.Errorf("retryable/critical = %v/%v, want %v/%v", body.Retryable, body.Critical, tt.retryable, tt.critical)
			}
		})
	}
}

func TestWriteOrderError_EchoesOrder(t *testing.T) {
	w := httptest.NewRecorder()
	o := &domain.Order{OrderID: "o1", Status: domain.OrderStatusRejected, StatusReason: "out of range"}
	writeOrderError(w, o, &domain.OutOfRangeError{Symbol: "ABC", Price: 1, MarketPrice: 2})

	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Order == nil || resp.Order.OrderID != "o1" || resp.Order.Status != "REJECTED" {
		t.Fatalf("expected the order in the error body, got %+v", resp.Order)
	}
}
