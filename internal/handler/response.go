package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format. Order is set when
// the failing request still left an order behind, such as a submission
// rejected for its price.
type errorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Critical  bool           `json:"critical,omitempty"`
	Order     *orderResponse `json:"order,omitempty"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// classify maps a domain error to its HTTP status and error body.
func classify(err error) (int, errorResponse) {
	var (
		validationErr *domain.ValidationError
		rangeErr      *domain.OutOfRangeError
		conflictErr   *domain.ConcurrencyConflictError
		transitionErr *domain.InvalidTransitionError
		ledgerErr     *domain.LedgerError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorResponse{Error: "validation_error", Message: validationErr.Message}
	case errors.As(err, &rangeErr):
		return http.StatusUnprocessableEntity, errorResponse{Error: "price_out_of_range", Message: rangeErr.Error()}
	case errors.As(err, &conflictErr):
		return http.StatusConflict, errorResponse{Error: "concurrency_conflict", Message: conflictErr.Error(), Retryable: true}
	case errors.As(err, &transitionErr):
		return http.StatusConflict, errorResponse{Error: "invalid_transition", Message: transitionErr.Error()}
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, errorResponse{Error: "insufficient_funds", Message: err.Error()}
	case errors.Is(err, domain.ErrInsufficientHoldings):
		return http.StatusUnprocessableEntity, errorResponse{Error: "insufficient_holdings", Message: err.Error()}
	case errors.As(err, &ledgerErr):
		if ledgerErr.Critical {
			return http.StatusInternalServerError, errorResponse{Error: "ledger_failure", Message: ledgerErr.Error(), Critical: true}
		}
		return http.StatusServiceUnavailable, errorResponse{Error: "ledger_unavailable", Message: ledgerErr.Error(), Retryable: true}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, errorResponse{Error: "order_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrWatcherNotFound):
		return http.StatusNotFound, errorResponse{Error: "watcher_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrSymbolNotFound):
		return http.StatusNotFound, errorResponse{Error: "symbol_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, errorResponse{Error: "account_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict, errorResponse{Error: "account_already_exists", Message: err.Error()}
	case errors.Is(err, domain.ErrNoMarketPrice):
		return http.StatusServiceUnavailable, errorResponse{Error: "no_market_price", Message: err.Error(), Retryable: true}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "An unexpected error occurred"}
	}
}

// writeDomainError writes the mapped response for err.
func writeDomainError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	WriteJSON(w, status, body)
}
