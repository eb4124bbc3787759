package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints backed by the
// in-process ledger.
type AccountHandler struct {
	accountSvc *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// openAccountRequest is the JSON request body for POST /accounts.
type openAccountRequest struct {
	AccountID       string         `json:"account_id"`
	InitialCash     float64        `json:"initial_cash"`
	InitialHoldings []holdingInput `json:"initial_holdings"`
}

// holdingInput is a single holding in the open request.
type holdingInput struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// balanceResponse is the JSON response for POST /accounts and
// GET /accounts/{account_id}.
type balanceResponse struct {
	AccountID     string                   `json:"account_id"`
	CashBalance   float64                  `json:"cash_balance"`
	ReservedCash  float64                  `json:"reserved_cash"`
	AvailableCash float64                  `json:"available_cash"`
	Holdings      []holdingBalanceResponse `json:"holdings"`
	UpdatedAt     string                   `json:"updated_at"`
}

// holdingBalanceResponse is a single holding in the balance response.
type holdingBalanceResponse struct {
	Symbol            string `json:"symbol"`
	Quantity          int64  `json:"quantity"`
	ReservedQuantity  int64  `json:"reserved_quantity"`
	AvailableQuantity int64  `json:"available_quantity"`
}

// Open handles POST /accounts.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	holdings := make([]service.HoldingInput, len(req.InitialHoldings))
	for i, h := range req.InitialHoldings {
		holdings[i] = service.HoldingInput{
			Symbol:   h.Symbol,
			Quantity: h.Quantity,
		}
	}

	balance, err := h.accountSvc.Open(service.OpenAccountRequest{
		AccountID:       req.AccountID,
		InitialCash:     req.InitialCash,
		InitialHoldings: holdings,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildBalanceResponse(balance))
}

// GetBalance handles GET /accounts/{account_id}.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.accountSvc.GetBalance(chi.URLParam(r, "account_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBalanceResponse(balance))
}

func buildBalanceResponse(b *service.BalanceResponse) balanceResponse {
	holdings := make([]holdingBalanceResponse, len(b.Holdings))
	for i, h := range b.Holdings {
		holdings[i] = holdingBalanceResponse{
			Symbol:            h.Symbol,
			Quantity:          h.Quantity,
			ReservedQuantity:  h.ReservedQuantity,
			AvailableQuantity: h.AvailableQuantity,
		}
	}

	return balanceResponse{
		AccountID:     b.AccountID,
		CashBalance:   domain.CentsToDollars(b.CashBalance),
		ReservedCash:  domain.CentsToDollars(b.ReservedCash),
		AvailableCash: domain.CentsToDollars(b.AvailableCash),
		Holdings:      holdings,
		UpdatedAt:     b.UpdatedAt.UTC().Format(timestampLayout),
	}
}
