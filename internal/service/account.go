package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/ledger"
)

// OpenAccountRequest represents the input for account creation.
type OpenAccountRequest struct {
	AccountID       string
	InitialCash     float64
	InitialHoldings []HoldingInput
}

// HoldingInput represents a single holding in an account creation request.
type HoldingInput struct {
	Symbol   string
	Quantity int64
}

// BalanceResponse represents the response for the account balance endpoint.
type BalanceResponse struct {
	AccountID     string
	CashBalance   int64
	ReservedCash  int64
	AvailableCash int64
	Holdings      []HoldingBalance
	UpdatedAt     time.Time
}

// HoldingBalance represents a single holding in the balance response.
type HoldingBalance struct {
	Symbol            string
	Quantity          int64
	ReservedQuantity  int64
	AvailableQuantity int64
}

// AccountService opens accounts on the in-process ledger and reports
// their balances.
type AccountService struct {
	ledger  *ledger.MemoryLedger
	symbols *domain.SymbolRegistry
}

// NewAccountService creates a new AccountService.
func NewAccountService(l *ledger.MemoryLedger, symbols *domain.SymbolRegistry) *AccountService {
	return &AccountService{
		ledger:  l,
		symbols: symbols,
	}
}

// Open validates the request, creates an account, and registers symbols.
func (s *AccountService) Open(req OpenAccountRequest) (*BalanceResponse, error) {
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if req.InitialCash < 0 {
		return nil, &domain.ValidationError{
			Message: "initial_cash must be >= 0",
		}
	}
	cashCents, err := domain.DollarsToCents(req.InitialCash)
	if err != nil {
		return nil, &domain.ValidationError{
			Message: "initial_cash must have at most 2 decimal places",
		}
	}

	holdings := make(map[string]int64, len(req.InitialHoldings))
	for _, h := range req.InitialHoldings {
		if !symbolRegex.MatchString(h.Symbol) {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding symbol must match ^[A-Z]{1,10}$, got %q", h.Symbol),
			}
		}
		if h.Quantity <= 0 {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding quantity must be > 0 for symbol %s", h.Symbol),
			}
		}
		if _, dup := holdings[h.Symbol]; dup {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("duplicate symbol in initial_holdings: %s", h.Symbol),
			}
		}
		holdings[h.Symbol] = h.Quantity
	}

	account, err := s.ledger.OpenAccount(req.AccountID, cashCents, holdings)
	if err != nil {
		return nil, err
	}
	for symbol := range holdings {
		s.symbols.Register(symbol)
	}
	return balance(account), nil
}

// GetBalance retrieves an account's balance including reservations.
func (s *AccountService) GetBalance(accountID string) (*BalanceResponse, error) {
	account, err := s.ledger.Account(accountID)
	if err != nil {
		return nil, err
	}
	return balance(account), nil
}

func balance(a *ledger.Account) *BalanceResponse {
	holdings := make([]HoldingBalance, 0, len(a.Holdings))
	for symbol, h := range a.Holdings {
		holdings = append(holdings, HoldingBalance{
			Symbol:            symbol,
			Quantity:          h.Quantity,
			ReservedQuantity:  h.ReservedQuantity,
			AvailableQuantity: h.Quantity - h.ReservedQuantity,
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })

	return &BalanceResponse{
		AccountID:     a.AccountID,
		CashBalance:   a.CashBalance,
		ReservedCash:  a.ReservedCash,
		AvailableCash: a.AvailableCash(),
		Holdings:      holdings,
		UpdatedAt:     a.UpdatedAt,
	}
}
