package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Holding is an account's position in one symbol.
type Holding struct {
	Quantity         int64
	ReservedQuantity int64
}

// Account is a cash and position record.
type Account struct {
	AccountID    string
	CashBalance  int64 // cents
	ReservedCash int64 // cents locked by open buy orders
	Holdings     map[string]*Holding
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AvailableCash returns the unreserved cash balance.
func (a *Account) AvailableCash() int64 {
	return a.CashBalance - a.ReservedCash
}

// AvailableQuantity returns the unreserved quantity of symbol.
func (a *Account) AvailableQuantity(symbol string) int64 {
	h, ok := a.Holdings[symbol]
	if !ok {
		return 0
	}
	return h.Quantity - h.ReservedQuantity
}

func (a *Account) clone() *Account {
	c := *a
	c.Holdings = make(map[string]*Holding, len(a.Holdings))
	for sym, h := range a.Holdings {
		hc := *h
		c.Holdings[sym] = &hc
	}
	return &c
}

// reservation is what an open order holds at the ledger.
type reservation struct {
	accountID string
	symbol    string
	side      domain.OrderSide
	unitPrice int64 // cents per share held for buys
	quantity  int64 // shares still covered
}

type settled struct {
	orderID  string
	trade    TradeRef
	reserved int64        // cash released from the reservation, buys only
	closed   *reservation // remainder released when this trade closed the order
}

// MemoryLedger is an in-process ledger speaking the saga protocol.
// Accounts referenced before they are opened are opened automatically
// with the configured starting balances when AutoOpen is set.
type MemoryLedger struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	reservations map[string]*reservation // order id
	trades       map[string]*settled     // trade id
	autoOpen     bool
	initialCash  int64
	initialQty   int64
	now          func() time.Time
}

// MemoryConfig seeds auto-opened accounts.
type MemoryConfig struct {
	AutoOpen      bool
	InitialCash   int64 // cents
	InitialShares int64 // per symbol, granted when a symbol is first traded
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(cfg MemoryConfig) *MemoryLedger {
	return &MemoryLedger{
		accounts:     make(map[string]*Account),
		reservations: make(map[string]*reservation),
		trades:       make(map[string]*settled),
		autoOpen:     cfg.AutoOpen,
		initialCash:  cfg.InitialCash,
		initialQty:   cfg.InitialShares,
		now:          time.Now,
	}
}

// OpenAccount creates an account. It returns domain.ErrAccountExists if the
// id is taken.
func (l *MemoryLedger) OpenAccount(accountID string, cash int64, holdings map[string]int64) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[accountID]; ok {
		return nil, domain.ErrAccountExists
	}
	now := l.now()
	a := &Account{
		AccountID:   accountID,
		CashBalance: cash,
		Holdings:    make(map[string]*Holding, len(holdings)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for sym, qty := range holdings {
		a.Holdings[sym] = &Holding{Quantity: qty}
	}
	l.accounts[accountID] = a
	return a.clone(), nil
}

// Account returns a copy of an account.
func (l *MemoryLedger) Account(accountID string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a.clone(), nil
}

// Accounts returns every account id, sorted.
func (l *MemoryLedger) Accounts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send applies one saga step. Steps are idempotent: confirming an already
// settled trade, cancelling a closed reservation or compensating an
// unknown trade all answer OK.
func (l *MemoryLedger) Send(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	switch req.Step {
	case StepReserve:
		return l.reserve(req), nil
	case StepConfirm, StepConfirmPartial:
		return l.settle(req), nil
	case StepCancel:
		l.release(req.OrderID)
		return ok(), nil
	case StepCompensate:
		return l.compensate(req), nil
	}
	return Response{Status: StatusFailed, Critical: true, Message: fmt.Sprintf("unknown step %q", req.Step)}, nil
}

func (l *MemoryLedger) account(id string) (*Account, bool) {
	a, found := l.accounts[id]
	if found || !l.autoOpen {
		return a, found
	}
	now := l.now()
	a = &Account{
		AccountID:   id,
		CashBalance: l.initialCash,
		Holdings:    make(map[string]*Holding),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.accounts[id] = a
	return a, true
}

func (l *MemoryLedger) holding(a *Account, symbol string) *Holding {
	h, found := a.Holdings[symbol]
	if !found {
		qty := int64(0)
		if l.autoOpen {
			qty = l.initialQty
		}
		h = &Holding{Quantity: qty}
		a.Holdings[symbol] = h
	}
	return h
}

func (l *MemoryLedger) reserve(req Request) Response {
	if _, dup := l.reservations[req.OrderID]; dup {
		return ok()
	}
	a, found := l.account(req.AccountID)
	if !found {
		return rejected(CodeUnknownAccount, "account "+req.AccountID+" not found")
	}
	side := domain.OrderSide(req.Side)
	switch side {
	case domain.OrderSideBuy:
		if a.AvailableCash() < req.Amount {
			return rejected(CodeInsufficientFunds, fmt.Sprintf(
				"need %s, available %s", domain.FormatCents(req.Amount), domain.FormatCents(a.AvailableCash())))
		}
		a.ReservedCash += req.Amount
	case domain.OrderSideSell:
		h := l.holding(a, req.Symbol)
		if h.Quantity-h.ReservedQuantity < req.Quantity {
			return rejected(CodeInsufficientHoldings, fmt.Sprintf(
				"need %d %s, available %d", req.Quantity, req.Symbol, h.Quantity-h.ReservedQuantity))
		}
		h.ReservedQuantity += req.Quantity
	default:
		return rejected("", "invalid side "+req.Side)
	}
	a.UpdatedAt = l.now()
	l.reservations[req.OrderID] = &reservation{
		accountID: a.AccountID,
		symbol:    req.Symbol,
		side:      side,
		unitPrice: req.Price,
		quantity:  req.Quantity,
	}
	return ok()
}

func (l *MemoryLedger) settle(req Request) Response {
	if req.Trade == nil {
		return Response{Status: StatusFailed, Critical: true, Message: "settlement without trade"}
	}
	if _, done := l.trades[req.Trade.TradeID]; done {
		return ok()
	}
	res, found := l.reservations[req.OrderID]
	if !found {
		return Response{Status: StatusFailed, Critical: true, Message: "no reservation for order " + req.OrderID}
	}
	a := l.accounts[res.accountID]
	qty := min(req.Trade.Quantity, res.quantity)
	notional := req.Trade.Price * qty

	s := &settled{orderID: req.OrderID, trade: *req.Trade}
	h := l.holding(a, res.symbol)
	if res.side == domain.OrderSideBuy {
		s.reserved = res.unitPrice * qty
		a.ReservedCash -= s.reserved
		a.CashBalance -= notional
		h.Quantity += qty
	} else {
		h.ReservedQuantity -= qty
		h.Quantity -= qty
		a.CashBalance += notional
	}
	s.trade.Quantity = qty
	res.quantity -= qty
	a.UpdatedAt = l.now()
	l.trades[req.Trade.TradeID] = s

	if req.Step == StepConfirm || res.quantity == 0 {
		closed := *res
		s.closed = &closed
		l.release(req.OrderID)
	}
	return ok()
}

// release frees whatever the order still holds. The caller holds l.mu.
func (l *MemoryLedger) release(orderID string) {
	res, found := l.reservations[orderID]
	if !found {
		return
	}
	delete(l.reservations, orderID)
	a := l.accounts[res.accountID]
	if res.side == domain.OrderSideBuy {
		a.ReservedCash -= res.unitPrice * res.quantity
	} else if h, ok := a.Holdings[res.symbol]; ok {
		h.ReservedQuantity -= res.quantity
	}
	a.UpdatedAt = l.now()
}

// compensate reverses a settled trade and restores the reservation it
// consumed, so the order can keep resting.
func (l *MemoryLedger) compensate(req Request) Response {
	s, found := l.trades[req.TradeID]
	if !found {
		return ok()
	}
	delete(l.trades, req.TradeID)

	res, open := l.reservations[s.orderID]
	if !open {
		if s.closed == nil {
			return Response{Status: StatusFailed, Critical: true, Message: fmt.Sprintf(
				"trade %s reversed after order %s closed its reservation", req.TradeID, s.orderID)}
		}
		res = l.reopen(s.closed)
		l.reservations[s.orderID] = res
	}
	a := l.accounts[res.accountID]
	h := l.holding(a, res.symbol)
	notional := s.trade.Price * s.trade.Quantity
	if res.side == domain.OrderSideBuy {
		a.CashBalance += notional
		a.ReservedCash += s.reserved
		h.Quantity -= s.trade.Quantity
	} else {
		a.CashBalance -= notional
		h.Quantity += s.trade.Quantity
		h.ReservedQuantity += s.trade.Quantity
	}
	res.quantity += s.trade.Quantity
	a.UpdatedAt = l.now()
	return ok()
}

// reopen holds the remainder a closed reservation had released.
func (l *MemoryLedger) reopen(closed *reservation) *reservation {
	res := *closed
	a := l.accounts[res.accountID]
	if res.side == domain.OrderSideBuy {
		a.ReservedCash += res.unitPrice * res.quantity
	} else {
		l.holding(a, res.symbol).ReservedQuantity += res.quantity
	}
	return &res
}

func ok() Response {
	return Response{Status: StatusOK}
}

func rejected(code, msg string) Response {
	return Response{Status: StatusRejected, Code: code, Message: msg}
}
