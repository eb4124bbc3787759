package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

func newTestOrder(id, accountID string, createdAt time.Time) *domain.Order {
	return &domain.Order{
		OrderID:     id,
		TenantID:    "tenant-1",
		AccountID:   accountID,
		Symbol:      "AAPL",
		Side:        domain.OrderSideBuy,
		Type:        domain.OrderTypeLimit,
		Quantity:    10,
		Price:       15000,
		Status:      domain.OrderStatusNew,
		TimeInForce: domain.TimeInForceGTC,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestOrderStore_Create_and_Get(t *testing.T) {
	s := NewOrderStore()
	now := time.Now()
	o := newTestOrder("order-1", "acct-1", now)

	if err := s.Create(o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Version != 1 {
		t.Fatalf("expected version 1 after create, got %d", o.Version)
	}

	got, err := s.Get("order-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.OrderID != "order-1" {
		t.Fatalf("expected order-1, got %s", got.OrderID)
	}
	if got.AccountID != "acct-1" {
		t.Fatalf("expected acct-1, got %s", got.AccountID)
	}
}

func TestOrderStore_Create_Duplicate(t *testing.T) {
	s := NewOrderStore()
	now := time.Now()

	if err := s.Create(newTestOrder("order-1", "acct-1", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(newTestOrder("order-1", "acct-2", now)); err != domain.ErrOrderExists {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}
}

func TestOrderStore_Get_NotFound(t *testing.T) {
	s := NewOrderStore()

	_, err := s.Get("no-such-order")
	if err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_Get_ReturnsCopy(t *testing.T) {
	s := NewOrderStore()
	s.Create(newTestOrder("order-1", "acct-1", time.Now()))

	got, _ := s.Get("order-1")
	got.Status = domain.OrderStatusFilled

	again, _ := s.Get("order-1")
	if again.Status != domain.OrderStatusNew {
		t.Fatalf("Get should return a copy; stored status became %s", again.Status)
	}
}

func TestOrderStore_Update_BumpsVersion(t *testing.T) {
	s := NewOrderStore()
	s.Create(newTestOrder("order-1", "acct-1", time.Now()))

	o, _ := s.Get("order-1")
	o.Status = domain.OrderStatusActive
	if err := s.Update(o); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if o.Version != 2 {
		t.Fatalf("expected caller copy at version 2, got %d", o.Version)
	}

	got, _ := s.Get("order-1")
	if got.Version != 2 || got.Status != domain.OrderStatusActive {
		t.Fatalf("stored order = v%d %s, want v2 ACTIVE", got.Version, got.Status)
	}
}

func TestOrderStore_Update_StaleVersion(t *testing.T) {
	s := NewOrderStore()
	s.Create(newTestOrder("order-1", "acct-1", time.Now()))

	a, _ := s.Get("order-1")
	b, _ := s.Get("order-1")

	a.Status = domain.OrderStatusActive
	if err := s.Update(a); err != nil {
		t.Fatalf("first update: %v", err)
	}

	b.Status = domain.OrderStatusCancelled
	err := s.Update(b)
	var cce *domain.ConcurrencyConflictError
	if !errors.As(err, &cce) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
	if cce.Expected != 1 || cce.Actual != 2 {
		t.Fatalf("conflict = expected %d actual %d, want 1 and 2", cce.Expected, cce.Actual)
	}

	got, _ := s.Get("order-1")
	if got.Status != domain.OrderStatusActive {
		t.Fatalf("stale update leaked: status %s", got.Status)
	}
}

func TestOrderStore_Update_NotFound(t *testing.T) {
	s := NewOrderStore()
	if err := s.Update(newTestOrder("ghost", "acct-1", time.Now())); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_ListByAccount_ReverseChronological(t *testing.T) {
	s := NewOrderStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		o := newTestOrder(
			fmt.Sprintf("order-%d", i),
			"acct-1",
			base.Add(time.Duration(i)*time.Minute),
		)
		s.Create(o)
	}

	orders, total := s.ListByAccount("acct-1", nil, 1, 10)
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(orders) != 5 {
		t.Fatalf("expected 5 orders, got %d", len(orders))
	}

	// Should be newest first.
	for i := 0; i < len(orders)-1; i++ {
		if !orders[i].CreatedAt.After(orders[i+1].CreatedAt) {
			t.Fatalf("orders not in reverse chronological order at index %d", i)
		}
	}
}

func TestOrderStore_ListByAccount_StatusFilter(t *testing.T) {
	s := NewOrderStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	statuses := []domain.OrderStatus{
		domain.OrderStatusActive,
		domain.OrderStatusFilled,
		domain.OrderStatusActive,
		domain.OrderStatusCancelled,
		domain.OrderStatusActive,
	}

	for i, st := range statuses {
		o := newTestOrder(
			fmt.Sprintf("order-%d", i),
			"acct-1",
			base.Add(time.Duration(i)*time.Minute),
		)
		o.Status = st
		s.Create(o)
	}

	active := domain.OrderStatusActive
	orders, total := s.ListByAccount("acct-1", &active, 1, 10)
	if total != 3 {
		t.Fatalf("expected total 3 active, got %d", total)
	}
	for _, o := range orders {
		if o.Status != domain.OrderStatusActive {
			t.Fatalf("expected active status, got %s", o.Status)
		}
	}
}

func TestOrderStore_ListByAccount_Pagination(t *testing.T) {
	s := NewOrderStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		s.Create(newTestOrder(fmt.Sprintf("order-%d", i), "acct-1", base.Add(time.Duration(i)*time.Minute)))
	}

	orders, total := s.ListByAccount("acct-1", nil, 1, 3)
	if total != 10 || len(orders) != 3 {
		t.Fatalf("page 1: total %d len %d, want 10 and 3", total, len(orders))
	}

	// Page 4, limit 3 → only 1 remaining.
	orders, _ = s.ListByAccount("acct-1", nil, 4, 3)
	if len(orders) != 1 {
		t.Fatalf("expected 1 order on page 4, got %d", len(orders))
	}

	orders, total = s.ListByAccount("acct-1", nil, 5, 3)
	if total != 10 || len(orders) != 0 {
		t.Fatalf("beyond last page: total %d len %d, want 10 and 0", total, len(orders))
	}
}

func TestOrderStore_ActiveBySymbol_OldestFirst(t *testing.T) {
	s := NewOrderStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		id     string
		side   domain.OrderSide
		status domain.OrderStatus
		offset time.Duration
	}{
		{"late", domain.OrderSideBuy, domain.OrderStatusActive, 3 * time.Minute},
		{"early", domain.OrderSideSell, domain.OrderStatusPartiallyFilled, time.Minute},
		{"done", domain.OrderSideBuy, domain.OrderStatusFilled, 0},
		{"pending", domain.OrderSideBuy, domain.OrderStatusPendingTrigger, 0},
		{"mid", domain.OrderSideBuy, domain.OrderStatusActive, 2 * time.Minute},
	}
	for _, sp := range cases {
		o := newTestOrder(sp.id, "acct-1", base.Add(sp.offset))
		o.Side = sp.side
		o.Status = sp.status
		s.Create(o)
	}
	other := newTestOrder("other-symbol", "acct-1", base)
	other.Symbol = "MSFT"
	other.Status = domain.OrderStatusActive
	s.Create(other)

	got := s.ActiveBySymbol("AAPL")
	want := []string{"early", "mid", "late"}
	if len(got) != len(want) {
		t.Fatalf("expected %d resting orders, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].OrderID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].OrderID)
		}
	}

}

func TestOrderStore_MatchableBySymbol_IncludesNew(t *testing.T) {
	s := NewOrderStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []domain.OrderStatus{
		domain.OrderStatusNew,
		domain.OrderStatusActive,
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusPendingTrigger,
		domain.OrderStatusRejected,
	} {
		o := newTestOrder(fmt.Sprintf("order-%d", i), "acct-1", base.Add(time.Duration(i)*time.Minute))
		o.Status = st
		s.Create(o)
	}

	got := s.MatchableBySymbol("AAPL")
	want := []string{"order-0", "order-1", "order-2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d matchable orders, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].OrderID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].OrderID)
		}
	}
}

func TestOrderStore_ExpiredBefore(t *testing.T) {
	s := NewOrderStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	exactly := now
	future := now.Add(time.Minute)

	for id, exp := range map[string]*time.Time{"past": &past, "exactly": &exactly, "future": &future, "gtc": nil} {
		o := newTestOrder(id, "acct-1", now.Add(-time.Hour))
		o.Status = domain.OrderStatusActive
		o.ExpiresAt = exp
		s.Create(o)
	}
	filled := newTestOrder("filled", "acct-1", now.Add(-time.Hour))
	filled.Status = domain.OrderStatusFilled
	filled.ExpiresAt = &past
	s.Create(filled)

	got := s.ExpiredBefore(now)
	if len(got) != 2 || got[0].OrderID != "past" || got[1].OrderID != "exactly" {
		ids := make([]string, 0, len(got))
		for _, o := range got {
			ids = append(ids, o.OrderID)
		}
		t.Fatalf("ExpiredBefore = %v, want [past exactly]", ids)
	}

	if n := len(s.Expirable()); n != 3 {
		t.Fatalf("expected 3 expirable orders, got %d", n)
	}
}

func TestOrderStore_ConcurrentAccess(t *testing.T) {
	s := NewOrderStore()
	var wg sync.WaitGroup
	base := time.Now()

	// Concurrently create orders.
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := newTestOrder(
				fmt.Sprintf("order-%d", i),
				fmt.Sprintf("acct-%d", i%5),
				base.Add(time.Duration(i)*time.Millisecond),
			)
			s.Create(o)
		}(i)
	}
	wg.Wait()

	// Each of 5 accounts should have 20 orders.
	for a := 0; a < 5; a++ {
		_, total := s.ListByAccount(fmt.Sprintf("acct-%d", a), nil, 1, 100)
		if total != 20 {
			t.Fatalf("acct-%d expected 20 orders, got %d", a, total)
		}
	}

	// Racing updates on a single order: exactly one writer per version wins.
	var wins sync.Map
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := s.Get("order-0")
			if err != nil {
				return
			}
			v := o.Version
			o.StatusReason = fmt.Sprintf("writer-%d", i)
			if s.Update(o) == nil {
				if _, dup := wins.LoadOrStore(v, i); dup {
					t.Errorf("two writers won version %d", v)
				}
			}
		}(i)
	}
	wg.Wait()
}
