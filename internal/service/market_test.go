package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/engine"
	"github.com/iremturen/stofina-sub001/internal/pricefeed"
	"github.com/iremturen/stofina-sub001/internal/store"
)

type testMarketEnv struct {
	books  *engine.BookManager
	trades *store.TradeStore
	feed   *pricefeed.MemoryFeed
	svc    *MarketService
	now    time.Time
}

func newTestMarketEnv(cal *engine.Calendar) *testMarketEnv {
	env := &testMarketEnv{
		books:  engine.NewBookManager(),
		trades: store.NewTradeStore(nil),
		feed:   pricefeed.NewMemoryFeed(quietLogger),
		now:    time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC),
	}
	symbols := domain.NewSymbolRegistry("ABC")
	mt := engine.NewMaintenance(engine.MaintenanceDeps{
		Symbols:  symbols,
		Books:    env.books,
		Calendar: cal,
		Logger:   quietLogger,
	})
	env.svc = NewMarketService(env.books, env.trades, env.feed, mt, cal, symbols, 5*time.Minute)
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (env *testMarketEnv) trade(id string, price, qty int64, ago time.Duration) {
	env.trades.Append(&domain.Trade{
		TradeID:    id,
		Reference:  "TRD-" + id,
		Symbol:     "ABC",
		Price:      price,
		Quantity:   qty,
		ExecutedAt: env.now.Add(-ago),
	})
}

func TestGetBook(t *testing.T) {
	env := newTestMarketEnv(nil)
	book := env.books.GetOrCreate("ABC")
	book.Lock()
	book.AddOrder(domain.DisplayOrder{OrderID: "b1", Symbol: "ABC", Side: domain.OrderSideBuy, Price: 9900, Quantity: 10})
	book.AddOrder(domain.DisplayOrder{OrderID: "b2", Symbol: "ABC", Side: domain.OrderSideBuy, Price: 9800, Quantity: 5})
	book.AddOrder(domain.DisplayOrder{OrderID: "a1", Symbol: "ABC", Side: domain.OrderSideSell, Price: 10100, Quantity: 7})
	book.Unlock()

	snap, err := env.svc.GetBook("ABC", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 9900 {
		t.Errorf("expected the best bid level only, got %+v", snap.Bids)
	}
	if snap.Spread == nil || *snap.Spread != 200 {
		t.Errorf("expected spread 200, got %v", snap.Spread)
	}
}

func TestGetBook_Errors(t *testing.T) {
	env := newTestMarketEnv(nil)
	if _, err := env.svc.GetBook("NOPE", 10); !errors.Is(err, domain.ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
	for _, depth := range []int{0, 51} {
		var ve *domain.ValidationError
		if _, err := env.svc.GetBook("ABC", depth); !errors.As(err, &ve) {
			t.Errorf("depth %d: expected ValidationError, got %v", depth, err)
		}
	}
}

func TestGetPrice_NoData(t *testing.T) {
	env := newTestMarketEnv(nil)
	resp, err := env.svc.GetPrice(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.MarketPrice != nil || resp.VWAP != nil || resp.LastTradeAt != nil {
		t.Errorf("expected an empty price response, got %+v", resp)
	}
	if resp.Window != "5m" {
		t.Errorf("expected window 5m, got %s", resp.Window)
	}
}

func TestGetPrice_MarketAndVWAP(t *testing.T) {
	env := newTestMarketEnv(nil)
	env.feed.Set("ABC", 10050, env.now)
	env.trade("old", 50000, 100, 10*time.Minute)
	env.trade("t1", 10000, 10, time.Minute)
	env.trade("t2", 10300, 20, 30*time.Second)

	resp, err := env.svc.GetPrice(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.MarketPrice == nil || *resp.MarketPrice != 10050 {
		t.Errorf("expected market price 10050, got %v", resp.MarketPrice)
	}
	if resp.VWAP == nil || *resp.VWAP != 10200 {
		t.Errorf("expected VWAP 10200, got %v", resp.VWAP)
	}
	if resp.TradesInWindow != 2 {
		t.Errorf("expected 2 trades in window, got %d", resp.TradesInWindow)
	}
}

func TestGetPrice_FallsBackToLastTrade(t *testing.T) {
	env := newTestMarketEnv(nil)
	env.trade("t1", 9000, 1, time.Hour)
	env.trade("t2", 9100, 1, 30*time.Minute)

	resp, _ := env.svc.GetPrice(context.Background(), "ABC")
	if resp.VWAP == nil || *resp.VWAP != 9100 {
		t.Errorf("expected the last trade price 9100, got %v", resp.VWAP)
	}
	if resp.TradesInWindow != 0 {
		t.Errorf("expected no trades in window, got %d", resp.TradesInWindow)
	}
}

func TestGetPrice_UnknownSymbol(t *testing.T) {
	env := newTestMarketEnv(nil)
	if _, err := env.svc.GetPrice(context.Background(), "NOPE"); !errors.Is(err, domain.ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestGetPhase(t *testing.T) {
	resp := newTestMarketEnv(nil).svc.GetPhase()
	if resp.Phase != domain.MarketPhaseOpen || !resp.Trading || resp.NextClose != nil {
		t.Errorf("without a calendar the market is always open, got %+v", resp)
	}

	cal, err := engine.NewCalendar(time.UTC, 9*time.Hour+30*time.Minute, 16*time.Hour)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	resp = newTestMarketEnv(cal).svc.GetPhase()
	want := time.Date(2025, 1, 6, 16, 0, 0, 0, time.UTC)
	if resp.NextClose == nil || !resp.NextClose.Equal(want) {
		t.Errorf("expected next close %v, got %v", want, resp.NextClose)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{5 * time.Minute, "5m"},
		{90 * time.Second, "1m30s"},
		{time.Hour, "60m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestProperty_VWAPWithinTradeRange verifies that the VWAP over any set of
// in-window trades lies between their lowest and highest price.
func TestProperty_VWAPWithinTradeRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestMarketEnv(nil)
		n := rapid.IntRange(1, 20).Draw(t, "trades")
		lo, hi := int64(1<<62), int64(0)
		for i := 0; i < n; i++ {
			price := rapid.Int64Range(1, 100000).Draw(t, "price")
			qty := rapid.Int64Range(1, 10000).Draw(t, "qty")
			lo, hi = min(lo, price), max(hi, price)
			env.trades.Append(&domain.Trade{
				TradeID:    rapid.StringMatching(`[a-z]{12}`).Draw(t, "id"),
				Reference:  rapid.StringMatching(`TRD-[a-z0-9]{16}`).Draw(t, "ref"),
				Symbol:     "ABC",
				Price:      price,
				Quantity:   qty,
				ExecutedAt: env.now.Add(-time.Duration(n-i) * time.Second),
			})
		}

		resp, err := env.svc.GetPrice(context.Background(), "ABC")
		if err != nil {
			t.Fatalf("GetPrice: %v", err)
		}
		if resp.VWAP == nil {
			t.Fatal("expected a VWAP")
		}
		if *resp.VWAP < lo || *resp.VWAP > hi {
			t.Fatalf("VWAP %d outside [%d, %d]", *resp.VWAP, lo, hi)
		}
	})
}
