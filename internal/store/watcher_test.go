package store

import (
	"testing"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

func newTestWatcher(id, orderID, symbol string, createdAt time.Time) *domain.StopLossWatcher {
	return &domain.StopLossWatcher{
		WatcherID:    id,
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         domain.OrderSideSell,
		TriggerPrice: 4400,
		Quantity:     10,
		AccountID:    "acct-1",
		CreatedAt:    createdAt,
		Active:       true,
	}
}

func TestWatcherStore_CreateGetByOrder(t *testing.T) {
	s := NewWatcherStore()
	now := time.Now()

	if err := s.Create(newTestWatcher("w1", "o1", "ABC", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.GetByOrder("o1")
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if got.WatcherID != "w1" {
		t.Fatalf("expected w1, got %s", got.WatcherID)
	}

	if _, err := s.Get("nope"); err != domain.ErrWatcherNotFound {
		t.Fatalf("expected ErrWatcherNotFound, got %v", err)
	}
	if _, err := s.GetByOrder("nope"); err != domain.ErrWatcherNotFound {
		t.Fatalf("expected ErrWatcherNotFound, got %v", err)
	}
}

func TestWatcherStore_OneLiveWatcherPerOrder(t *testing.T) {
	s := NewWatcherStore()
	now := time.Now()

	s.Create(newTestWatcher("w1", "o1", "ABC", now))
	if err := s.Create(newTestWatcher("w2", "o1", "ABC", now)); err != domain.ErrWatcherExists {
		t.Fatalf("expected ErrWatcherExists, got %v", err)
	}

	// Soft-delete the first, then a replacement is allowed.
	w, _ := s.Get("w1")
	w.Active = false
	if err := s.Update(w); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(newTestWatcher("w2", "o1", "ABC", now)); err != nil {
		t.Fatalf("expected replacement watcher, got %v", err)
	}

	latest, _ := s.GetByOrder("o1")
	if latest.WatcherID != "w2" {
		t.Fatalf("GetByOrder should return newest watcher, got %s", latest.WatcherID)
	}
	old, _ := s.Get("w1")
	if old.Active {
		t.Fatal("soft-deleted watcher must remain stored and inactive")
	}
}

func TestWatcherStore_Untriggered(t *testing.T) {
	s := NewWatcherStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Create(newTestWatcher("w-late", "o1", "ABC", base.Add(2*time.Minute)))
	s.Create(newTestWatcher("w-early", "o2", "ABC", base))
	s.Create(newTestWatcher("w-other", "o3", "XYZ", base))
	fired := newTestWatcher("w-fired", "o4", "ABC", base)
	fired.Triggered = true
	s.Create(fired)

	abc := s.UntriggeredBySymbol("ABC")
	if len(abc) != 2 || abc[0].WatcherID != "w-early" || abc[1].WatcherID != "w-late" {
		t.Fatalf("unexpected ABC watchers: %d", len(abc))
	}
	if n := len(s.Untriggered()); n != 3 {
		t.Fatalf("expected 3 live watchers, got %d", n)
	}
}

func TestWatcherStore_UpdateNotFound(t *testing.T) {
	s := NewWatcherStore()
	if err := s.Update(newTestWatcher("w1", "o1", "ABC", time.Now())); err != domain.ErrWatcherNotFound {
		t.Fatalf("expected ErrWatcherNotFound, got %v", err)
	}
}
