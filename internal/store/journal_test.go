package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

func TestPebbleJournal_ReplayInExecutionOrder(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenPebbleJournal(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	// Append out of order; replay must follow ExecutedAt.
	for _, i := range []int{2, 0, 1} {
		tr := newTestTrade(fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Second))
		if err := j.Append(tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j, err = OpenPebbleJournal(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()

	var got []string
	err = j.Replay(func(tr *domain.Trade) error {
		got = append(got, tr.TradeID)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := []string{"t0", "t1", "t2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("replay order = %v, want %v", got, want)
	}
}

func TestPebbleJournal_BacksTradeStore(t *testing.T) {
	j, err := OpenPebbleJournal(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	s := NewTradeStore(j)
	tr := newTestTrade("t1", time.Now().UTC())
	if err := s.Append(tr); err != nil {
		t.Fatalf("append: %v", err)
	}

	restored := NewTradeStore(j)
	if err := restored.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := restored.GetBySymbol("AAPL")
	if len(got) != 1 || got[0].Notional() != tr.Notional() {
		t.Fatalf("restored trades = %+v", got)
	}
}
