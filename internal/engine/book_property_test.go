package engine

import (
	"fmt"
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// bookOp is one add or remove applied to a book.
type bookOp struct {
	add   bool
	order domain.DisplayOrder
	id    string
}

func genBookOps(t *rapid.T) []bookOp {
	n := rapid.IntRange(1, 60).Draw(t, "numOps")
	ops := make([]bookOp, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("kind-%d", i)) == 0 {
			victim := rapid.IntRange(0, i-1).Draw(t, fmt.Sprintf("victim-%d", i))
			ops = append(ops, bookOp{id: fmt.Sprintf("o%d", victim)})
			continue
		}
		side := domain.OrderSideBuy
		if rapid.Bool().Draw(t, fmt.Sprintf("sell-%d", i)) {
			side = domain.OrderSideSell
		}
		ops = append(ops, bookOp{
			add: true,
			order: domain.DisplayOrder{
				OrderID:  fmt.Sprintf("o%d", i),
				Symbol:   "ABC",
				Side:     side,
				Price:    rapid.Int64Range(1, 40).Draw(t, fmt.Sprintf("price-%d", i)),
				Quantity: rapid.Int64Range(1, 1000).Draw(t, fmt.Sprintf("qty-%d", i)),
			},
		})
	}
	return ops
}

func applyOps(book *OrderBook, ops []bookOp) {
	for _, op := range ops {
		if op.add {
			book.AddOrder(op.order)
		} else {
			book.RemoveOrder(op.id)
		}
	}
}

// Property: bids strictly descending, asks strictly ascending, every id
// on the book at most once.
func TestProperty_BookSidesStrictlyOrdered(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook("ABC")
		applyOps(book, genBookOps(t))

		bids := book.TopLevels(domain.OrderSideBuy, 1000)
		for i := 1; i < len(bids); i++ {
			if bids[i].Price >= bids[i-1].Price {
				t.Fatalf("bids not strictly descending: %d after %d", bids[i].Price, bids[i-1].Price)
			}
		}
		asks := book.TopLevels(domain.OrderSideSell, 1000)
		for i := 1; i < len(asks); i++ {
			if asks[i].Price <= asks[i-1].Price {
				t.Fatalf("asks not strictly ascending: %d after %d", asks[i].Price, asks[i-1].Price)
			}
		}

		seen := make(map[string]bool)
		for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
			for _, o := range book.Orders(side) {
				if seen[o.OrderID] {
					t.Fatalf("order %s appears twice", o.OrderID)
				}
				seen[o.OrderID] = true
			}
		}
		if len(seen) != book.Len() {
			t.Fatalf("index holds %d ids, sides hold %d", book.Len(), len(seen))
		}
	})
}

// Property: the snapshot only depends on the operations applied, not on
// how they were batched across rebuilt books.
func TestProperty_SnapshotIndependentOfBatching(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ops := genBookOps(t)
		split := rapid.IntRange(0, len(ops)).Draw(t, "split")

		whole := NewOrderBook("ABC")
		applyOps(whole, ops)

		// Second book: first batch, then rebuild from its contents, then
		// the rest.
		first := NewOrderBook("ABC")
		applyOps(first, ops[:split])
		rebuilt := NewOrderBook("ABC")
		rebuilt.reset(append(first.Orders(domain.OrderSideBuy), first.Orders(domain.OrderSideSell)...))
		applyOps(rebuilt, ops[split:])

		a, b := whole.Snapshot(1000), rebuilt.Snapshot(1000)
		a.Timestamp, b.Timestamp = baseTime, baseTime
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("snapshots differ:\nwhole   %+v\nbatched %+v", a, b)
		}
	})
}
