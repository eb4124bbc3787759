package engine

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// priceLevel holds the FIFO queue of display orders resting at one price.
type priceLevel struct {
	price  int64
	orders []domain.DisplayOrder
}

// bidLess orders bid levels by price descending, so Min() is the best bid.
func bidLess(a, b *priceLevel) bool {
	return a.price > b.price
}

// askLess orders ask levels by price ascending, so Min() is the best ask.
func askLess(a, b *priceLevel) bool {
	return a.price < b.price
}

type bookKey struct {
	side  domain.OrderSide
	price int64
}

// OrderBook maintains the bid and ask sides for a single symbol using
// B-trees of price levels, each level a FIFO queue (price-time priority).
// A secondary index maps order_id to its level for removal.
//
// OrderBook methods do not lock. Callers hold the book's lock: the write
// lock for mutations, the read lock for queries.
type OrderBook struct {
	symbol    string
	mu        sync.RWMutex
	bids      *btree.BTreeG[*priceLevel]
	asks      *btree.BTreeG[*priceLevel]
	index     map[string]bookKey // order_id → level
	updatedAt time.Time
	now       func() time.Time
}

const btreeDegree = 32

// NewOrderBook creates an order book for the given symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   btree.NewG[*priceLevel](btreeDegree, bidLess),
		asks:   btree.NewG[*priceLevel](btreeDegree, askLess),
		index:  make(map[string]bookKey),
		now:    time.Now,
	}
}

// Symbol returns the symbol this book serves.
func (ob *OrderBook) Symbol() string { return ob.symbol }

// Lock acquires the symbol's write lock.
func (ob *OrderBook) Lock() { ob.mu.Lock() }

// Unlock releases the symbol's write lock.
func (ob *OrderBook) Unlock() { ob.mu.Unlock() }

// RLock acquires the read lock on the order book.
func (ob *OrderBook) RLock() { ob.mu.RLock() }

// RUnlock releases the read lock on the order book.
func (ob *OrderBook) RUnlock() { ob.mu.RUnlock() }

func (ob *OrderBook) side(s domain.OrderSide) *btree.BTreeG[*priceLevel] {
	if s == domain.OrderSideBuy {
		return ob.bids
	}
	return ob.asks
}

// AddOrder appends o to the queue at its price, creating the level if
// absent. It returns false, leaving the book untouched, when o belongs to
// another symbol, has an invalid side, a non-positive price or quantity,
// or an id already on the book.
func (ob *OrderBook) AddOrder(o domain.DisplayOrder) bool {
	if o.Symbol != ob.symbol || !o.Side.Valid() || o.Price <= 0 || o.Quantity <= 0 {
		return false
	}
	if _, dup := ob.index[o.OrderID]; dup {
		return false
	}

	tree := ob.side(o.Side)
	lvl, ok := tree.Get(&priceLevel{price: o.Price})
	if !ok {
		lvl = &priceLevel{price: o.Price}
		tree.ReplaceOrInsert(lvl)
	}
	lvl.orders = append(lvl.orders, o)
	ob.index[o.OrderID] = bookKey{side: o.Side, price: o.Price}
	ob.touch()
	return true
}

// RemoveOrder deletes an order by id, dropping its level when it becomes
// empty. It reports whether anything was removed.
func (ob *OrderBook) RemoveOrder(orderID string) bool {
	key, ok := ob.index[orderID]
	if !ok {
		return false
	}
	delete(ob.index, orderID)

	tree := ob.side(key.side)
	lvl, ok := tree.Get(&priceLevel{price: key.price})
	if !ok {
		return false
	}
	for i := range lvl.orders {
		if lvl.orders[i].OrderID == orderID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		tree.Delete(lvl)
	}
	ob.touch()
	return true
}

// Contains reports whether an order id is on the book.
func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.index[orderID]
	return ok
}

// Len returns the number of individual orders on the book.
func (ob *OrderBook) Len() int {
	return len(ob.index)
}

// BestBid returns the highest bid price.
func (ob *OrderBook) BestBid() (int64, bool) {
	lvl, ok := ob.bids.Min()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest ask price.
func (ob *OrderBook) BestAsk() (int64, bool) {
	lvl, ok := ob.asks.Min()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// Spread returns bestAsk − bestBid, or false if either side is empty.
func (ob *OrderBook) Spread() (int64, bool) {
	bid, ok := ob.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := ob.BestAsk()
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// TopLevels returns up to n aggregated price levels from one side in
// priority order.
func (ob *OrderBook) TopLevels(side domain.OrderSide, n int) []domain.OrderLevel {
	if n <= 0 {
		return []domain.OrderLevel{}
	}
	levels := make([]domain.OrderLevel, 0, n)
	ob.side(side).Ascend(func(lvl *priceLevel) bool {
		var total int64
		for _, o := range lvl.orders {
			total += o.Quantity
		}
		levels = append(levels, domain.OrderLevel{
			Price:         lvl.price,
			TotalQuantity: total,
			OrderCount:    len(lvl.orders),
		})
		return len(levels) < n
	})
	return levels
}

// Orders returns every order on one side in price-time priority.
func (ob *OrderBook) Orders(side domain.OrderSide) []domain.DisplayOrder {
	out := make([]domain.DisplayOrder, 0)
	ob.side(side).Ascend(func(lvl *priceLevel) bool {
		out = append(out, lvl.orders...)
		return true
	})
	return out
}

// LastUpdate returns the time of the last mutation.
func (ob *OrderBook) LastUpdate() time.Time {
	return ob.updatedAt
}

// Snapshot aggregates up to depth levels per side.
func (ob *OrderBook) Snapshot(depth int) domain.BookSnapshot {
	snap := domain.BookSnapshot{
		Symbol:    ob.symbol,
		Bids:      ob.TopLevels(domain.OrderSideBuy, depth),
		Asks:      ob.TopLevels(domain.OrderSideSell, depth),
		Timestamp: ob.updatedAt,
	}
	if bid, ok := ob.BestBid(); ok {
		snap.BestBid = &bid
	}
	if ask, ok := ob.BestAsk(); ok {
		snap.BestAsk = &ask
	}
	if spread, ok := ob.Spread(); ok {
		snap.Spread = &spread
	}
	return snap
}

// reset replaces the whole book with orders. Invalid orders are skipped.
func (ob *OrderBook) reset(orders []domain.DisplayOrder) {
	ob.bids.Clear(false)
	ob.asks.Clear(false)
	ob.index = make(map[string]bookKey, len(orders))
	for _, o := range orders {
		ob.AddOrder(o)
	}
	ob.touch()
}

func (ob *OrderBook) touch() {
	ob.updatedAt = ob.now()
}

// BookManager is a thread-safe registry of symbol → OrderBook. Each book
// carries its own lock.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate returns the order book for the given symbol, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(symbol string) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[symbol]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[symbol]; ok {
		return book
	}
	book = NewOrderBook(symbol)
	bm.books[symbol] = book
	return book
}

// Get returns an existing book.
func (bm *BookManager) Get(symbol string) (*OrderBook, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	book, ok := bm.books[symbol]
	return book, ok
}

// Snapshot takes the symbol's read lock and aggregates depth levels per
// side. An unknown symbol yields an empty snapshot.
func (bm *BookManager) Snapshot(symbol string, depth int) domain.BookSnapshot {
	book := bm.GetOrCreate(symbol)
	book.RLock()
	defer book.RUnlock()
	return book.Snapshot(depth)
}
