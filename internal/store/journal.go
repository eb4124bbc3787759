package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

const tradeKeyPrefix = "trade/"

// PebbleJournal persists trades in a pebble database, keyed by execution
// time so Replay yields them chronologically.
type PebbleJournal struct {
	db *pebble.DB
}

// OpenPebbleJournal opens (or creates) a journal in dir.
func OpenPebbleJournal(dir string) (*PebbleJournal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open trade journal %s: %w", dir, err)
	}
	return &PebbleJournal{db: db}, nil
}

// Append durably writes one trade.
func (j *PebbleJournal) Append(t *domain.Trade) error {
	val, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return j.db.Set(tradeKey(t), val, pebble.Sync)
}

// Replay calls fn for every stored trade in execution order.
func (j *PebbleJournal) Replay(fn func(*domain.Trade) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(tradeKeyPrefix),
		UpperBound: []byte("trade0"), // '0' sorts right after '/'
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var t domain.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		if err := fn(&t); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close releases the database.
func (j *PebbleJournal) Close() error {
	return j.db.Close()
}

func tradeKey(t *domain.Trade) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", tradeKeyPrefix, t.ExecutedAt.UnixNano(), t.TradeID))
}
