package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// keys: o:<order id>, m:<meta key>
var (
	orderPrefix = []byte("o:")
	metaPrefix  = []byte("m:")
)

func orderKey(id string) []byte { return append(append([]byte(nil), orderPrefix...), id...) }
func metaKey(k string) []byte   { return append(append([]byte(nil), metaPrefix...), k...) }

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// PebbleStore keeps ledger entries in a local pebble database.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger pebble path required")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Load() (Snapshot, error) {
	snap := Snapshot{
		Orders: make(map[string]TrackedOrder),
		Meta:   make(map[string]json.RawMessage),
	}

	if err := s.scan(orderPrefix, func(k, v []byte) error {
		var o TrackedOrder
		if err := json.Unmarshal(v, &o); err != nil {
			return fmt.Errorf("decode order %s: %w", k, err)
		}
		o.OrderID = string(k)
		snap.Orders[o.OrderID] = o
		return nil
	}); err != nil {
		return Snapshot{}, err
	}

	if err := s.scan(metaPrefix, func(k, v []byte) error {
		snap.Meta[string(k)] = append(json.RawMessage(nil), v...)
		return nil
	}); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key()[len(prefix):], iter.Value()); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}

func (s *PebbleStore) PutOrder(o TrackedOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.OrderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) PutMeta(key string, value json.RawMessage) error {
	if err := s.db.Set(metaKey(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }
