// Package ledger remembers every order the bot placed so that venue events and
// open-order listings can be attributed to it. Orders absent from the ledger
// belong to someone else and must never be touched.
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/market"
)

// Meta keys used by the bot.
const (
	MetaSeeded    = "seeded"
	MetaGridSides = "grid_sides"
)

// TrackedOrder is the metadata kept for a self-placed order. The JSON shape
// matches the legacy order_records.json entries ({side, price, pos_side}).
type TrackedOrder struct {
	OrderID       string           `json:"ord_id,omitempty"`
	Direction     market.Direction `json:"side"`
	Price         decimal.Decimal  `json:"price"`
	Side          market.PosSide   `json:"pos_side"`
	ClientOrderID string           `json:"cl_ord_id,omitempty"`
	ReduceOnly    bool             `json:"reduce_only,omitempty"`
	RecordedAt    time.Time        `json:"recorded_at,omitzero"`
}

// Snapshot is the full persisted content of a Store.
// Meta values are JSON documents.
type Snapshot struct {
	Orders map[string]TrackedOrder
	Meta   map[string]json.RawMessage
}

// Store is the durable backend behind a Ledger.
type Store interface {
	Load() (Snapshot, error)
	PutOrder(o TrackedOrder) error
	PutMeta(key string, value json.RawMessage) error
	Close() error
}

// Ledger is an in-memory index over a Store. Entries are never evicted during
// the process lifetime. It is safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	store  Store
	orders map[string]TrackedOrder
	meta   map[string]json.RawMessage
}

// Open loads the store once and returns a ledger over it. A nil store yields a
// purely in-memory ledger.
func Open(store Store) (*Ledger, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	l := &Ledger{
		store:  store,
		orders: make(map[string]TrackedOrder, len(snap.Orders)),
		meta:   make(map[string]json.RawMessage, len(snap.Meta)),
	}
	for id, o := range snap.Orders {
		o.OrderID = id
		l.orders[id] = o
	}
	for k, v := range snap.Meta {
		l.meta[k] = v
	}
	return l, nil
}

// Record adds o to the index and persists it. The in-memory entry is kept even
// if persistence fails so attribution keeps working for this process.
func (l *Ledger) Record(o TrackedOrder) error {
	o.OrderID = strings.TrimSpace(o.OrderID)
	if o.OrderID == "" {
		return fmt.Errorf("ledger record: order id required")
	}
	if !o.Direction.Valid() {
		return fmt.Errorf("ledger record %s: invalid direction %q", o.OrderID, o.Direction)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("ledger record %s: invalid side %q", o.OrderID, o.Side)
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.orders[o.OrderID] = o
	l.mu.Unlock()

	if err := l.store.PutOrder(o); err != nil {
		return fmt.Errorf("persist order %s: %w", o.OrderID, err)
	}
	return nil
}

// Lookup returns the tracked order for id.
func (l *Ledger) Lookup(id string) (TrackedOrder, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[strings.TrimSpace(id)]
	return o, ok
}

// Owns reports whether id was placed by this bot.
func (l *Ledger) Owns(id string) bool {
	_, ok := l.Lookup(id)
	return ok
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// Meta returns the raw JSON stored under key.
func (l *Ledger) Meta(key string) (json.RawMessage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.meta[key]
	return v, ok
}

// SetMeta stores v (marshalled to JSON) under key.
func (l *Ledger) SetMeta(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal meta %s: %w", key, err)
	}
	l.mu.Lock()
	l.meta[key] = b
	l.mu.Unlock()
	if err := l.store.PutMeta(key, b); err != nil {
		return fmt.Errorf("persist meta %s: %w", key, err)
	}
	return nil
}

// Seeded reports whether the initial grid orders were already placed.
func (l *Ledger) Seeded() bool {
	raw, ok := l.Meta(MetaSeeded)
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v
}

func (l *Ledger) MarkSeeded() error { return l.SetMeta(MetaSeeded, true) }

func (l *Ledger) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}
