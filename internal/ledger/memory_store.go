package ledger

import (
	"encoding/json"
	"sync"
)

// MemoryStore keeps nothing across restarts.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: Snapshot{
		Orders: make(map[string]TrackedOrder),
		Meta:   make(map[string]json.RawMessage),
	}}
}

func (s *MemoryStore) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap), nil
}

func (s *MemoryStore) PutOrder(o TrackedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Orders[o.OrderID] = o
	return nil
}

func (s *MemoryStore) PutMeta(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Meta[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneSnapshot(in Snapshot) Snapshot {
	out := Snapshot{
		Orders: make(map[string]TrackedOrder, len(in.Orders)),
		Meta:   make(map[string]json.RawMessage, len(in.Meta)),
	}
	for k, v := range in.Orders {
		out.Orders[k] = v
	}
	for k, v := range in.Meta {
		out.Meta[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
