package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type fileDoc struct {
	Orders map[string]TrackedOrder     `json:"orders"`
	Meta   map[string]json.RawMessage `json:"meta,omitempty"`
}

// FileStore persists the whole ledger as one JSON document, rewritten
// atomically (tmp + rename) on every change.
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  fileDoc
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger file path required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc = fileDoc{
		Orders: make(map[string]TrackedOrder),
		Meta:   make(map[string]json.RawMessage),
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cloneSnapshot(Snapshot(s.doc)), nil
		}
		return Snapshot{}, err
	}

	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("parse ledger %s: %w", s.path, err)
	}
	for id, o := range doc.Orders {
		o.OrderID = id
		s.doc.Orders[id] = o
	}
	for k, v := range doc.Meta {
		s.doc.Meta[k] = v
	}
	return cloneSnapshot(Snapshot(s.doc)), nil
}

func (s *FileStore) PutOrder(o TrackedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Orders == nil {
		s.doc.Orders = make(map[string]TrackedOrder)
	}
	s.doc.Orders[o.OrderID] = o
	return s.flushLocked()
}

func (s *FileStore) PutMeta(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Meta == nil {
		s.doc.Meta = make(map[string]json.RawMessage)
	}
	s.doc.Meta[key] = append(json.RawMessage(nil), value...)
	return s.flushLocked()
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(s.doc, "", "    ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
