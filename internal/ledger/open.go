package ledger

import (
	"fmt"
	"strings"
)

const (
	BackendPebble = "pebble"
	BackendJSON   = "json"
	BackendMemory = "memory"
)

// OpenBackend opens a ledger over the named backend rooted at path.
func OpenBackend(backend, path string) (*Ledger, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendPebble:
		store, err = NewPebbleStore(path)
	case BackendJSON:
		store, err = NewFileStore(path)
	case BackendMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown ledger backend %q (want pebble|json|memory)", backend)
	}
	if err != nil {
		return nil, err
	}

	l, err := Open(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return l, nil
}
