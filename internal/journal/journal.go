// Package journal appends one JSON record per grid decision to a JSONL file so
// a run can be replayed or audited with standard line tools.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names.
const (
	EventStart      = "start"
	EventSeed       = "seed"
	EventSeedFailed = "seed_failed"
	EventFill       = "fill"
	EventIgnored    = "ignored"
	EventPlace      = "place"
	EventReject     = "reject"
	EventCancel     = "cancel"
	EventStream     = "stream"
	EventShutdown   = "shutdown"
)

type Event struct {
	TsMs  int64  `json:"ts_ms"`
	Event string `json:"event"`
	RunID string `json:"run_id,omitempty"`

	InstID    string `json:"inst_id,omitempty"`
	PosSide   string `json:"pos_side,omitempty"`
	Direction string `json:"side,omitempty"`
	Action    string `json:"action,omitempty"`

	// Order fields.
	OrderID    string `json:"ord_id,omitempty"`
	ClOrdID    string `json:"cl_ord_id,omitempty"`
	Price      string `json:"px,omitempty"`
	Quantity   string `json:"qty,omitempty"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`

	// Side state after the decision.
	Position        string `json:"position,omitempty"`
	MaxPosition     string `json:"max_position,omitempty"`
	TriggerPrice    string `json:"trigger_px,omitempty"`
	EntryPrice      string `json:"entry_px,omitempty"`
	ExitPrice       string `json:"exit_px,omitempty"`
	TakeProfitCount int64  `json:"take_profit_count,omitempty"`

	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
	Ok     bool   `json:"ok,omitempty"`
	Err    string `json:"err,omitempty"`

	UptimeMs int64 `json:"uptime_ms,omitempty"`
}

// Writer appends events to a file. A nil *Writer discards everything.
// It is safe for concurrent use.
type Writer struct {
	mu        sync.Mutex
	path      string
	runID     string
	startedAt time.Time
	log       *zap.Logger
	file      *os.File
	w         *bufio.Writer
}

// New returns a writer appending to path, or nil if path is blank.
func New(path, runID string, log *zap.Logger) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{path: path, runID: runID, startedAt: time.Now(), log: log}
}

func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Record stamps ev and appends it; failures are logged, never returned.
func (w *Writer) Record(ev Event) {
	if w == nil {
		return
	}
	if ev.TsMs == 0 {
		ev.TsMs = time.Now().UnixMilli()
	}
	if ev.RunID == "" {
		ev.RunID = w.runID
	}
	if ev.UptimeMs == 0 {
		ev.UptimeMs = time.Since(w.startedAt).Milliseconds()
	}
	if err := w.Write(ev); err != nil {
		w.log.Warn("journal write failed", zap.String("event", ev.Event), zap.Error(err))
	}
}

// Write appends v as one JSON line and flushes so tailers see it.
func (w *Writer) Write(v any) error {
	if w == nil {
		return nil
	}
	if v == nil {
		return fmt.Errorf("journal: nil record")
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) ensureOpenLocked() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.w != nil {
		if err := w.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.w = nil
	w.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}
