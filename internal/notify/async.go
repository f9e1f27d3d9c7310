package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vh7889/OKX-bot/internal/grid"
	"github.com/vh7889/OKX-bot/internal/metrics"
)

const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 15 * time.Second
)

// Async hands notifications to a background worker so a slow or failing
// webhook never delays the trading loop. A full queue drops the message.
type Async struct {
	next    grid.Notifier
	log     *zap.Logger
	timeout time.Duration

	queue chan grid.Notification
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next grid.Notifier, queueSize int, log *zap.Logger) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{
		next:    next,
		log:     log,
		timeout: DefaultSendTimeout,
		queue:   make(chan grid.Notification, queueSize),
		done:    make(chan struct{}),
	}
}

// Notify enqueues n. It never blocks and never fails.
func (a *Async) Notify(_ context.Context, n grid.Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.IncNotifyDropped()
		return nil
	}
	select {
	case a.queue <- n:
	default:
		metrics.IncNotifyDropped()
		a.log.Warn("notification queue full; dropping", zap.String("side", string(n.Side)), zap.String("action", string(n.Kind)))
	}
	return nil
}

// Run delivers queued notifications until Close; it then drains what is left.
func (a *Async) Run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			metrics.IncNotifyFailure()
			a.log.Warn("notification failed", zap.String("side", string(n.Side)), zap.String("action", string(n.Kind)), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for the worker to drain,
// bounded by ctx.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
