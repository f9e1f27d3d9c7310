// Package stream keeps the private orders subscription alive and feeds
// order updates for the configured instrument to the grid engine.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vh7889/OKX-bot/internal/grid"
	"github.com/vh7889/OKX-bot/internal/journal"
	"github.com/vh7889/OKX-bot/internal/market"
	"github.com/vh7889/OKX-bot/internal/metrics"
	"github.com/vh7889/OKX-bot/internal/okx"
	"github.com/vh7889/OKX-bot/internal/okxws"
)

const DefaultReconnectDelay = 5 * time.Second

type State int32

const (
	Disconnected State = iota
	Authenticating
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one authenticated websocket connection.
type Session interface {
	Login(ctx context.Context, creds okx.Credentials) error
	Subscribe(ctx context.Context, args ...okxws.Arg) error
	Read() (okxws.Push, error)
	Close() error
}

type DialFunc func(ctx context.Context) (Session, error)

// OKXDialer dials the real private endpoint.
func OKXDialer(url string, opts okxws.Options) DialFunc {
	return func(ctx context.Context) (Session, error) {
		s, err := okxws.Dial(ctx, url, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type Engine interface {
	OnFill(ctx context.Context, ev grid.FillEvent) (grid.Action, error)
	Seed(ctx context.Context) ([]grid.Action, error)
}

type Config struct {
	InstID         string
	InstType       string
	Credentials    okx.Credentials
	ContractValue  decimal.Decimal
	ReconnectDelay time.Duration
}

type Dispatcher struct {
	cfg     Config
	dial    DialFunc
	engine  Engine
	journal *journal.Writer
	log     *zap.Logger

	state atomic.Int32
	sleep func(ctx context.Context, d time.Duration)

	// Owned by the Run goroutine.
	seeded     bool
	subscribed bool
}

var errSeedIncomplete = errors.New("stream: initial grid not placed")

func New(cfg Config, dial DialFunc, engine Engine, j *journal.Writer, log *zap.Logger) (*Dispatcher, error) {
	if dial == nil || engine == nil {
		return nil, errors.New("stream: dial and engine are required")
	}
	if strings.TrimSpace(cfg.InstID) == "" {
		return nil, errors.New("stream: instrument required")
	}
	if cfg.InstType == "" {
		cfg.InstType = okx.DefaultInstType
	}
	if cfg.ContractValue.IsZero() {
		cfg.ContractValue = okx.DefaultContractValue
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		dial:    dial,
		engine:  engine,
		journal: j,
		log:     log,
		sleep:   sleepWithJitter,
	}, nil
}

func (d *Dispatcher) State() State { return State(d.state.Load()) }

func (d *Dispatcher) setState(s State, reason string) {
	prev := State(d.state.Swap(int32(s)))
	metrics.SetStreamState(int(s))
	if prev == s {
		return
	}
	d.log.Info("stream state", zap.String("from", prev.String()), zap.String("to", s.String()), zap.String("reason", reason))
	d.journal.Record(journal.Event{Event: journal.EventStream, InstID: d.cfg.InstID, State: s.String(), Reason: reason})
}

// Run drives Disconnected → Authenticating → Subscribed until ctx is done.
// Transport failures reconnect after the fixed delay. An auth failure before
// the first successful subscription is returned and ends the loop; after that
// it is retried like any other disconnect.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.setState(Disconnected, "stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := d.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if okx.IsAuth(err) {
			if !d.subscribed {
				d.log.Error("stream authentication rejected", zap.Error(err))
				return err
			}
			d.log.Error("stream re-login rejected; will retry", zap.Error(err))
		}
		reason := "closed"
		if err != nil {
			reason = err.Error()
		}
		d.setState(Disconnected, reason)
		metrics.IncReconnect()
		d.log.Warn("order stream dropped; reconnecting",
			zap.Error(err),
			zap.Duration("delay", d.cfg.ReconnectDelay),
		)
		d.sleep(ctx, d.cfg.ReconnectDelay)
	}
}

func (d *Dispatcher) connectOnce(ctx context.Context) error {
	d.setState(Authenticating, "connect")
	sess, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Login(ctx, d.cfg.Credentials); err != nil {
		return err
	}
	if err := sess.Subscribe(ctx, okxws.Arg{Channel: okxws.ChannelOrders, InstType: d.cfg.InstType}); err != nil {
		return err
	}
	d.setState(Subscribed, "subscribed")
	d.subscribed = true
	if err := d.seedOnce(ctx); err != nil {
		return err
	}

	for {
		p, err := sess.Read()
		if err != nil {
			return err
		}
		d.handle(ctx, p)
	}
}

// seedOnce places the initial grid the first time this process reaches
// Subscribed. Seeding counts as done once at least one side has a grid
// resting on the venue; otherwise the connection is dropped and seeding is
// retried after the reconnect delay.
func (d *Dispatcher) seedOnce(ctx context.Context) error {
	if d.seeded {
		return nil
	}
	acts, err := d.engine.Seed(ctx)
	if err != nil {
		d.log.Warn("initial grid seeding incomplete", zap.Error(err))
	}
	if err != nil && !seedProgressed(acts) {
		ev := journal.Event{Event: journal.EventSeedFailed, InstID: d.cfg.InstID, Err: err.Error()}
		d.journal.Record(ev)
		return fmt.Errorf("%w: %w", errSeedIncomplete, err)
	}
	d.seeded = true
	d.log.Info("initial grid seeded", zap.Int("sides", len(acts)))
	return nil
}

func seedProgressed(acts []grid.Action) bool {
	for _, a := range acts {
		if len(a.Placed) > 0 || a.Reason == grid.ReasonResting {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handle(ctx context.Context, p okxws.Push) {
	orders, err := okxws.DecodeOrders(p)
	if err != nil {
		d.log.Warn("discarding undecodable push", zap.Error(err))
		return
	}
	for _, o := range orders {
		if o.InstID != d.cfg.InstID {
			metrics.IncIgnored("instrument")
			continue
		}
		if o.State != okxws.StateFilled && o.State != okxws.StatePartiallyFilled {
			continue
		}
		ev, err := d.fillEvent(o)
		if err != nil {
			d.log.Warn("discarding malformed order update", zap.String("ord_id", o.OrdID), zap.Error(err))
			continue
		}
		if _, err := d.engine.OnFill(ctx, ev); err != nil {
			d.log.Warn("fill handled with errors", zap.String("ord_id", o.OrdID), zap.Error(err))
		}
	}
}

// fillEvent converts a push entry. Unknown side tags are left zero so the
// engine falls back to what the ledger recorded.
func (d *Dispatcher) fillEvent(o okxws.Order) (grid.FillEvent, error) {
	acc, err := parseDecimal(o.AccFillSz)
	if err != nil {
		return grid.FillEvent{}, fmt.Errorf("accFillSz %q: %w", o.AccFillSz, err)
	}
	px, err := parseDecimal(o.Px)
	if err != nil {
		return grid.FillEvent{}, fmt.Errorf("px %q: %w", o.Px, err)
	}
	if !px.IsPositive() {
		if px, err = parseDecimal(o.AvgPx); err != nil {
			return grid.FillEvent{}, fmt.Errorf("avgPx %q: %w", o.AvgPx, err)
		}
	}
	dir, _ := market.ParseDirection(o.Side)
	side, _ := market.ParsePosSide(o.PosSide)
	return grid.FillEvent{
		OrderID:        o.OrdID,
		Direction:      dir,
		Side:           side,
		FilledQuantity: acc.Mul(d.cfg.ContractValue),
		FillPrice:      px,
		FullyFilled:    o.State == okxws.StateFilled,
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int63n(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
