package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vh7889/OKX-bot/internal/journal"
	"github.com/vh7889/OKX-bot/internal/ledger"
	"github.com/vh7889/OKX-bot/internal/market"
	"github.com/vh7889/OKX-bot/internal/metrics"
)

const defaultGatewayTimeout = 10 * time.Second

// Ignore reasons reported for no-op fills.
const (
	ReasonForeign  = "foreign"
	ReasonPartial  = "partial"
	ReasonDisabled = "disabled"
	// ReasonResting marks a side skipped by Seed because ledger-owned orders
	// for it still rest on the venue.
	ReasonResting = "resting"
)

type Config struct {
	InstID         string
	PriceDecimals  int32
	GatewayTimeout time.Duration
}

type Deps struct {
	Gateway  Gateway
	Ledger   Ledger
	Notifier Notifier        // optional
	Journal  *journal.Writer // optional
	Log      *zap.Logger     // optional
}

// Engine owns both grid sides. OnFill and Seed are serialised by one mutex so
// two fills never race to cancel/replace the same resting orders.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	sides map[market.PosSide]*GridSide

	gw       Gateway
	ledger   Ledger
	notifier Notifier
	journal  *journal.Writer
	log      *zap.Logger
	now      func() time.Time
}

// New builds an engine for the given sides. Dynamic state (position, trigger,
// take-profit count) previously saved in the ledger overrides the configured
// starting values; the static knobs always come from sides.
func New(cfg Config, sides []GridSide, deps Deps) (*Engine, error) {
	if deps.Gateway == nil {
		return nil, errors.New("grid: nil gateway")
	}
	if deps.Ledger == nil {
		return nil, errors.New("grid: nil ledger")
	}
	if cfg.PriceDecimals <= 0 {
		cfg.PriceDecimals = DefaultPriceDecimals
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		cfg:      cfg,
		sides:    make(map[market.PosSide]*GridSide, len(sides)),
		gw:       deps.Gateway,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		log:      log,
		now:      time.Now,
	}
	for _, s := range sides {
		s := s
		if !s.Side.Valid() {
			return nil, fmt.Errorf("grid: invalid side %q", s.Side)
		}
		if _, dup := e.sides[s.Side]; dup {
			return nil, fmt.Errorf("grid: duplicate side %q", s.Side)
		}
		if s.Position.IsNegative() {
			return nil, fmt.Errorf("grid: %s position must be >= 0", s.Side)
		}
		e.sides[s.Side] = &s
	}

	if raw, ok := deps.Ledger.Meta(ledger.MetaGridSides); ok {
		if err := e.restore(raw); err != nil {
			log.Warn("ignoring saved grid state", zap.Error(err))
		}
	}
	for _, s := range e.sides {
		metrics.SetPosition(string(s.Side), s.Position.InexactFloat64())
	}
	return e, nil
}

func (e *Engine) restore(raw json.RawMessage) error {
	var saved []GridSide
	if err := json.Unmarshal(raw, &saved); err != nil {
		return err
	}
	for _, s := range saved {
		cur, ok := e.sides[s.Side]
		if !ok || s.Position.IsNegative() {
			continue
		}
		cur.Position = s.Position
		cur.TriggerPrice = s.TriggerPrice
		cur.TakeProfitCount = s.TakeProfitCount
		e.log.Info("restored grid side",
			zap.String("side", string(s.Side)),
			zap.String("position", s.Position.String()),
			zap.String("trigger", s.TriggerPrice.String()),
			zap.Int64("take_profits", s.TakeProfitCount),
		)
	}
	return nil
}

// Sides returns a copy of the current side states, long first.
func (e *Engine) Sides() []GridSide {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sidesLocked()
}

func (e *Engine) sidesLocked() []GridSide {
	out := make([]GridSide, 0, len(e.sides))
	for _, k := range []market.PosSide{market.Long, market.Short} {
		if s, ok := e.sides[k]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// OnFill reacts to an order update. Events that are foreign, incomplete or for
// a disabled side return a no-op action and change nothing. The returned error
// aggregates collaborator failures; the state transition is applied regardless.
func (e *Engine) OnFill(ctx context.Context, ev FillEvent) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tracked, ok := e.ledger.Lookup(ev.OrderID)
	if !ok {
		return e.ignore(ev, ReasonForeign), nil
	}
	if !ev.Side.Valid() {
		ev.Side = tracked.Side
	}
	if !ev.Direction.Valid() {
		ev.Direction = tracked.Direction
	}
	if !ev.FullyFilled || !ev.FilledQuantity.IsPositive() || !ev.FillPrice.IsPositive() {
		return e.ignore(ev, ReasonPartial), nil
	}
	side, ok := e.sides[ev.Side]
	if !ok || !side.Enabled {
		return e.ignore(ev, ReasonDisabled), nil
	}

	metrics.IncFill(string(ev.Side), string(ev.Direction))
	e.log.Info("fill",
		zap.String("ord_id", ev.OrderID),
		zap.String("side", string(ev.Side)),
		zap.String("direction", string(ev.Direction)),
		zap.String("qty", ev.FilledQuantity.String()),
		zap.String("px", ev.FillPrice.String()),
	)
	e.journal.Record(journal.Event{
		Event:     journal.EventFill,
		InstID:    e.cfg.InstID,
		PosSide:   string(ev.Side),
		Direction: string(ev.Direction),
		OrderID:   ev.OrderID,
		Price:     ev.FillPrice.String(),
		Quantity:  ev.FilledQuantity.String(),
	})

	var errs []error
	open, err := e.listOpen(ctx)
	if err != nil {
		// Without a listing nothing is cancelled; the new pair is still placed.
		e.log.Warn("list open orders failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("list open orders: %w", err))
	}

	act := Plan(*side, ev, open, e.owns, e.cfg.PriceDecimals)
	placed, applyErrs := e.apply(ctx, act)
	act.Placed = placed
	errs = append(errs, applyErrs...)
	*side = act.State
	errs = append(errs, e.afterTransition(ctx, act)...)
	return act, errors.Join(errs...)
}

// Seed places the initial pair for every enabled side from its trigger price.
// A side already at its ceiling gets only the closing order. A side that
// still has ledger-owned orders resting on the venue is left alone, so a
// restarted process only rebuilds the sides whose grid went missing. If the
// open orders cannot be listed nothing is placed.
func (e *Engine) Seed(ctx context.Context) ([]Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open, err := e.listOpen(ctx)
	if err != nil {
		e.log.Warn("seed: list open orders failed", zap.Error(err))
		return nil, fmt.Errorf("seed: list open orders: %w", err)
	}
	resting := make(map[market.PosSide]int)
	for _, o := range open {
		if t, ok := e.ledger.Lookup(o.OrderID); ok {
			resting[t.Side]++
		}
	}

	var (
		acts   []Action
		errs   []error
		placed int
	)
	for _, k := range []market.PosSide{market.Long, market.Short} {
		side, ok := e.sides[k]
		if !ok || !side.Enabled {
			continue
		}
		if n := resting[k]; n > 0 {
			e.log.Info("grid side still resting; not reseeding", zap.String("side", string(k)), zap.Int("orders", n))
			e.journal.Record(journal.Event{Event: journal.EventSeed, InstID: e.cfg.InstID, PosSide: string(k), Reason: ReasonResting})
			acts = append(acts, Action{Kind: ActionNone, Side: k, Reason: ReasonResting, State: *side})
			continue
		}
		if !side.TriggerPrice.IsPositive() {
			errs = append(errs, fmt.Errorf("seed %s: trigger price not set", k))
			continue
		}
		quote := QuoteFor(k, side.TriggerPrice, side.Spacing, e.cfg.PriceDecimals)
		act := Action{
			Kind:   ActionSeed,
			Side:   k,
			Places: Requests(*side, quote, !side.AtCeiling()),
			State:  *side,
			Quote:  quote,
		}
		e.log.Info("seeding grid side",
			zap.String("side", string(k)),
			zap.String("trigger", side.TriggerPrice.String()),
			zap.String("entry", quote.Entry.String()),
			zap.String("exit", quote.Exit.String()),
		)
		ids, applyErrs := e.apply(ctx, act)
		act.Placed = ids
		placed += len(ids)
		errs = append(errs, applyErrs...)
		errs = append(errs, e.afterTransition(ctx, act)...)
		acts = append(acts, act)
	}
	if placed > 0 {
		if err := e.ledger.MarkSeeded(); err != nil {
			errs = append(errs, fmt.Errorf("mark seeded: %w", err))
		}
	}
	return acts, errors.Join(errs...)
}

func (e *Engine) ignore(ev FillEvent, reason string) Action {
	metrics.IncIgnored(reason)
	e.log.Debug("ignoring order event",
		zap.String("ord_id", ev.OrderID),
		zap.String("reason", reason),
	)
	if reason != ReasonForeign {
		e.journal.Record(journal.Event{
			Event:     journal.EventIgnored,
			InstID:    e.cfg.InstID,
			PosSide:   string(ev.Side),
			Direction: string(ev.Direction),
			OrderID:   ev.OrderID,
			Reason:    reason,
		})
	}
	return Action{Kind: ActionNone, Side: ev.Side, Reason: reason}
}

func (e *Engine) owns(id string) bool {
	_, ok := e.ledger.Lookup(id)
	return ok
}

// callCtx detaches from shutdown so in-flight venue calls complete, but bounds
// each call by the gateway timeout.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.GatewayTimeout)
}

func (e *Engine) listOpen(ctx context.Context) ([]OpenOrder, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.gw.ListOpenOrders(cctx)
}

// apply cancels stale orders then places the new ones, recording every
// accepted placement in the ledger. It returns the accepted order ids. Failures
// are logged and returned; nothing is retried.
func (e *Engine) apply(ctx context.Context, act Action) ([]string, []error) {
	var (
		errs   []error
		placed []string
	)
	side := string(act.Side)

	for _, id := range act.Cancels {
		cctx, cancel := e.callCtx(ctx)
		err := e.gw.CancelOrder(cctx, id)
		cancel()
		metrics.IncCancel(side, err == nil)
		ev := journal.Event{Event: journal.EventCancel, InstID: e.cfg.InstID, PosSide: side, OrderID: id, Ok: err == nil}
		if err != nil {
			ev.Err = err.Error()
			e.log.Warn("cancel failed", zap.String("ord_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("cancel %s: %w", id, err))
		} else {
			e.log.Info("cancelled stale order", zap.String("side", side), zap.String("ord_id", id))
		}
		e.journal.Record(ev)
	}

	for _, req := range act.Places {
		cctx, cancel := e.callCtx(ctx)
		ordID, clOrdID, err := e.gw.PlaceOrder(cctx, req)
		cancel()

		ev := journal.Event{
			Event:      journal.EventPlace,
			InstID:     e.cfg.InstID,
			PosSide:    side,
			Direction:  string(req.Direction),
			Action:     string(act.Kind),
			OrderID:    ordID,
			ClOrdID:    clOrdID,
			Price:      req.Price.String(),
			Quantity:   req.Quantity.String(),
			ReduceOnly: req.ReduceOnly,
		}
		if err != nil {
			metrics.IncRejected(side, string(req.Direction))
			ev.Event = journal.EventReject
			ev.Err = err.Error()
			e.journal.Record(ev)
			e.log.Warn("place order failed",
				zap.String("side", side),
				zap.String("direction", string(req.Direction)),
				zap.String("px", req.Price.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("place %s %s@%s: %w", side, req.Direction, req.Price, err))
			continue
		}
		metrics.IncPlaced(side, string(req.Direction))
		placed = append(placed, ordID)
		ev.Ok = true
		e.journal.Record(ev)
		e.log.Info("placed order",
			zap.String("side", side),
			zap.String("direction", string(req.Direction)),
			zap.String("px", req.Price.String()),
			zap.String("qty", req.Quantity.String()),
			zap.Bool("reduce_only", req.ReduceOnly),
			zap.String("ord_id", ordID),
		)

		rec := ledger.TrackedOrder{
			OrderID:       ordID,
			Direction:     req.Direction,
			Price:         req.Price,
			Side:          req.Side,
			ClientOrderID: clOrdID,
			ReduceOnly:    req.ReduceOnly,
		}
		if err := e.ledger.Record(rec); err != nil {
			e.log.Error("ledger record failed", zap.String("ord_id", ordID), zap.Error(err))
			errs = append(errs, fmt.Errorf("record %s: %w", ordID, err))
		}
	}
	return placed, errs
}

// afterTransition persists side state, updates gauges and hands the
// notification off. Nothing here can undo the transition.
func (e *Engine) afterTransition(ctx context.Context, act Action) []error {
	var errs []error
	st := act.State

	switch act.Kind {
	case ActionTakeProfit:
		metrics.IncTakeProfit(string(st.Side))
	case ActionCeiling:
		metrics.IncCeiling(string(st.Side))
		e.log.Warn("position ceiling reached; opening order suspended",
			zap.String("side", string(st.Side)),
			zap.String("position", st.Position.String()),
			zap.String("max", st.MaxPosition.String()),
		)
	}
	metrics.SetPosition(string(st.Side), st.Position.InexactFloat64())

	if err := e.ledger.SetMeta(ledger.MetaGridSides, e.sidesLocked()); err != nil {
		e.log.Error("persist grid state failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("persist grid state: %w", err))
	}

	name := journal.EventFill
	if act.Kind == ActionSeed {
		name = journal.EventSeed
	}
	e.journal.Record(journal.Event{
		Event:           name,
		InstID:          e.cfg.InstID,
		PosSide:         string(st.Side),
		Action:          string(act.Kind),
		Position:        st.Position.String(),
		MaxPosition:     st.MaxPosition.String(),
		TriggerPrice:    st.TriggerPrice.String(),
		EntryPrice:      act.Quote.Entry.String(),
		ExitPrice:       act.Quote.Exit.String(),
		TakeProfitCount: st.TakeProfitCount,
		State:           "applied",
	})

	if e.notifier != nil {
		n := Notification{
			Side:            st.Side,
			Kind:            act.Kind,
			Position:        st.Position,
			MaxPosition:     st.MaxPosition,
			TriggerPrice:    st.TriggerPrice,
			EntryPrice:      act.Quote.Entry,
			ExitPrice:       act.Quote.Exit,
			Increment:       st.Increment,
			TakeProfitCount: st.TakeProfitCount,
			At:              e.now(),
		}
		if err := e.notifier.Notify(ctx, n); err != nil {
			metrics.IncNotifyFailure()
			e.log.Warn("notify failed", zap.Error(err))
		}
	}
	return errs
}
