package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/ledger"
	"github.com/vh7889/OKX-bot/internal/market"
)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	prefix    string
	open      []OpenOrder
	listErr   error
	placeErr  map[market.Direction]error
	placed    []OrderRequest
	cancelled []string

	// venue keeps accepted orders in open until they are cancelled.
	venue bool
	// blockPlace makes PlaceOrder wait for its context.
	blockPlace bool
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, string, error) {
	if g.blockPlace {
		<-ctx.Done()
		return "", "", fmt.Errorf("okx POST /api/v5/trade/order: %w", ctx.Err())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.placeErr[req.Direction]; err != nil {
		return "", "", err
	}
	g.seq++
	g.placed = append(g.placed, req)
	id := fmt.Sprintf("%sord-%d", g.prefix, g.seq)
	if g.venue {
		g.open = append(g.open, OpenOrder{OrderID: id, Direction: req.Direction, Side: req.Side, Price: req.Price, Quantity: req.Quantity, State: "live"})
	}
	return id, fmt.Sprintf("cl%d", g.seq), nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	for i, o := range g.open {
		if o.OrderID == id {
			g.open = append(g.open[:i], g.open[i+1:]...)
			break
		}
	}
	return nil
}

func (g *fakeGateway) ListOpenOrders(context.Context) ([]OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]OpenOrder(nil), g.open...), g.listErr
}

func (g *fakeGateway) AccountEquity(context.Context) (decimal.Decimal, error) {
	return d("1000"), nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (n *fakeNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, msg)
	return n.err
}

func newTestEngine(t *testing.T, sides ...GridSide) (*Engine, *fakeGateway, *fakeNotifier, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.Open(nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	gw := &fakeGateway{}
	n := &fakeNotifier{}
	e, err := New(Config{InstID: "BTC-USDT-SWAP"}, sides, Deps{Gateway: gw, Ledger: led, Notifier: n})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, gw, n, led
}

func track(t *testing.T, led *ledger.Ledger, id string, dir market.Direction, side market.PosSide, px string) {
	t.Helper()
	if err := led.Record(ledger.TrackedOrder{OrderID: id, Direction: dir, Side: side, Price: d(px)}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestOnFill_ForeignOrderIsNoop(t *testing.T) {
	e, gw, n, _ := newTestEngine(t, longSide())
	before := e.Sides()

	act, err := e.OnFill(context.Background(), FillEvent{
		OrderID: "not-mine", Direction: market.Buy, Side: market.Long,
		FilledQuantity: d("0.002"), FillPrice: d("85802.6"), FullyFilled: true,
	})
	if err != nil {
		t.Fatalf("OnFill: %v", err)
	}
	if !act.Noop() || act.Reason != ReasonForeign {
		t.Fatalf("expected foreign no-op, got %+v", act)
	}
	if len(gw.placed) != 0 || len(gw.cancelled) != 0 || len(n.got) != 0 {
		t.Fatalf("foreign fill had side effects: placed=%d cancelled=%d notified=%d", len(gw.placed), len(gw.cancelled), len(n.got))
	}
	after := e.Sides()
	if !after[0].Position.Equal(before[0].Position) || !after[0].TriggerPrice.Equal(before[0].TriggerPrice) {
		t.Fatalf("side state mutated: before=%+v after=%+v", before[0], after[0])
	}
}

func TestOnFill_PartialAndDisabledAreNoops(t *testing.T) {
	disabled := shortSide()
	disabled.Enabled = false
	e, gw, _, led := newTestEngine(t, longSide(), disabled)
	track(t, led, "L1", market.Buy, market.Long, "85287.78")
	track(t, led, "S1", market.Sell, market.Short, "87880.84")

	act, _ := e.OnFill(context.Background(), FillEvent{
		OrderID: "L1", Direction: market.Buy, Side: market.Long,
		FilledQuantity: d("0.001"), FillPrice: d("85287.78"), FullyFilled: false,
	})
	if act.Reason != ReasonPartial {
		t.Fatalf("reason mismatch: got %q want %q", act.Reason, ReasonPartial)
	}

	act, _ = e.OnFill(context.Background(), FillEvent{
		OrderID: "S1", Direction: market.Sell, Side: market.Short,
		FilledQuantity: d("0.002"), FillPrice: d("87880.84"), FullyFilled: true,
	})
	if act.Reason != ReasonDisabled {
		t.Fatalf("reason mismatch: got %q want %q", act.Reason, ReasonDisabled)
	}
	if len(gw.placed) != 0 {
		t.Fatalf("no-op fills placed %d orders", len(gw.placed))
	}
}

func TestOnFill_LongScenario(t *testing.T) {
	e, gw, n, led := newTestEngine(t, longSide())
	track(t, led, "seed-buy", market.Buy, market.Long, "85802.6")
	track(t, led, "old-sell", market.Sell, market.Long, "86000")
	gw.open = []OpenOrder{
		{OrderID: "old-sell", Direction: market.Sell, Side: market.Long},
		{OrderID: "manual-sell", Direction: market.Sell, Side: market.Long},
	}

	act, err := e.OnFill(context.Background(), FillEvent{
		OrderID: "seed-buy", Direction: market.Buy, Side: market.Long,
		FilledQuantity: d("0.002"), FillPrice: d("85802.6"), FullyFilled: true,
	})
	if err != nil {
		t.Fatalf("OnFill: %v", err)
	}
	if act.Kind != ActionAdd {
		t.Fatalf("kind mismatch: got %q", act.Kind)
	}
	if len(gw.cancelled) != 1 || gw.cancelled[0] != "old-sell" {
		t.Fatalf("cancelled mismatch: got %v want [old-sell]", gw.cancelled)
	}
	if len(gw.placed) != 2 {
		t.Fatalf("placed=%d want 2", len(gw.placed))
	}
	if p := gw.placed[0]; p.Direction != market.Buy || !p.Price.Equal(d("85287.78")) || !p.Quantity.Equal(d("0.002")) {
		t.Fatalf("buy mismatch: %+v", p)
	}
	if p := gw.placed[1]; p.Direction != market.Sell || !p.Price.Equal(d("86317.42")) || !p.ReduceOnly {
		t.Fatalf("sell mismatch: %+v", p)
	}

	// New orders are attributable on the next fill.
	for _, id := range []string{"ord-1", "ord-2"} {
		if !led.Owns(id) {
			t.Fatalf("ledger missing placed order %s", id)
		}
	}
	if got := e.Sides()[0].Position; !got.Equal(d("0.002")) {
		t.Fatalf("position mismatch: got %s want 0.002", got)
	}
	if len(n.got) != 1 || n.got[0].Kind != ActionAdd || !n.got[0].ExitPrice.Equal(d("86317.42")) {
		t.Fatalf("notification mismatch: %+v", n.got)
	}
}

func TestOnFill_CeilingScenario(t *testing.T) {
	g := longSide()
	g.Position = d("0.009")
	e, gw, _, led := newTestEngine(t, g)
	track(t, led, "b1", market.Buy, market.Long, "85000")

	act, err := e.OnFill(context.Background(), FillEvent{
		OrderID: "b1", Direction: market.Buy, Side: market.Long,
		FilledQuantity: d("0.002"), FillPrice: d("85000"), FullyFilled: true,
	})
	if err != nil {
		t.Fatalf("OnFill: %v", err)
	}
	if act.Kind != ActionCeiling {
		t.Fatalf("kind mismatch: got %q", act.Kind)
	}
	if len(gw.placed) != 1 || gw.placed[0].Direction != market.Sell {
		t.Fatalf("expected only the closing sell, got %+v", gw.placed)
	}
	if got := e.Sides()[0].Position; !got.Equal(d("0.011")) {
		t.Fatalf("position mismatch: got %s want 0.011", got)
	}
}

func TestOnFill_ClosingFillTakesProfit(t *testing.T) {
	g := longSide()
	g.Position = d("0.004")
	e, gw, n, led := newTestEngine(t, g)
	track(t, led, "tp", market.Sell, market.Long, "86317.42")
	track(t, led, "entry", market.Buy, market.Long, "85287.78")
	gw.open = []OpenOrder{{OrderID: "entry", Direction: market.Buy, Side: market.Long}}

	if _, err := e.OnFill(context.Background(), FillEvent{
		OrderID: "tp", Direction: market.Sell, Side: market.Long,
		FilledQuantity: d("0.002"), FillPrice: d("86317.42"), FullyFilled: true,
	}); err != nil {
		t.Fatalf("OnFill: %v", err)
	}
	st := e.Sides()[0]
	if st.TakeProfitCount != 1 || !st.Position.Equal(d("0.002")) {
		t.Fatalf("state mismatch: %+v", st)
	}
	if len(gw.cancelled) != 1 || gw.cancelled[0] != "entry" {
		t.Fatalf("cancelled mismatch: %v", gw.cancelled)
	}
	if len(n.got) != 1 || n.got[0].Kind != ActionTakeProfit || n.got[0].TakeProfitCount != 1 {
		t.Fatalf("notification mismatch: %+v", n.got)
	}
}

func TestOnFill_PlacementFailureStillTransitions(t *testing.T) {
	e, gw, _, led := newTestEngine(t, longSide())
	track(t, led, "b1", market.Buy, market.Long, "85802.6")
	gw.placeErr = map[market.Direction]error{market.Buy: errors.New("insufficient margin")}
	gw.listErr = errors.New("timeout")

	act, err := e.OnFill(context.Background(), FillEvent{
		OrderID: "b1", Direction: market.Buy, Side: market.Long,
		FilledQuantity: d("0.002"), FillPrice: d("85802.6"), FullyFilled: true,
	})
	if err == nil || !strings.Contains(err.Error(), "insufficient margin") {
		t.Fatalf("expected aggregated placement error, got %v", err)
	}
	if act.Kind != ActionAdd {
		t.Fatalf("kind mismatch: got %q", act.Kind)
	}
	if len(gw.placed) != 1 || gw.placed[0].Direction != market.Sell {
		t.Fatalf("expected the sell leg to be placed, got %+v", gw.placed)
	}
	if got := e.Sides()[0].Position; !got.Equal(d("0.002")) {
		t.Fatalf("position mismatch: got %s want 0.002", got)
	}
	if led.Len() != 2 {
		t.Fatalf("ledger len=%d want 2 (fill + placed sell)", led.Len())
	}
}

func TestOnFill_NotifierFailureDoesNotBlock(t *testing.T) {
	e, _, n, led := newTestEngine(t, longSide())
	n.err = errors.New("webhook down")
	track(t, led, "b1", market.Buy, market.Long, "85802.6")

	_, err := e.OnFill(context.Background(), FillEvent{
		OrderID: "b1", Direction: market.Buy, Side: market.Long,
		FilledQuantity: d("0.002"), FillPrice: d("85802.6"), FullyFilled: true,
	})
	if err != nil {
		t.Fatalf("notify failure leaked into OnFill: %v", err)
	}
}

func TestOnFill_FallsBackToLedgerTags(t *testing.T) {
	e, gw, _, led := newTestEngine(t, shortSide())
	track(t, led, "s1", market.Sell, market.Short, "87356.7")

	act, _ := e.OnFill(context.Background(), FillEvent{
		OrderID: "s1", FilledQuantity: d("0.002"), FillPrice: d("87356.7"), FullyFilled: true,
	})
	if act.Kind != ActionAdd || act.Side != market.Short {
		t.Fatalf("expected short add, got kind=%q side=%q", act.Kind, act.Side)
	}
	if len(gw.placed) != 2 {
		t.Fatalf("placed=%d want 2", len(gw.placed))
	}
}

func TestSeed_PlacesPairPerEnabledSide(t *testing.T) {
	short := shortSide()
	short.Position = d("0.01")
	e, gw, _, led := newTestEngine(t, longSide(), short)

	acts, err := e.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("actions=%d want 2", len(acts))
	}
	// long pair + short closing only (short starts at its ceiling)
	if len(gw.placed) != 3 {
		t.Fatalf("placed=%d want 3: %+v", len(gw.placed), gw.placed)
	}
	if p := gw.placed[2]; p.Side != market.Short || p.Direction != market.Buy || !p.Price.Equal(d("86832.56")) || !p.ReduceOnly {
		t.Fatalf("short closing mismatch: %+v", p)
	}
	if led.Len() != 3 {
		t.Fatalf("ledger len=%d want 3", led.Len())
	}
	if !led.Seeded() {
		t.Fatalf("ledger not marked seeded")
	}
	for _, a := range acts {
		if len(a.Placed) != len(a.Places) {
			t.Fatalf("%s: placed ids %v for %d requests", a.Side, a.Placed, len(a.Places))
		}
	}
}

func TestSeed_SkipsSideStillResting(t *testing.T) {
	e, gw, _, led := newTestEngine(t, longSide(), shortSide())
	track(t, led, "long-exit", market.Sell, market.Long, "86317.42")
	gw.open = []OpenOrder{
		{OrderID: "long-exit", Direction: market.Sell, Side: market.Long},
		{OrderID: "manual", Direction: market.Sell, Side: market.Short},
	}

	acts, err := e.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(acts) != 2 || acts[0].Reason != ReasonResting || !acts[0].Noop() {
		t.Fatalf("long side should be left resting: %+v", acts)
	}
	// a foreign order does not count as the short grid
	if len(gw.placed) != 2 || gw.placed[0].Side != market.Short || gw.placed[1].Side != market.Short {
		t.Fatalf("expected only the short pair, got %+v", gw.placed)
	}
}

func TestSeed_ListFailurePlacesNothing(t *testing.T) {
	e, gw, _, led := newTestEngine(t, longSide(), shortSide())
	gw.listErr = errors.New("dial tcp: i/o timeout")

	acts, err := e.Seed(context.Background())
	if err == nil || !strings.Contains(err.Error(), "i/o timeout") {
		t.Fatalf("expected list error, got %v", err)
	}
	if len(acts) != 0 || len(gw.placed) != 0 {
		t.Fatalf("nothing may be placed without a listing: acts=%+v placed=%+v", acts, gw.placed)
	}
	if led.Seeded() {
		t.Fatalf("failed seeding marked the ledger seeded")
	}
}

func TestSeed_RestartRebuildsOnlyMissingGrid(t *testing.T) {
	dir := t.TempDir()
	sides := []GridSide{longSide(), shortSide()}

	led, err := ledger.OpenBackend(ledger.BackendPebble, dir)
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	first := &fakeGateway{venue: true}
	e, err := New(Config{}, sides, Deps{Gateway: first, Ledger: led})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := led.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cases := []struct {
		name   string
		open   []OpenOrder
		placed int
	}{
		{"grid still resting", first.open, 0},
		{"grid gone while stopped", nil, 4},
		{"only short gone", first.open[:2], 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			led, err := ledger.OpenBackend(ledger.BackendPebble, dir)
			if err != nil {
				t.Fatalf("OpenBackend: %v", err)
			}
			defer led.Close()
			if !led.Seeded() {
				t.Fatalf("seeded flag lost across restart")
			}
			gw := &fakeGateway{open: append([]OpenOrder(nil), tc.open...), prefix: strings.ReplaceAll(tc.name, " ", "-") + "-"}
			e, err := New(Config{}, sides, Deps{Gateway: gw, Ledger: led})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := e.Seed(context.Background()); err != nil {
				t.Fatalf("Seed: %v", err)
			}
			if len(gw.placed) != tc.placed {
				t.Fatalf("placed=%d want %d: %+v", len(gw.placed), tc.placed, gw.placed)
			}
		})
	}
}

func TestOnFill_GatewayTimeoutCountsAsFailure(t *testing.T) {
	led, err := ledger.Open(nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	gw := &fakeGateway{blockPlace: true}
	e, err := New(Config{GatewayTimeout: 20 * time.Millisecond}, []GridSide{longSide()}, Deps{Gateway: gw, Ledger: led})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	track(t, led, "seed-buy", market.Buy, market.Long, "85802.6")

	start := time.Now()
	act, err := e.OnFill(context.Background(), FillEvent{
		OrderID: "seed-buy", Direction: market.Buy, Side: market.Long,
		FilledQuantity: d("0.002"), FillPrice: d("85802.6"), FullyFilled: true,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("blocked gateway calls were not cut off: %s", elapsed)
	}
	if len(act.Places) != 2 || len(act.Placed) != 0 {
		t.Fatalf("places=%d placed=%v", len(act.Places), act.Placed)
	}
	if st := e.Sides()[0]; !st.Position.Equal(d("0.002")) || !st.TriggerPrice.Equal(d("85802.6")) {
		t.Fatalf("state did not advance: %+v", st)
	}
}

// overlapGateway flags any two placements running at the same time.
type overlapGateway struct {
	*fakeGateway
	active     atomic.Int32
	overlapped atomic.Bool
}

func (g *overlapGateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, string, error) {
	if g.active.Add(1) > 1 {
		g.overlapped.Store(true)
	}
	defer g.active.Add(-1)
	time.Sleep(time.Millisecond)
	return g.fakeGateway.PlaceOrder(ctx, req)
}

func TestOnFill_ConcurrentFillsAreSerialised(t *testing.T) {
	const fills = 16
	led, err := ledger.Open(nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	g := longSide()
	g.MaxPosition = d("1")
	gw := &overlapGateway{fakeGateway: &fakeGateway{venue: true}}
	e, err := New(Config{}, []GridSide{g}, Deps{Gateway: gw, Ledger: led})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < fills; i++ {
		track(t, led, fmt.Sprintf("fill-%d", i), market.Buy, market.Long, "85000")
	}

	acts := make([]Action, fills)
	var wg sync.WaitGroup
	for i := 0; i < fills; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			act, err := e.OnFill(context.Background(), FillEvent{
				OrderID: fmt.Sprintf("fill-%d", i), Direction: market.Buy, Side: market.Long,
				FilledQuantity: d("0.002"), FillPrice: d("85000"), FullyFilled: true,
			})
			if err != nil {
				t.Errorf("OnFill %d: %v", i, err)
			}
			acts[i] = act
		}()
	}
	wg.Wait()

	if gw.overlapped.Load() {
		t.Fatalf("gateway calls from different fills overlapped")
	}
	if got := e.Sides()[0].Position; !got.Equal(d("0.032")) {
		t.Fatalf("position mismatch: got %s want 0.032", got)
	}
	for i, a := range acts {
		for _, c := range a.Cancels {
			for _, p := range a.Placed {
				if c == p {
					t.Fatalf("fill %d cancelled its own placement %s", i, c)
				}
			}
		}
	}
	// every fill replaced the previous exit, so exactly one remains
	exits := 0
	for _, o := range gw.open {
		if o.Direction == market.Sell {
			exits++
		}
	}
	if exits != 1 {
		t.Fatalf("resting exits=%d want 1", exits)
	}
}

func TestNew_RestoresSavedSideState(t *testing.T) {
	led, err := ledger.Open(nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	saved := longSide()
	saved.Position = d("0.006")
	saved.TriggerPrice = d("84000")
	saved.TakeProfitCount = 7
	saved.MaxPosition = d("99")
	if err := led.SetMeta(ledger.MetaGridSides, []GridSide{saved}); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}

	e, err := New(Config{}, []GridSide{longSide()}, Deps{Gateway: &fakeGateway{}, Ledger: led})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st := e.Sides()[0]
	if !st.Position.Equal(d("0.006")) || !st.TriggerPrice.Equal(d("84000")) || st.TakeProfitCount != 7 {
		t.Fatalf("dynamic state not restored: %+v", st)
	}
	if !st.MaxPosition.Equal(d("0.01")) {
		t.Fatalf("static knob overridden by saved state: max=%s", st.MaxPosition)
	}
}

func TestNew_RejectsBadSides(t *testing.T) {
	led, _ := ledger.Open(nil)
	deps := Deps{Gateway: &fakeGateway{}, Ledger: led}
	if _, err := New(Config{}, []GridSide{longSide(), longSide()}, deps); err == nil {
		t.Fatalf("expected duplicate side error")
	}
	bad := longSide()
	bad.Position = d("-1")
	if _, err := New(Config{}, []GridSide{bad}, deps); err == nil {
		t.Fatalf("expected negative position error")
	}
	if _, err := New(Config{}, nil, Deps{Ledger: led}); err == nil {
		t.Fatalf("expected nil gateway error")
	}
}
