package grid

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func longSide() GridSide {
	return GridSide{
		Side:         market.Long,
		Enabled:      true,
		TriggerPrice: d("85802.6"),
		Spacing:      d("0.006"),
		Increment:    d("0.002"),
		MaxPosition:  d("0.01"),
	}
}

func shortSide() GridSide {
	return GridSide{
		Side:         market.Short,
		Enabled:      true,
		TriggerPrice: d("87356.7"),
		Spacing:      d("0.006"),
		Increment:    d("0.002"),
		MaxPosition:  d("0.01"),
	}
}

func ownsAll(string) bool { return true }

func TestQuoteFor(t *testing.T) {
	cases := []struct {
		name      string
		side      market.PosSide
		trigger   string
		wantEntry string
		wantExit  string
	}{
		{"long", market.Long, "85802.6", "85287.78", "86317.42"},
		{"short", market.Short, "87356.7", "87880.84", "86832.56"},
		{"long round half up", market.Long, "100", "99.4", "100.6"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := QuoteFor(tc.side, d(tc.trigger), d("0.006"), 2)
			if !q.Entry.Equal(d(tc.wantEntry)) {
				t.Fatalf("entry mismatch: got %s want %s", q.Entry, tc.wantEntry)
			}
			if !q.Exit.Equal(d(tc.wantExit)) {
				t.Fatalf("exit mismatch: got %s want %s", q.Exit, tc.wantExit)
			}
		})
	}
}

func TestPlan_OpeningBelowCeilingPlacesPair(t *testing.T) {
	g := longSide()
	ev := FillEvent{OrderID: "f1", Direction: market.Buy, Side: market.Long, FilledQuantity: d("0.002"), FillPrice: d("85802.6"), FullyFilled: true}
	open := []OpenOrder{
		{OrderID: "stale-sell", Direction: market.Sell, Side: market.Long},
		{OrderID: "entry-buy", Direction: market.Buy, Side: market.Long},
		{OrderID: "short-sell", Direction: market.Sell, Side: market.Short},
	}

	act := Plan(g, ev, open, ownsAll, 2)
	if act.Kind != ActionAdd {
		t.Fatalf("kind mismatch: got %q want %q", act.Kind, ActionAdd)
	}
	if !act.State.Position.Equal(d("0.002")) {
		t.Fatalf("position mismatch: got %s want 0.002", act.State.Position)
	}
	if !act.State.TriggerPrice.Equal(d("85802.6")) {
		t.Fatalf("trigger mismatch: got %s", act.State.TriggerPrice)
	}
	if len(act.Cancels) != 1 || act.Cancels[0] != "stale-sell" {
		t.Fatalf("cancels mismatch: got %v want [stale-sell]", act.Cancels)
	}
	if len(act.Places) != 2 {
		t.Fatalf("places=%d want 2", len(act.Places))
	}
	buy, sell := act.Places[0], act.Places[1]
	if buy.Direction != market.Buy || !buy.Price.Equal(d("85287.78")) || !buy.Quantity.Equal(d("0.002")) || buy.ReduceOnly {
		t.Fatalf("opening order mismatch: %+v", buy)
	}
	if sell.Direction != market.Sell || !sell.Price.Equal(d("86317.42")) || !sell.Quantity.Equal(d("0.002")) || !sell.ReduceOnly {
		t.Fatalf("closing order mismatch: %+v", sell)
	}
}

func TestPlan_OpeningAtCeilingPlacesOnlyExit(t *testing.T) {
	g := longSide()
	g.Position = d("0.009")
	ev := FillEvent{OrderID: "f1", Direction: market.Buy, Side: market.Long, FilledQuantity: d("0.002"), FillPrice: d("85000"), FullyFilled: true}

	act := Plan(g, ev, nil, ownsAll, 2)
	if act.Kind != ActionCeiling {
		t.Fatalf("kind mismatch: got %q want %q", act.Kind, ActionCeiling)
	}
	if !act.State.Position.Equal(d("0.011")) {
		t.Fatalf("position mismatch: got %s want 0.011", act.State.Position)
	}
	if len(act.Places) != 1 {
		t.Fatalf("places=%d want 1", len(act.Places))
	}
	if p := act.Places[0]; p.Direction != market.Sell || !p.ReduceOnly {
		t.Fatalf("expected only the closing sell, got %+v", p)
	}
}

func TestPlan_ExactlyAtCeilingSuspendsEntry(t *testing.T) {
	g := longSide()
	g.Position = d("0.008")
	ev := FillEvent{OrderID: "f1", Direction: market.Buy, Side: market.Long, FilledQuantity: d("0.002"), FillPrice: d("85000"), FullyFilled: true}

	act := Plan(g, ev, nil, ownsAll, 2)
	if act.Kind != ActionCeiling || len(act.Places) != 1 {
		t.Fatalf("expected ceiling with one placement, got kind=%q places=%d", act.Kind, len(act.Places))
	}
}

func TestPlan_ClosingFillCountsAndFloors(t *testing.T) {
	cases := []struct {
		name    string
		prior   string
		filled  string
		wantPos string
	}{
		{"reduce", "0.006", "0.002", "0.004"},
		{"floor at zero", "0.001", "0.002", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := longSide()
			g.Position = d(tc.prior)
			g.TakeProfitCount = 4
			ev := FillEvent{OrderID: "tp", Direction: market.Sell, Side: market.Long, FilledQuantity: d(tc.filled), FillPrice: d("86317.42"), FullyFilled: true}
			open := []OpenOrder{{OrderID: "old-buy", Direction: market.Buy, Side: market.Long}}

			act := Plan(g, ev, open, ownsAll, 2)
			if act.Kind != ActionTakeProfit {
				t.Fatalf("kind mismatch: got %q", act.Kind)
			}
			if act.State.TakeProfitCount != 5 {
				t.Fatalf("take profit count: got %d want 5", act.State.TakeProfitCount)
			}
			if !act.State.Position.Equal(d(tc.wantPos)) {
				t.Fatalf("position mismatch: got %s want %s", act.State.Position, tc.wantPos)
			}
			if len(act.Cancels) != 1 || act.Cancels[0] != "old-buy" {
				t.Fatalf("cancels mismatch: got %v", act.Cancels)
			}
			if len(act.Places) != 2 {
				t.Fatalf("places=%d want 2", len(act.Places))
			}
		})
	}
}

func TestPlan_ShortSideMirrorsDirections(t *testing.T) {
	g := shortSide()
	ev := FillEvent{OrderID: "s1", Direction: market.Sell, Side: market.Short, FilledQuantity: d("0.002"), FillPrice: d("87356.7"), FullyFilled: true}
	open := []OpenOrder{
		{OrderID: "stale-buy", Direction: market.Buy, Side: market.Short},
		{OrderID: "long-buy", Direction: market.Buy, Side: market.Long},
	}

	act := Plan(g, ev, open, ownsAll, 2)
	if act.Kind != ActionAdd {
		t.Fatalf("kind mismatch: got %q", act.Kind)
	}
	if len(act.Cancels) != 1 || act.Cancels[0] != "stale-buy" {
		t.Fatalf("cancels mismatch: got %v", act.Cancels)
	}
	open0, close0 := act.Places[0], act.Places[1]
	if open0.Direction != market.Sell || !open0.Price.Equal(d("87880.84")) || open0.ReduceOnly {
		t.Fatalf("short opening mismatch: %+v", open0)
	}
	if close0.Direction != market.Buy || !close0.Price.Equal(d("86832.56")) || !close0.ReduceOnly {
		t.Fatalf("short closing mismatch: %+v", close0)
	}
}

func TestPlan_NeverCancelsForeignOrders(t *testing.T) {
	owned := map[string]bool{"mine": true}
	owns := func(id string) bool { return owned[id] }
	open := []OpenOrder{
		{OrderID: "foreign-1", Direction: market.Sell, Side: market.Long},
		{OrderID: "mine", Direction: market.Sell, Side: market.Long},
		{OrderID: "mine", Direction: market.Sell, Side: market.Long},
		{OrderID: "foreign-2", Direction: market.Sell, Side: market.Long},
	}
	ev := FillEvent{OrderID: "f1", Direction: market.Buy, Side: market.Long, FilledQuantity: d("0.002"), FillPrice: d("85802.6"), FullyFilled: true}

	act := Plan(longSide(), ev, open, owns, 2)
	if len(act.Cancels) != 1 || act.Cancels[0] != "mine" {
		t.Fatalf("cancels mismatch: got %v want [mine]", act.Cancels)
	}

	act = Plan(longSide(), ev, open, nil, 2)
	if len(act.Cancels) != 0 {
		t.Fatalf("nil owner must cancel nothing, got %v", act.Cancels)
	}
}
