package grid

import (
	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/market"
)

// DefaultPriceDecimals matches the BTC-USDT-SWAP tick size.
const DefaultPriceDecimals int32 = 2

var one = decimal.NewFromInt(1)

// QuoteFor derives the entry/exit pair bracketing trigger. Long opens below and
// closes above; short opens above and closes below.
func QuoteFor(side market.PosSide, trigger, spacing decimal.Decimal, places int32) Quote {
	below := trigger.Mul(one.Sub(spacing)).Round(places)
	above := trigger.Mul(one.Add(spacing)).Round(places)
	if side == market.Short {
		return Quote{Entry: above, Exit: below}
	}
	return Quote{Entry: below, Exit: above}
}

// Requests returns the order pair for a quote. When withEntry is false only
// the closing order is returned.
func Requests(g GridSide, q Quote, withEntry bool) []OrderRequest {
	out := make([]OrderRequest, 0, 2)
	if withEntry {
		out = append(out, OrderRequest{
			Direction: g.Side.Opening(),
			Side:      g.Side,
			Price:     q.Entry,
			Quantity:  g.Increment,
		})
	}
	out = append(out, OrderRequest{
		Direction:  g.Side.Closing(),
		Side:       g.Side,
		Price:      q.Exit,
		Quantity:   g.Increment,
		ReduceOnly: true,
	})
	return out
}

// Plan computes the reaction to a fill that has already passed the ownership
// and completeness checks. owns filters open orders down to self-placed ones;
// nothing outside it is ever cancelled. Plan has no side effects.
func Plan(g GridSide, ev FillEvent, open []OpenOrder, owns func(id string) bool, places int32) Action {
	next := g
	next.TriggerPrice = ev.FillPrice
	quote := QuoteFor(g.Side, ev.FillPrice, g.Spacing, places)

	var (
		kind      ActionKind
		stale     market.Direction
		withEntry = true
	)
	if g.Side.IsOpening(ev.Direction) {
		next.Position = g.Position.Add(ev.FilledQuantity)
		stale = g.Side.Closing()
		kind = ActionAdd
		if !next.Position.LessThan(g.MaxPosition) {
			kind = ActionCeiling
			withEntry = false
		}
	} else {
		next.Position = g.Position.Sub(ev.FilledQuantity)
		if next.Position.IsNegative() {
			next.Position = decimal.Zero
		}
		next.TakeProfitCount++
		stale = g.Side.Opening()
		kind = ActionTakeProfit
	}

	return Action{
		Kind:    kind,
		Side:    g.Side,
		Cancels: staleOrders(open, g.Side, stale, ev.OrderID, owns),
		Places:  Requests(next, quote, withEntry),
		State:   next,
		Quote:   quote,
	}
}

func staleOrders(open []OpenOrder, side market.PosSide, dir market.Direction, filledID string, owns func(string) bool) []string {
	var ids []string
	seen := make(map[string]struct{}, len(open))
	for _, o := range open {
		if o.Side != side || o.Direction != dir || o.OrderID == "" || o.OrderID == filledID {
			continue
		}
		if owns == nil || !owns(o.OrderID) {
			continue
		}
		if _, dup := seen[o.OrderID]; dup {
			continue
		}
		seen[o.OrderID] = struct{}{}
		ids = append(ids, o.OrderID)
	}
	return ids
}
