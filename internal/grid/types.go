package grid

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/ledger"
	"github.com/vh7889/OKX-bot/internal/market"
)

// GridSide is the mutable state of one side of the grid plus its static knobs.
type GridSide struct {
	Side    market.PosSide `json:"side"`
	Enabled bool           `json:"enabled"`

	Position        decimal.Decimal `json:"position"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	TakeProfitCount int64           `json:"take_profit_count"`

	Spacing     decimal.Decimal `json:"grid_spacing"`
	Increment   decimal.Decimal `json:"grid_increment"`
	MaxPosition decimal.Decimal `json:"max_position"`
}

// AtCeiling reports whether the side must stop adding exposure.
func (g GridSide) AtCeiling() bool { return g.Position.GreaterThanOrEqual(g.MaxPosition) }

// Quote is the resting price pair derived from a trigger price.
type Quote struct {
	Entry decimal.Decimal `json:"entry"`
	Exit  decimal.Decimal `json:"exit"`
}

// FillEvent is a venue order update reduced to what the engine needs.
type FillEvent struct {
	OrderID        string
	Direction      market.Direction
	Side           market.PosSide
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	FullyFilled    bool
}

// OrderRequest describes an order the engine wants resting on the venue.
type OrderRequest struct {
	Direction  market.Direction
	Side       market.PosSide
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	ReduceOnly bool
}

// OpenOrder is one entry of the venue's open-order listing.
type OpenOrder struct {
	OrderID   string
	Direction market.Direction
	Side      market.PosSide
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	State     string
}

type ActionKind string

const (
	ActionNone       ActionKind = ""
	ActionSeed       ActionKind = "seed"
	ActionAdd        ActionKind = "add"
	ActionCeiling    ActionKind = "ceiling"
	ActionTakeProfit ActionKind = "take_profit"
)

// Action is the outcome of one fill: what to cancel, what to place, and the
// side state to keep afterwards.
type Action struct {
	Kind    ActionKind
	Side    market.PosSide
	Reason  string
	Cancels []string
	Places  []OrderRequest
	// Placed holds the venue ids of the placements that were accepted.
	Placed []string
	State  GridSide
	Quote  Quote
}

// Noop reports whether the action leaves everything untouched.
func (a Action) Noop() bool { return a.Kind == ActionNone }

// Notification summarises a state transition for the operator.
type Notification struct {
	Side            market.PosSide
	Kind            ActionKind
	Position        decimal.Decimal
	MaxPosition     decimal.Decimal
	TriggerPrice    decimal.Decimal
	EntryPrice      decimal.Decimal
	ExitPrice       decimal.Decimal
	Increment       decimal.Decimal
	TakeProfitCount int64
	At              time.Time
}

// Gateway is the venue surface the engine depends on, bound to one instrument.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, clOrdID string, err error)
	// CancelOrder must treat an already-gone order as success.
	CancelOrder(ctx context.Context, orderID string) error
	ListOpenOrders(ctx context.Context) ([]OpenOrder, error)
	AccountEquity(ctx context.Context) (decimal.Decimal, error)
}

// Ledger is the subset of *ledger.Ledger the engine uses.
type Ledger interface {
	Lookup(id string) (ledger.TrackedOrder, bool)
	Record(o ledger.TrackedOrder) error
	Meta(key string) (json.RawMessage, bool)
	SetMeta(key string, v any) error
	MarkSeeded() error
}

// Notifier delivers operator notifications. Implementations must not block
// the caller for long; failures are logged by the caller only.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
