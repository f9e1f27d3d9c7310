package okx

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/grid"
	"github.com/vh7889/OKX-bot/internal/market"
)

const (
	DefaultInstID   = "BTC-USDT-SWAP"
	DefaultInstType = "SWAP"
	DefaultTdMode   = "cross"
)

// DefaultContractValue is the BTC-USDT-SWAP contract size in BTC.
var DefaultContractValue = decimal.RequireFromString("0.01")

type GatewayConfig struct {
	InstID   string
	InstType string
	TdMode   string
	// ContractValue converts base quantity to contracts (sz = qty / ctVal).
	ContractValue decimal.Decimal
}

// Gateway binds a Client to one instrument and speaks in base-unit
// quantities. It implements grid.Gateway.
type Gateway struct {
	c   *Client
	cfg GatewayConfig
}

var _ grid.Gateway = (*Gateway)(nil)

func NewGateway(c *Client, cfg GatewayConfig) (*Gateway, error) {
	if c == nil {
		return nil, fmt.Errorf("okx gateway: nil client")
	}
	if cfg.InstID == "" {
		cfg.InstID = DefaultInstID
	}
	if cfg.InstType == "" {
		cfg.InstType = DefaultInstType
	}
	if cfg.TdMode == "" {
		cfg.TdMode = DefaultTdMode
	}
	if cfg.ContractValue.IsZero() {
		cfg.ContractValue = DefaultContractValue
	}
	if !cfg.ContractValue.IsPositive() {
		return nil, fmt.Errorf("okx gateway: contract value must be > 0, got %s", cfg.ContractValue)
	}
	return &Gateway{c: c, cfg: cfg}, nil
}

func (g *Gateway) InstID() string { return g.cfg.InstID }

// Contracts converts a base quantity to a contract count.
func (g *Gateway) Contracts(qty decimal.Decimal) decimal.Decimal {
	return qty.Div(g.cfg.ContractValue)
}

// Base converts a contract count to a base quantity.
func (g *Gateway) Base(sz decimal.Decimal) decimal.Decimal {
	return sz.Mul(g.cfg.ContractValue)
}

// NewClientOrderID returns a 32-char alphanumeric id accepted as clOrdId.
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (g *Gateway) PlaceOrder(ctx context.Context, req grid.OrderRequest) (string, string, error) {
	if !req.Direction.Valid() || !req.Side.Valid() {
		return "", "", fmt.Errorf("place order: invalid direction/side %q/%q", req.Direction, req.Side)
	}
	if !req.Price.IsPositive() || !req.Quantity.IsPositive() {
		return "", "", fmt.Errorf("place order: price and quantity must be > 0")
	}
	clOrdID := NewClientOrderID()
	ack, err := g.c.PlaceOrder(ctx, PlaceRequest{
		InstID:     g.cfg.InstID,
		TdMode:     g.cfg.TdMode,
		ClOrdID:    clOrdID,
		Side:       string(req.Direction),
		PosSide:    string(req.Side),
		OrdType:    "limit",
		Px:         req.Price.String(),
		Sz:         g.Contracts(req.Quantity).String(),
		ReduceOnly: req.ReduceOnly,
	})
	if err != nil {
		return "", clOrdID, err
	}
	if ack.OrdID == "" {
		return "", clOrdID, fmt.Errorf("place order: venue returned no ordId")
	}
	return ack.OrdID, clOrdID, nil
}

// CancelOrder treats an already filled/cancelled/unknown order as success.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	_, err := g.c.CancelOrder(ctx, g.cfg.InstID, orderID)
	if err != nil && !IsOrderGone(err) {
		return err
	}
	return nil
}

func (g *Gateway) ListOpenOrders(ctx context.Context) ([]grid.OpenOrder, error) {
	pending, err := g.c.PendingOrders(ctx, g.cfg.InstType, g.cfg.InstID)
	if err != nil {
		return nil, err
	}
	out := make([]grid.OpenOrder, 0, len(pending))
	for _, p := range pending {
		if p.InstID != "" && p.InstID != g.cfg.InstID {
			continue
		}
		o, err := g.openOrder(p)
		if err != nil {
			return nil, fmt.Errorf("pending order %s: %w", p.OrdID, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (g *Gateway) openOrder(p PendingOrder) (grid.OpenOrder, error) {
	dir, err := market.ParseDirection(p.Side)
	if err != nil {
		return grid.OpenOrder{}, err
	}
	// net-mode accounts report posSide "net"; such orders never belong to a grid side.
	side, _ := market.ParsePosSide(p.PosSide)
	px, err := parseDecimal(p.Px)
	if err != nil {
		return grid.OpenOrder{}, fmt.Errorf("px %q: %w", p.Px, err)
	}
	sz, err := parseDecimal(p.Sz)
	if err != nil {
		return grid.OpenOrder{}, fmt.Errorf("sz %q: %w", p.Sz, err)
	}
	return grid.OpenOrder{
		OrderID:   p.OrdID,
		Direction: dir,
		Side:      side,
		Price:     px,
		Quantity:  g.Base(sz),
		State:     p.State,
	}, nil
}

func (g *Gateway) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	return g.c.TotalEquity(ctx)
}
