package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	pathPlaceOrder    = "/api/v5/trade/order"
	pathCancelOrder   = "/api/v5/trade/cancel-order"
	pathOrdersPending = "/api/v5/trade/orders-pending"
)

// PlaceRequest is the body of POST /api/v5/trade/order.
type PlaceRequest struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	ClOrdID    string `json:"clOrdId,omitempty"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide,omitempty"`
	OrdType    string `json:"ordType"`
	Px         string `json:"px,omitempty"`
	Sz         string `json:"sz"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

// OrderAck is one entry of the data array returned by order endpoints.
type OrderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// PendingOrder is one entry of GET /api/v5/trade/orders-pending.
type PendingOrder struct {
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	OrdType    string `json:"ordType"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	AccFillSz  string `json:"accFillSz"`
	State      string `json:"state"`
	ReduceOnly string `json:"reduceOnly"`
	CTime      string `json:"cTime"`
}

type cancelRequest struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
}

func (c *Client) PlaceOrder(ctx context.Context, req PlaceRequest) (OrderAck, error) {
	if strings.TrimSpace(req.InstID) == "" {
		return OrderAck{}, fmt.Errorf("place order: instId required")
	}
	if req.OrdType == "" {
		req.OrdType = "limit"
	}
	var acks []OrderAck
	if err := c.do(ctx, http.MethodPost, pathPlaceOrder, nil, req, &acks); err != nil {
		return OrderAck{}, err
	}
	return firstAck("place order", acks)
}

// CancelOrder cancels ordID. Callers decide whether IsOrderGone counts as
// success.
func (c *Client) CancelOrder(ctx context.Context, instID, ordID string) (OrderAck, error) {
	if strings.TrimSpace(ordID) == "" {
		return OrderAck{}, fmt.Errorf("cancel order: ordId required")
	}
	var acks []OrderAck
	body := cancelRequest{InstID: instID, OrdID: ordID}
	if err := c.do(ctx, http.MethodPost, pathCancelOrder, nil, body, &acks); err != nil {
		return OrderAck{}, err
	}
	return firstAck("cancel order", acks)
}

// PendingOrders lists live and partially filled orders. Empty filters are
// omitted.
func (c *Client) PendingOrders(ctx context.Context, instType, instID string) ([]PendingOrder, error) {
	params := url.Values{}
	if instType != "" {
		params.Set("instType", instType)
	}
	if instID != "" {
		params.Set("instId", instID)
	}
	var out []PendingOrder
	if err := c.do(ctx, http.MethodGet, pathOrdersPending, params, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func firstAck(op string, acks []OrderAck) (OrderAck, error) {
	if len(acks) == 0 {
		return OrderAck{}, fmt.Errorf("%s: empty response data", op)
	}
	ack := acks[0]
	if ack.SCode != "" && ack.SCode != "0" {
		return ack, &APIError{Op: op, SCode: ack.SCode, SMsg: ack.SMsg}
	}
	return ack, nil
}
