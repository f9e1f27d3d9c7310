package okxws

import (
	"encoding/json"
	"fmt"
)

// Order is one element of an orders-channel push. Numbers are kept as the
// venue's strings; empty means unset.
type Order struct {
	InstType   string `json:"instType"`
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	OrdType    string `json:"ordType"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	AvgPx      string `json:"avgPx"`
	FillPx     string `json:"fillPx"`
	FillSz     string `json:"fillSz"`
	AccFillSz  string `json:"accFillSz"`
	State      string `json:"state"`
	ReduceOnly string `json:"reduceOnly"`
	UTime      string `json:"uTime"`
}

// Order states.
const (
	StateLive            = "live"
	StatePartiallyFilled = "partially_filled"
	StateFilled          = "filled"
	StateCanceled        = "canceled"
)

// DecodeOrders returns the orders carried by an orders-channel push, or nil
// for any other frame.
func DecodeOrders(p Push) ([]Order, error) {
	if p.Arg.Channel != ChannelOrders || len(p.Data) == 0 {
		return nil, nil
	}
	var out []Order
	if err := json.Unmarshal(p.Data, &out); err != nil {
		return nil, fmt.Errorf("decode orders push: %w", err)
	}
	return out, nil
}
