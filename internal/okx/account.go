package okx

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

const pathBalance = "/api/v5/account/balance"

type Balance struct {
	TotalEq string          `json:"totalEq"`
	UTime   string          `json:"uTime"`
	Details []BalanceDetail `json:"details"`
}

type BalanceDetail struct {
	Ccy      string `json:"ccy"`
	Eq       string `json:"eq"`
	AvailBal string `json:"availBal"`
	EqUsd    string `json:"eqUsd"`
}

func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var out []Balance
	if err := c.do(ctx, http.MethodGet, pathBalance, nil, nil, &out); err != nil {
		return Balance{}, err
	}
	if len(out) == 0 {
		return Balance{}, fmt.Errorf("account balance: empty response data")
	}
	return out[0], nil
}

// TotalEquity returns the account's total equity in USD.
func (c *Client) TotalEquity(ctx context.Context) (decimal.Decimal, error) {
	b, err := c.Balance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	eq, err := parseDecimal(b.TotalEq)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse totalEq %q: %w", b.TotalEq, err)
	}
	return eq, nil
}
