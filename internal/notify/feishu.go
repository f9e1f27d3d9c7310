// Package notify delivers grid transitions to an operator chat. Delivery is
// best effort: callers log failures and carry on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vh7889/OKX-bot/internal/grid"
	"github.com/vh7889/OKX-bot/internal/market"
)

const DefaultFeishuHost = "https://open.feishu.cn"

// EquitySource reports account equity at send time.
type EquitySource interface {
	AccountEquity(ctx context.Context) (decimal.Decimal, error)
}

type Feishu struct {
	webhook    string
	title      string
	instLabel  string
	equity     EquitySource
	httpClient *http.Client
	loc        *time.Location
}

type FeishuOptions struct {
	// Host defaults to DefaultFeishuHost.
	Host string
	// Title prefixes the card header.
	Title     string
	InstLabel string
	Equity    EquitySource
	Location  *time.Location
}

// NewFeishu posts interactive cards to the custom-bot webhook for token.
func NewFeishu(token string, opts FeishuOptions) (*Feishu, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("feishu: webhook token required")
	}
	host := strings.TrimRight(opts.Host, "/")
	if host == "" {
		host = DefaultFeishuHost
	}
	if opts.Title == "" {
		opts.Title = "OKX grid bot"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Feishu{
		webhook:    host + "/open-apis/bot/v2/hook/" + token,
		title:      opts.Title,
		instLabel:  opts.InstLabel,
		equity:     opts.Equity,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		loc:        opts.Location,
	}, nil
}

type cardMessage struct {
	MsgType string `json:"msg_type"`
	Card    card   `json:"card"`
}

type card struct {
	Config   cardConfig    `json:"config"`
	Header   cardHeader    `json:"header"`
	Elements []cardElement `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardHeader struct {
	Title    cardText `json:"title"`
	Template string   `json:"template"`
}

type cardElement struct {
	Tag  string   `json:"tag"`
	Text cardText `json:"text"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type webhookResp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (f *Feishu) Notify(ctx context.Context, n grid.Notification) error {
	equity := "n/a"
	if f.equity != nil {
		eq, err := f.equity.AccountEquity(ctx)
		if err == nil {
			equity = eq.StringFixed(2) + " USDT"
		}
	}

	body, err := json.Marshal(f.card(n, equity))
	if err != nil {
		return fmt.Errorf("feishu marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feishu post: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feishu post: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out webhookResp
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("decode feishu response: %w (body=%s)", err, strings.TrimSpace(string(b)))
	}
	if out.Code != 0 {
		return fmt.Errorf("feishu: code=%d msg=%s", out.Code, out.Msg)
	}
	return nil
}

func actionLabel(k grid.ActionKind) (label, color string) {
	switch k {
	case grid.ActionTakeProfit:
		return "take profit", "green"
	case grid.ActionAdd:
		return "add", "orange"
	case grid.ActionCeiling:
		return "add (max position reached)", "red"
	case grid.ActionSeed:
		return "seed", "blue"
	default:
		return "unknown", "wathet"
	}
}

func (f *Feishu) card(n grid.Notification, equity string) cardMessage {
	label, color := actionLabel(n.Kind)
	buyPx, sellPx := n.EntryPrice, n.ExitPrice
	if n.Side == market.Short {
		buyPx, sellPx = n.ExitPrice, n.EntryPrice
	}
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Instrument:** <font color='orange'>**%s %s**</font>  \n", f.instLabel, n.Side)
	fmt.Fprintf(&sb, "**Trigger:** <font color='blue'>**%s**</font> **Action:** <font color='green'>**%s**</font>  \n", n.TriggerPrice, label)
	fmt.Fprintf(&sb, "**Buy price:** <font color='green'>**%s**</font> **Qty:** <font color='green'>**%s**</font>  \n", buyPx, n.Increment)
	fmt.Fprintf(&sb, "**Sell price:** <font color='red'>**%s**</font> **Qty:** <font color='red'>**%s**</font>  \n", sellPx, n.Increment)
	fmt.Fprintf(&sb, "**Position:** <font color='orange'>**%s**</font>  \n", n.Position.StringFixed(3))
	fmt.Fprintf(&sb, "**Max position:** <font color='orange'>**%s**</font>  \n", n.MaxPosition)
	fmt.Fprintf(&sb, "**%s take profits:** <font color='orange'>**%d**</font> **Equity:** <font color='orange'>**%s**</font>  \n", n.Side, n.TakeProfitCount, equity)
	fmt.Fprintf(&sb, "**Time:** <font color='green'>**%s**</font>", at.In(f.loc).Format("2006-01-02 15:04:05"))

	return cardMessage{
		MsgType: "interactive",
		Card: card{
			Config: cardConfig{WideScreenMode: true},
			Header: cardHeader{
				Title:    cardText{Tag: "plain_text", Content: fmt.Sprintf("%s - %s %s", f.title, n.Side, label)},
				Template: color,
			},
			Elements: []cardElement{{Tag: "div", Text: cardText{Tag: "lark_md", Content: sb.String()}}},
		},
	}
}
