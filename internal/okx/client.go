// Package okx is a minimal signed client for the OKX v5 REST API covering
// what the grid bot needs: order placement, cancellation, pending-order
// listing and account equity.
package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultHost = "https://www.okx.com"

type Client struct {
	host       string
	httpClient *http.Client
	creds      Credentials
	simulated  bool
	now        func() time.Time
}

// NewClient returns a client for host (DefaultHost when empty). simulated adds
// the demo-trading header to every request.
func NewClient(host string, creds Credentials, simulated bool) (*Client, error) {
	if host == "" {
		host = DefaultHost
	}
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(host, "http") {
		return nil, fmt.Errorf("okx host must be http(s), got %q", host)
	}
	if !creds.Complete() {
		return nil, fmt.Errorf("okx credentials incomplete (need api key, secret and passphrase): %w", ErrAuth)
	}
	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		creds:      creds,
		simulated:  simulated,
		now:        time.Now,
	}, nil
}

// envelope is the common v5 response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do sends a signed request and decodes data into out. A non-zero code is
// returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	requestPath := path
	if len(params) > 0 {
		requestPath += "?" + params.Encode()
	}

	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		raw = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+requestPath, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.authHeaders(c.now(), method, requestPath, raw) {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Op: method + " " + path, Status: resp.StatusCode, Msg: strings.TrimSpace(string(b))}
		}
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (env.Code != "" && env.Code != "0") {
		apiErr := &APIError{Op: method + " " + path, Code: env.Code, Msg: env.Msg}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr.Status = resp.StatusCode
		}
		// Batch-style endpoints put the per-order reason in data[0].
		var acks []OrderAck
		if json.Unmarshal(env.Data, &acks) == nil && len(acks) > 0 {
			apiErr.SCode = acks[0].SCode
			apiErr.SMsg = acks[0].SMsg
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, strings.TrimSpace(string(b)))
	}
	return nil
}

// parseDecimal treats the empty strings OKX uses for unset numbers as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
