// Package okxws speaks the OKX v5 private websocket: signed login, channel
// subscription, text ping/pong keepalive and push decoding. A Session is one
// connection; reconnecting is the caller's job.
package okxws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vh7889/OKX-bot/internal/okx"
)

const (
	DefaultURL          = "wss://ws.okx.com:8443/ws/v5/private"
	DefaultSimulatedURL = "wss://wspap.okx.com:8443/ws/v5/private?brokerId=9999"

	DefaultPingInterval  = 20 * time.Second
	DefaultHandshakeWait = 10 * time.Second

	ChannelOrders = "orders"
)

// ErrAuth is returned when the venue rejects the login. It matches okx.ErrAuth.
var ErrAuth = okx.ErrAuth

// Arg identifies a channel subscription.
type Arg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId,omitempty"`
}

type request struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// Push is a decoded server frame: either an event (login, subscribe, error)
// or channel data.
type Push struct {
	Event  string          `json:"event,omitempty"`
	Code   string          `json:"code,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	ConnID string          `json:"connId,omitempty"`
	Arg    Arg             `json:"arg"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	PingInterval  time.Duration
	HandshakeWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.HandshakeWait <= 0 {
		o.HandshakeWait = DefaultHandshakeWait
	}
	return o
}

type Session struct {
	conn *websocket.Conn
	opts Options
	now  func() time.Time

	writeMu   sync.Mutex
	stop      chan struct{}
	closeOnce sync.Once
	pingErr   chan error
}

// Dial opens a connection and starts the keepalive. Cancelling ctx closes the
// session.
func Dial(ctx context.Context, url string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if url == "" {
		url = DefaultURL
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("okxws dial: %w", err)
	}
	s := &Session{
		conn:    conn,
		opts:    opts,
		now:     time.Now,
		stop:    make(chan struct{}),
		pingErr: make(chan error, 1),
	}
	go s.keepalive(ctx)
	return s, nil
}

func (s *Session) keepalive(ctx context.Context) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.stop:
			return
		case <-t.C:
			if err := s.write([]byte("ping")); err != nil {
				select {
				case s.pingErr <- fmt.Errorf("okxws ping: %w", err):
				default:
				}
				_ = s.Close()
				return
			}
		}
	}
}

func (s *Session) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) send(op string, args ...any) error {
	b, err := json.Marshal(request{Op: op, Args: args})
	if err != nil {
		return fmt.Errorf("okxws %s marshal: %w", op, err)
	}
	if err := s.write(b); err != nil {
		return fmt.Errorf("okxws %s write: %w", op, err)
	}
	return nil
}

// Login signs in with creds and waits for the acknowledgement. A rejection
// wraps ErrAuth; anything else is a transport error.
func (s *Session) Login(ctx context.Context, creds okx.Credentials) error {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	arg := loginArg{
		APIKey:     creds.APIKey,
		Passphrase: creds.Passphrase,
		Timestamp:  ts,
		Sign:       okx.Sign(creds.Secret, ts, "GET", "/users/self/verify", nil),
	}
	if err := s.send("login", arg); err != nil {
		return err
	}
	p, err := s.await(ctx, "login")
	if err != nil {
		return err
	}
	if p.Code != "" && p.Code != "0" {
		return fmt.Errorf("okxws login: code=%s msg=%s: %w", p.Code, p.Msg, ErrAuth)
	}
	return nil
}

// Subscribe subscribes to args and waits for the first acknowledgement.
func (s *Session) Subscribe(ctx context.Context, args ...Arg) error {
	if len(args) == 0 {
		return errors.New("okxws subscribe: no channels")
	}
	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}
	if err := s.send("subscribe", anyArgs...); err != nil {
		return err
	}
	_, err := s.await(ctx, "subscribe")
	return err
}

// await reads frames until one carries the wanted event (or an error event).
func (s *Session) await(ctx context.Context, event string) (Push, error) {
	deadline := time.Now().Add(s.opts.HandshakeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	for {
		p, err := s.Read()
		if err != nil {
			if event == "login" && errors.Is(err, ErrAuth) {
				return Push{}, err
			}
			return Push{}, fmt.Errorf("okxws await %s: %w", event, err)
		}
		if p.Event == event {
			return p, nil
		}
	}
}

// Read returns the next non-keepalive frame. Error events come back as
// errors; login-related error codes wrap ErrAuth.
func (s *Session) Read() (Push, error) {
	for {
		typ, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case perr := <-s.pingErr:
				return Push{}, perr
			default:
			}
			return Push{}, fmt.Errorf("okxws read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 || string(msg) == "pong" || string(msg) == "ping" {
			continue
		}

		var p Push
		if err := json.Unmarshal(msg, &p); err != nil {
			return Push{}, fmt.Errorf("okxws json decode: %w", err)
		}
		if p.Event == "error" {
			if loginCodes[p.Code] {
				return p, fmt.Errorf("okxws: code=%s msg=%s: %w", p.Code, p.Msg, ErrAuth)
			}
			return p, fmt.Errorf("okxws: code=%s msg=%s", p.Code, p.Msg)
		}
		return p, nil
	}
}

// Codes returned in error events when the login itself is refused.
var loginCodes = map[string]bool{
	"60004": true, // invalid timestamp
	"60005": true, // invalid apiKey
	"60006": true, // timestamp expired
	"60007": true, // invalid sign
	"60009": true, // login failed
	"60024": true, // wrong passphrase
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.conn.Close()
	})
	return err
}
