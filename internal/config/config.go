// Package config resolves the grid bot's settings from flags, falling back to
// environment variables (optionally loaded from .env) and then to defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vh7889/OKX-bot/internal/grid"
	"github.com/vh7889/OKX-bot/internal/ledger"
	"github.com/vh7889/OKX-bot/internal/logging"
	"github.com/vh7889/OKX-bot/internal/market"
	"github.com/vh7889/OKX-bot/internal/okx"
	"github.com/vh7889/OKX-bot/internal/okxws"
	"github.com/vh7889/OKX-bot/internal/stream"
)

// Side holds one grid side's knobs.
type Side struct {
	Enabled       bool
	TriggerPrice  decimal.Decimal
	Spacing       decimal.Decimal
	Increment     decimal.Decimal
	MaxPosition   decimal.Decimal
	StartPosition decimal.Decimal
}

type Config struct {
	Credentials okx.Credentials
	RESTURL     string
	WSURL       string
	Simulated   bool

	InstID        string
	InstType      string
	TdMode        string
	ContractValue decimal.Decimal
	PriceDecimals int

	Long  Side
	Short Side

	FeishuToken string
	FeishuTitle string
	NotifyQueue int

	LedgerBackend string
	LedgerPath    string
	JournalPath   string

	ReconnectDelay time.Duration
	GatewayTimeout time.Duration
	MetricsAddr    string

	Log logging.Options
}

// Getenv matches os.Getenv.
type Getenv func(string) string

type env struct{ get Getenv }

func (e env) str(def string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(e.get(k)); v != "" {
			return v
		}
	}
	return def
}

func (e env) boolean(def bool, key string) (bool, error) {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func (e env) integer(def int, key string) (int, error) {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func (e env) duration(def time.Duration, key string) (time.Duration, error) {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func (e env) dec(def string, key string) (decimal.Decimal, error) {
	raw := e.str(def, key)
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

// decimalValue adapts a decimal.Decimal to flag.Value.
type decimalValue struct{ d *decimal.Decimal }

func (v decimalValue) String() string {
	if v.d == nil {
		return ""
	}
	return v.d.String()
}

func (v decimalValue) Set(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

type sideDefaults struct {
	trigger, spacing, increment, max, start string
}

func (e env) side(prefix string, def sideDefaults) (Side, error) {
	var (
		s   Side
		err error
	)
	if s.Enabled, err = e.boolean(true, prefix+"_ENABLED"); err != nil {
		return s, err
	}
	if s.TriggerPrice, err = e.dec(def.trigger, prefix+"_TRIGGER_PRICE"); err != nil {
		return s, err
	}
	if s.Spacing, err = e.dec(def.spacing, prefix+"_GRID_SPACING"); err != nil {
		return s, err
	}
	if s.Increment, err = e.dec(def.increment, prefix+"_GRID_SIZE"); err != nil {
		return s, err
	}
	if s.MaxPosition, err = e.dec(def.max, prefix+"_MAX_POSITION"); err != nil {
		return s, err
	}
	if s.StartPosition, err = e.dec(def.start, prefix+"_START_POSITION"); err != nil {
		return s, err
	}
	return s, nil
}

func bindSide(fs *flag.FlagSet, name string, s *Side) {
	fs.BoolVar(&s.Enabled, name+"-enabled", s.Enabled, "Run the "+name+" grid")
	fs.Var(decimalValue{&s.TriggerPrice}, name+"-trigger", "Starting trigger price for the "+name+" grid")
	fs.Var(decimalValue{&s.Spacing}, name+"-spacing", "Grid spacing fraction for "+name+" (0.006 = 0.6%)")
	fs.Var(decimalValue{&s.Increment}, name+"-size", "Base quantity per "+name+" grid order")
	fs.Var(decimalValue{&s.MaxPosition}, name+"-max-position", "Max "+name+" position before entries are suspended")
	fs.Var(decimalValue{&s.StartPosition}, name+"-start-position", "Starting "+name+" position (ignored once state is saved)")
}

// Parse resolves the configuration. Env values become flag defaults so an
// explicit flag always wins.
func Parse(fs *flag.FlagSet, argv []string, getenv Getenv) (Config, error) {
	e := env{get: getenv}
	var (
		c   Config
		err error
	)

	c.Credentials = okx.Credentials{
		APIKey:     e.str("", "OKX_API_KEY", "API_KEY"),
		Secret:     e.str("", "OKX_SECRET_KEY", "SECRET_KEY"),
		Passphrase: e.str("", "OKX_PASSPHRASE", "PASSPHRASE"),
	}
	c.RESTURL = e.str(okx.DefaultHost, "OKX_REST_URL")
	if c.Simulated, err = e.boolean(false, "OKX_SIMULATED"); err != nil {
		return c, err
	}
	wsDefault := okxws.DefaultURL
	if c.Simulated {
		wsDefault = okxws.DefaultSimulatedURL
	}
	c.WSURL = e.str(wsDefault, "OKX_WS_URL")

	c.InstID = e.str(okx.DefaultInstID, "INST_ID")
	c.InstType = e.str(okx.DefaultInstType, "INST_TYPE")
	c.TdMode = e.str(okx.DefaultTdMode, "TD_MODE")
	if c.ContractValue, err = e.dec(okx.DefaultContractValue.String(), "CONTRACT_VALUE"); err != nil {
		return c, err
	}
	if c.PriceDecimals, err = e.integer(int(grid.DefaultPriceDecimals), "PRICE_DECIMALS"); err != nil {
		return c, err
	}

	if c.Long, err = e.side("LONG", sideDefaults{trigger: "85802.6", spacing: "0.006", increment: "0.002", max: "0.01", start: "0"}); err != nil {
		return c, err
	}
	if c.Short, err = e.side("SHORT", sideDefaults{trigger: "87356.7", spacing: "0.006", increment: "0.002", max: "0.01", start: "0"}); err != nil {
		return c, err
	}

	c.FeishuToken = e.str("", "FEISHU_TOKEN")
	c.FeishuTitle = e.str("OKX grid bot", "FEISHU_TITLE")
	if c.NotifyQueue, err = e.integer(64, "NOTIFY_QUEUE"); err != nil {
		return c, err
	}

	c.LedgerBackend = e.str(ledger.BackendPebble, "LEDGER_BACKEND")
	c.LedgerPath = e.str("./out/ledger", "LEDGER_PATH")
	c.JournalPath = e.str("./out/grid.jsonl", "JOURNAL_FILE")

	if c.ReconnectDelay, err = e.duration(stream.DefaultReconnectDelay, "RECONNECT_DELAY"); err != nil {
		return c, err
	}
	if c.GatewayTimeout, err = e.duration(10*time.Second, "GATEWAY_TIMEOUT"); err != nil {
		return c, err
	}
	c.MetricsAddr = e.str("", "METRICS_ADDR")

	c.Log = logging.Options{
		Level:  e.str("info", "LOG_LEVEL"),
		Format: e.str("json", "LOG_FORMAT"),
		File:   e.str("", "LOG_FILE"),
	}

	fs.StringVar(&c.Credentials.APIKey, "api-key", c.Credentials.APIKey, "OKX API key (or OKX_API_KEY)")
	fs.StringVar(&c.Credentials.Secret, "api-secret", c.Credentials.Secret, "OKX API secret (or OKX_SECRET_KEY)")
	fs.StringVar(&c.Credentials.Passphrase, "api-passphrase", c.Credentials.Passphrase, "OKX API passphrase (or OKX_PASSPHRASE)")
	fs.StringVar(&c.RESTURL, "rest-url", c.RESTURL, "OKX REST base URL")
	fs.StringVar(&c.WSURL, "ws-url", c.WSURL, "OKX private websocket URL")
	fs.BoolVar(&c.Simulated, "simulated", c.Simulated, "Send x-simulated-trading: 1 (demo trading)")
	fs.StringVar(&c.InstID, "inst-id", c.InstID, "Instrument id")
	fs.StringVar(&c.InstType, "inst-type", c.InstType, "Instrument type for the orders subscription")
	fs.StringVar(&c.TdMode, "td-mode", c.TdMode, "Trade mode: cross or isolated")
	fs.Var(decimalValue{&c.ContractValue}, "contract-value", "Contract size in base units (sz = qty / contract value)")
	fs.IntVar(&c.PriceDecimals, "price-decimals", c.PriceDecimals, "Decimals grid prices are rounded to")
	bindSide(fs, "long", &c.Long)
	bindSide(fs, "short", &c.Short)
	fs.StringVar(&c.FeishuToken, "feishu-token", c.FeishuToken, "Feishu custom bot webhook token (empty = log only)")
	fs.StringVar(&c.FeishuTitle, "feishu-title", c.FeishuTitle, "Feishu card title")
	fs.IntVar(&c.NotifyQueue, "notify-queue", c.NotifyQueue, "Pending notification queue size")
	fs.StringVar(&c.LedgerBackend, "ledger-backend", c.LedgerBackend, "Ledger backend: pebble, json or memory")
	fs.StringVar(&c.LedgerPath, "ledger-path", c.LedgerPath, "Ledger directory (pebble) or file (json)")
	fs.StringVar(&c.JournalPath, "journal", c.JournalPath, "JSONL decision journal (empty disables)")
	fs.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "Delay before reconnecting the order stream")
	fs.DurationVar(&c.GatewayTimeout, "gateway-timeout", c.GatewayTimeout, "Timeout for each REST call")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9102)")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format: json or console")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "Also write logs to this file")

	if err := fs.Parse(argv); err != nil {
		return c, err
	}
	c.trim()
	return c, nil
}

func (c *Config) trim() {
	c.Credentials.APIKey = strings.TrimSpace(c.Credentials.APIKey)
	c.Credentials.Secret = strings.TrimSpace(c.Credentials.Secret)
	c.Credentials.Passphrase = strings.TrimSpace(c.Credentials.Passphrase)
	c.InstID = strings.ToUpper(strings.TrimSpace(c.InstID))
	c.InstType = strings.ToUpper(strings.TrimSpace(c.InstType))
	c.TdMode = strings.ToLower(strings.TrimSpace(c.TdMode))
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
}

func (c Config) Validate() error {
	var errs []error
	if !c.Credentials.Complete() {
		errs = append(errs, errors.New("OKX credentials required (OKX_API_KEY, OKX_SECRET_KEY, OKX_PASSPHRASE)"))
	}
	if c.InstID == "" {
		errs = append(errs, errors.New("inst-id required"))
	}
	if c.TdMode != "cross" && c.TdMode != "isolated" {
		errs = append(errs, fmt.Errorf("td-mode must be cross or isolated, got %q", c.TdMode))
	}
	if !c.ContractValue.IsPositive() {
		errs = append(errs, errors.New("contract-value must be > 0"))
	}
	if c.PriceDecimals < 0 || c.PriceDecimals > 8 {
		errs = append(errs, fmt.Errorf("price-decimals must be within 0..8, got %d", c.PriceDecimals))
	}
	if !c.Long.Enabled && !c.Short.Enabled {
		errs = append(errs, errors.New("at least one of long/short must be enabled"))
	}
	for _, s := range []struct {
		name string
		side Side
	}{{"long", c.Long}, {"short", c.Short}} {
		if !s.side.Enabled {
			continue
		}
		if !s.side.TriggerPrice.IsPositive() {
			errs = append(errs, fmt.Errorf("%s trigger price must be > 0", s.name))
		}
		if !s.side.Spacing.IsPositive() || !s.side.Spacing.LessThan(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Errorf("%s spacing must be within (0,1), got %s", s.name, s.side.Spacing))
		}
		if !s.side.Increment.IsPositive() {
			errs = append(errs, fmt.Errorf("%s grid size must be > 0", s.name))
		}
		if !s.side.MaxPosition.IsPositive() {
			errs = append(errs, fmt.Errorf("%s max position must be > 0", s.name))
		}
		if s.side.StartPosition.IsNegative() {
			errs = append(errs, fmt.Errorf("%s start position must be >= 0", s.name))
		}
	}
	switch c.LedgerBackend {
	case ledger.BackendPebble, ledger.BackendJSON:
		if strings.TrimSpace(c.LedgerPath) == "" {
			errs = append(errs, fmt.Errorf("ledger-path required for %s backend", c.LedgerBackend))
		}
	case ledger.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.LedgerBackend))
	}
	if c.ReconnectDelay <= 0 || c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("reconnect-delay and gateway-timeout must be > 0"))
	}
	return errors.Join(errs...)
}

// GridSides returns the configured sides in engine form, long first.
func (c Config) GridSides() []grid.GridSide {
	mk := func(side market.PosSide, s Side) grid.GridSide {
		return grid.GridSide{
			Side:         side,
			Enabled:      s.Enabled,
			Position:     s.StartPosition,
			TriggerPrice: s.TriggerPrice,
			Spacing:      s.Spacing,
			Increment:    s.Increment,
			MaxPosition:  s.MaxPosition,
		}
	}
	return []grid.GridSide{mk(market.Long, c.Long), mk(market.Short, c.Short)}
}

// Summary lists the effective settings for the startup log. Secrets are
// reduced to a short prefix.
func (c Config) Summary() []zap.Field {
	fields := []zap.Field{
		zap.String("api_key", safePrefix(c.Credentials.APIKey, 6)),
		zap.String("rest_url", c.RESTURL),
		zap.String("ws_url", c.WSURL),
		zap.Bool("simulated", c.Simulated),
		zap.String("inst_id", c.InstID),
		zap.String("td_mode", c.TdMode),
		zap.String("contract_value", c.ContractValue.String()),
		zap.String("ledger", c.LedgerBackend+":"+c.LedgerPath),
		zap.String("journal", c.JournalPath),
		zap.Bool("feishu", c.FeishuToken != ""),
		zap.Duration("reconnect_delay", c.ReconnectDelay),
	}
	for _, s := range []struct {
		name string
		side Side
	}{{"long", c.Long}, {"short", c.Short}} {
		if !s.side.Enabled {
			fields = append(fields, zap.String(s.name, "disabled"))
			continue
		}
		fields = append(fields, zap.String(s.name, fmt.Sprintf(
			"trigger=%s spacing=%s size=%s max=%s start=%s",
			s.side.TriggerPrice, s.side.Spacing, s.side.Increment, s.side.MaxPosition, s.side.StartPosition,
		)))
	}
	return fields
}

func safePrefix(s string, n int) string {
	if len(s) <= n {
		return strings.Repeat("*", len(s))
	}
	return s[:n] + "…"
}
