// Package config loads the static boot-time configuration (env vars and an
// optional .env file) via viper, and
// layers a hot-reloadable RuntimeConfig snapshot on top for the subset of
// knobs that are runtime-mutable without a process restart.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Static holds credentials and process-lifetime settings that never change
// after boot.
type Static struct {
	APIKey    string
	APISecret string

	RESTPublicBaseURL  string
	RESTPrivateBaseURL string
	WSPublicURL        string
	WSPrivateURL       string

	DBPath         string
	StateDir       string   // directory holding nonce/trading_rules/trade_counter/bracket_state JSON files
	PatternsFile   string   // YAML seed for RATE_LIMIT_PATTERNS
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	MetricsAddr    string
	OrderAPIAddr   string   // minimal internal HTTP surface for OrderPipeline.Submit
	Symbols        []string // trading pairs this process watches and is allowed to trade
	DeadManSeconds int      // WSPrivateSession dead-man-switch window, in seconds
}

// Load reads environment variables (optionally seeded from .env) into a
// Static config via viper. Errors loading .env are ignored, matching
// "still start when .env is missing" behavior.
func Load() (*Static, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BFX")
	v.AutomaticEnv()

	v.SetDefault("rest_public_base_url", "https://api-pub.bitfinex.com")
	v.SetDefault("rest_private_base_url", "https://api.bitfinex.com")
	v.SetDefault("ws_public_url", "wss://api-pub.bitfinex.com/ws/2")
	v.SetDefault("ws_private_url", "wss://api.bitfinex.com/ws/2")
	v.SetDefault("db_path", "./data/candles.db")
	v.SetDefault("state_dir", "./data/state")
	v.SetDefault("patterns_file", "./config/rate_limit_patterns.yaml")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("order_api_addr", ":9091")
	v.SetDefault("symbols", "tBTCUSD")
	v.SetDefault("dead_man_seconds", 60)

	symbols := strings.Split(v.GetString("symbols"), ",")
	for i := range symbols {
		symbols[i] = strings.TrimSpace(symbols[i])
	}

	return &Static{
		APIKey:             v.GetString("api_key"),
		APISecret:          v.GetString("api_secret"),
		RESTPublicBaseURL:  v.GetString("rest_public_base_url"),
		RESTPrivateBaseURL: v.GetString("rest_private_base_url"),
		WSPublicURL:        v.GetString("ws_public_url"),
		WSPrivateURL:       v.GetString("ws_private_url"),
		DBPath:             v.GetString("db_path"),
		StateDir:           v.GetString("state_dir"),
		PatternsFile:       v.GetString("patterns_file"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
		MetricsEnabled:     v.GetBool("metrics_enabled"),
		MetricsAddr:        v.GetString("metrics_addr"),
		OrderAPIAddr:       v.GetString("order_api_addr"),
		Symbols:            symbols,
		DeadManSeconds:     v.GetInt("dead_man_seconds"),
	}, nil
}

// Market data modes recognized by MarketDataFacade.
const (
	ModeAuto     = "auto"
	ModeRestOnly = "rest_only"
	ModeWSOnly   = "ws_only"
)

// Snapshot is the immutable set of runtime-mutable knobs . A new
// Snapshot is built and swapped in atomically on every mutation; readers
// never see a partially-updated set of knobs.
type Snapshot struct {
	MarketDataMode          string // auto|rest_only|ws_only
	WSTickerStaleSecs       time.Duration
	WSTickerWarmupMs        time.Duration
	TickerCacheTTLSecs      time.Duration
	WSUsePool               bool
	WSMaxSubsPerSocket      int
	WSPublicSocketsMax      int
	RateLimitEnabled        bool
	CBEnabled               bool
	CBErrorWindowSeconds    time.Duration
	CBMaxErrorsPerWindow    int
	MaxTradesPerDay         int
	MaxTradesPerSymbolPerDay int
	TradeCooldownSeconds    time.Duration
	TradingPaused           bool
	DryRunEnabled           bool
	AutotradeEnabled        bool
	BracketPartialAdjust    bool
	CandleRetentionDays     int
	CandleMaxRowsPerPair    int
	TransientExchangeCodes  map[string]struct{}
}

// DefaultSnapshot returns the zero-config defaults used until an operator
// overrides a knob.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		MarketDataMode:           ModeAuto,
		WSTickerStaleSecs:        5 * time.Second,
		WSTickerWarmupMs:         500 * time.Millisecond,
		TickerCacheTTLSecs:       10 * time.Second,
		WSUsePool:                true,
		WSMaxSubsPerSocket:       25,
		WSPublicSocketsMax:       8,
		RateLimitEnabled:         true,
		CBEnabled:                true,
		CBErrorWindowSeconds:     60 * time.Second,
		CBMaxErrorsPerWindow:     5,
		MaxTradesPerDay:          50,
		MaxTradesPerSymbolPerDay: 10,
		TradeCooldownSeconds:     5 * time.Second,
		TradingPaused:            false,
		DryRunEnabled:            false,
		AutotradeEnabled:         false,
		BracketPartialAdjust:     true,
		CandleRetentionDays:      30,
		CandleMaxRowsPerPair:     5000,
		TransientExchangeCodes:   map[string]struct{}{},
	}
}

// Runtime is the copy-on-write holder for the mutable knob set. Readers call
// Get, which always reads a single atomically-loaded pointer;
// writers build a full replacement Snapshot and swap the pointer.
type Runtime struct {
	ptr atomic.Pointer[Snapshot]
}

// NewRuntime seeds a Runtime from an initial snapshot.
func NewRuntime(initial Snapshot) *Runtime {
	r := &Runtime{}
	r.ptr.Store(&initial)
	return r
}

// Get returns the current snapshot. The returned value is immutable; callers
// must not mutate it in place.
func (r *Runtime) Get() Snapshot {
	return *r.ptr.Load()
}

// Update replaces the snapshot with the result of applying mutate to a copy
// of the current one. mutate must not retain the pointer it is given.
func (r *Runtime) Update(mutate func(*Snapshot)) {
	cur := r.Get()
	mutate(&cur)
	r.ptr.Store(&cur)
}

// SetTradingPaused, SetDryRunEnabled and SetMarketDataMode are the named knob
// setters for a small operator surface (e.g. an admin endpoint elsewhere);
// the core never calls them directly. Other knobs change only through Update.
func (r *Runtime) SetTradingPaused(v bool) {
	r.Update(func(s *Snapshot) { s.TradingPaused = v })
}

func (r *Runtime) SetDryRunEnabled(v bool) {
	r.Update(func(s *Snapshot) { s.DryRunEnabled = v })
}

func (r *Runtime) SetMarketDataMode(mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case ModeAuto, ModeRestOnly, ModeWSOnly:
	default:
		return fmt.Errorf("invalid market data mode %q", mode)
	}
	r.Update(func(s *Snapshot) { s.MarketDataMode = mode })
	return nil
}
