package risk

import (
	"log/slog"
	"sync"
	"time"

	"bitfinex-trading-core/pkg/jsonstore"
)

// counterFile is TradeCounter's persisted shape: a per-day trade count
// keyed by symbol, reset on each new trading day.
type counterFile struct {
	Day       string           `json:"day"` // YYYY-MM-DD in the counter's timezone
	Total     int              `json:"total"`
	PerSymbol map[string]int   `json:"per_symbol"`
	LastTS    map[string]int64 `json:"last_ts"` // unix seconds; only the "" key (global last trade) is written
}

// TradeCounter enforces per-day and per-symbol trade limits plus a cooldown
// between trades. Day rollover is detected lazily on every access, and a
// persistence failure is swallowed in favor of keeping the in-memory state
// authoritative — both behaviors are carried over verbatim from the
// original's _reset_if_new_day/_save_state (bare except: pass).
type TradeCounter struct {
	mu       sync.Mutex
	path     string
	loc      *time.Location
	log      *slog.Logger
	file     counterFile
	maxDay   int
	maxPerSym int
	cooldown time.Duration
}

func NewTradeCounter(path string, loc *time.Location, maxPerDay, maxPerSymbolPerDay int, cooldown time.Duration, log *slog.Logger) (*TradeCounter, error) {
	tc := &TradeCounter{
		path:      path,
		loc:       loc,
		log:       log,
		maxDay:    maxPerDay,
		maxPerSym: maxPerSymbolPerDay,
		cooldown:  cooldown,
	}
	var f counterFile
	if err := jsonstore.Load(path, &f); err != nil {
		log.Warn("trade counter: load failed, starting fresh", "err", err)
	}
	if f.PerSymbol == nil {
		f.PerSymbol = map[string]int{}
	}
	if f.LastTS == nil {
		f.LastTS = map[string]int64{}
	}
	tc.file = f
	tc.rolloverIfNewDay(time.Now())
	return tc, nil
}

func (tc *TradeCounter) today(now time.Time) string {
	return now.In(tc.loc).Format("2006-01-02")
}

// rolloverIfNewDay must be called with tc.mu held.
func (tc *TradeCounter) rolloverIfNewDay(now time.Time) {
	day := tc.today(now)
	if tc.file.Day == day {
		return
	}
	tc.file.Day = day
	tc.file.Total = 0
	tc.file.PerSymbol = map[string]int{}
}

// CanExecute reports whether a new trade is allowed right now: under the
// daily total, under the per-symbol daily total (if symbol given), and past
// the cooldown since the last trade.
func (tc *TradeCounter) CanExecute(symbol string, now time.Time) (bool, string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.rolloverIfNewDay(now)

	if symbol != "" && tc.file.PerSymbol[symbol] >= tc.maxPerSym {
		return false, "symbol_daily_trade_limit_reached"
	}
	if tc.file.Total >= tc.maxDay {
		return false, "daily_trade_limit_reached"
	}
	if last, ok := tc.file.LastTS[""]; ok {
		if now.Sub(time.Unix(last, 0)) < tc.cooldown {
			return false, "trade_cooldown_active"
		}
	}
	return true, ""
}

// RecordTrade increments counters for symbol (if given) and the global
// total, updates the cooldown clock, and persists. Persistence failures are
// logged and otherwise ignored; the in-memory state remains authoritative.
func (tc *TradeCounter) RecordTrade(symbol string, now time.Time) {
	tc.mu.Lock()
	tc.rolloverIfNewDay(now)
	tc.file.Total++
	if symbol != "" {
		tc.file.PerSymbol[symbol]++
	}
	tc.file.LastTS[""] = now.Unix()
	f := tc.file
	tc.mu.Unlock()

	if err := jsonstore.Save(tc.path, f); err != nil {
		tc.log.Warn("trade counter: persist failed, continuing with in-memory state", "err", err)
	}
}

// Snapshot returns the current counter state for observability.
func (tc *TradeCounter) Snapshot() (day string, total int, perSymbol map[string]int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	cp := make(map[string]int, len(tc.file.PerSymbol))
	for k, v := range tc.file.PerSymbol {
		cp[k] = v
	}
	return tc.file.Day, tc.file.Total, cp
}
