package risk

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestCounter(t *testing.T, maxDay, maxSym int, cooldown time.Duration) *TradeCounter {
	t.Helper()
	loc := time.UTC
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc, err := NewTradeCounter(filepath.Join(t.TempDir(), "counter.json"), loc, maxDay, maxSym, cooldown, log)
	if err != nil {
		t.Fatalf("new counter: %v", err)
	}
	return tc
}

func TestTradeCounterDailyLimit(t *testing.T) {
	tc := newTestCounter(t, 2, 10, 0)
	now := time.Now()

	for i := 0; i < 2; i++ {
		ok, reason := tc.CanExecute("tBTCUSD", now)
		if !ok {
			t.Fatalf("trade %d should be allowed, got reason %q", i, reason)
		}
		tc.RecordTrade("tBTCUSD", now)
	}
	ok, reason := tc.CanExecute("tBTCUSD", now)
	if ok || reason != "daily_trade_limit_reached" {
		t.Fatalf("expected daily limit block, got ok=%v reason=%q", ok, reason)
	}
}

func TestTradeCounterSymbolLimitTakesPriorityOverDaily(t *testing.T) {
	tc := newTestCounter(t, 100, 1, 0)
	now := time.Now()
	tc.RecordTrade("tBTCUSD", now)

	ok, reason := tc.CanExecute("tBTCUSD", now)
	if ok || reason != "symbol_daily_trade_limit_reached" {
		t.Fatalf("expected symbol limit block, got ok=%v reason=%q", ok, reason)
	}
}

func TestTradeCounterCooldown(t *testing.T) {
	tc := newTestCounter(t, 100, 100, time.Minute)
	now := time.Now()
	tc.RecordTrade("tBTCUSD", now)

	ok, reason := tc.CanExecute("tETHUSD", now.Add(time.Second))
	if ok || reason != "trade_cooldown_active" {
		t.Fatalf("expected cooldown block, got ok=%v reason=%q", ok, reason)
	}
	ok, _ = tc.CanExecute("tETHUSD", now.Add(2*time.Minute))
	if !ok {
		t.Fatalf("expected trade allowed after cooldown elapses")
	}
}

func TestTradeCounterDayRollover(t *testing.T) {
	tc := newTestCounter(t, 1, 100, 0)
	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tc.RecordTrade("tBTCUSD", day1)

	ok, reason := tc.CanExecute("tBTCUSD", day1)
	if ok || reason != "daily_trade_limit_reached" {
		t.Fatalf("expected limit reached same day, got ok=%v reason=%q", ok, reason)
	}

	day2 := day1.Add(24 * time.Hour)
	ok, _ = tc.CanExecute("tBTCUSD", day2)
	if !ok {
		t.Fatalf("expected rollover to reset daily limit")
	}
}
