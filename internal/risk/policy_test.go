package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, fetchEquity EquityFetcher) *Engine {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	window, err := NewTradingWindow(filepath.Join(t.TempDir(), "window.json"), "UTC")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	counter, err := NewTradeCounter(filepath.Join(t.TempDir(), "counter.json"), time.UTC, 10, 5, 0, log)
	if err != nil {
		t.Fatalf("new counter: %v", err)
	}
	guards := NewGuards(fetchEquity, time.Second, log)
	return NewEngine(window, counter, guards)
}

func TestPolicyEngineTradingPausedTakesTopPriority(t *testing.T) {
	e := newTestEngine(t, func(ctx context.Context) (float64, error) { return 1000, nil })
	if err := e.window.SetPaused(true); err != nil {
		t.Fatalf("set paused: %v", err)
	}
	d := e.Evaluate(context.Background(), "tBTCUSD", true)
	if d.Allowed || d.Reason != "trading_paused" {
		t.Fatalf("expected trading_paused, got %+v", d)
	}
}

func TestPolicyEngineGuardBlockBeforeCounterCheck(t *testing.T) {
	e := newTestEngine(t, func(ctx context.Context) (float64, error) { return 1000, nil })
	e.guards.SetKillSwitch(true)
	d := e.Evaluate(context.Background(), "tBTCUSD", true)
	if d.Allowed || d.Reason != "risk_guard_blocked:kill_switch" {
		t.Fatalf("expected kill switch block, got %+v", d)
	}
}

func TestPolicyEngineFailsOpenOnEquityTimeout(t *testing.T) {
	e := newTestEngine(t, func(ctx context.Context) (float64, error) {
		<-ctx.Done()
		return 0, errors.New("timed out")
	})
	d := e.Evaluate(context.Background(), "tBTCUSD", true)
	if !d.Allowed {
		t.Fatalf("expected fail-open allow on equity timeout, got %+v", d)
	}
}

func TestPolicyEngineAllowsWhenNothingBlocks(t *testing.T) {
	e := newTestEngine(t, func(ctx context.Context) (float64, error) { return 1000, nil })
	d := e.Evaluate(context.Background(), "tBTCUSD", true)
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	if err := d.AsError(); err != nil {
		t.Fatalf("expected nil error for allowed decision, got %v", err)
	}
}
