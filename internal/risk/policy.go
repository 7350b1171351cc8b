package risk

import (
	"context"
	"time"

	"bitfinex-trading-core/internal/apierr"
)

// Decision is the RiskPolicyEngine's verdict for one intended trade.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine composes TradingWindow, TradeCounter, and Guards into one decision.
type Engine struct {
	window  *TradingWindow
	counter *TradeCounter
	guards  *Guards
}

func NewEngine(window *TradingWindow, counter *TradeCounter, guards *Guards) *Engine {
	return &Engine{window: window, counter: counter, guards: guards}
}

// Evaluate applies a fixed rejection-reason priority order: trading_paused >
// outside_trading_window > risk_guard_blocked:<name> >
// symbol_daily_trade_limit_reached > daily_trade_limit_reached >
// trade_cooldown_active.
func (e *Engine) Evaluate(ctx context.Context, symbol string, includeGuards bool) Decision {
	if e.window.IsPaused() {
		return Decision{Allowed: false, Reason: "trading_paused"}
	}
	if !e.window.IsOpen(time.Now()) {
		return Decision{Allowed: false, Reason: "outside_trading_window"}
	}
	if includeGuards {
		if g := e.guards.CheckAll(ctx); g.Blocked {
			return Decision{Allowed: false, Reason: "risk_guard_blocked:" + g.Name}
		}
	}
	if ok, reason := e.counter.CanExecute(symbol, time.Now()); !ok {
		return Decision{Allowed: false, Reason: reason}
	}
	return Decision{Allowed: true}
}

// RecordTrade delegates to the wrapped TradeCounter.
func (e *Engine) RecordTrade(symbol string) {
	e.counter.RecordTrade(symbol, time.Now())
}

// AsError converts a denying Decision into the stable apierr.PolicyDenied
// kind OrderPipeline returns to callers.
func (d Decision) AsError() error {
	if d.Allowed {
		return nil
	}
	return apierr.New(apierr.PolicyDenied, d.Reason)
}
