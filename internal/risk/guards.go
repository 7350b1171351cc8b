package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EquityFetcher returns current account equity. Implementations should hit a
// fast local cache (priceCache/exposureCache TTL pattern) rather
// than a live exchange call on every guard check.
type EquityFetcher func(ctx context.Context) (float64, error)

// GuardResult is one guard's verdict.
type GuardResult struct {
	Name    string
	Blocked bool
	Reason  string
}

// guardConfig holds one guard's tunables: a binary block/allow threshold
// rather than a soft warning/caution tiering.
type guardConfig struct {
	enabled bool
}

// Guards is the RiskGuards collaborator: daily-loss, drawdown, and a manual
// kill switch, each independently toggleable, each fail-open on equity
// fetch timeout (a timeout must never block trading, only warn).
type Guards struct {
	mu   sync.RWMutex
	log  *slog.Logger
	fetchEquity EquityFetcher
	fetchTimeout time.Duration

	dailyLoss guardConfig
	dailyLossPct float64
	dayStartEquity float64
	dayStartSet    bool

	drawdown    guardConfig
	drawdownPct float64
	peakEquity  float64

	killSwitch bool

	onFetchTimeout func() // test hook / metrics callback
}

func NewGuards(fetchEquity EquityFetcher, fetchTimeout time.Duration, log *slog.Logger) *Guards {
	return &Guards{
		fetchEquity:  fetchEquity,
		fetchTimeout: fetchTimeout,
		log:          log,
		dailyLoss:    guardConfig{enabled: true},
		dailyLossPct: 0.05,
		drawdown:     guardConfig{enabled: true},
		drawdownPct:  0.10,
	}
}

func (g *Guards) SetDailyLossEnabled(v bool)  { g.mu.Lock(); g.dailyLoss.enabled = v; g.mu.Unlock() }
func (g *Guards) SetDrawdownEnabled(v bool)   { g.mu.Lock(); g.drawdown.enabled = v; g.mu.Unlock() }
func (g *Guards) SetDailyLossPct(p float64)   { g.mu.Lock(); g.dailyLossPct = p; g.mu.Unlock() }
func (g *Guards) SetDrawdownPct(p float64)    { g.mu.Lock(); g.drawdownPct = p; g.mu.Unlock() }
func (g *Guards) SetKillSwitch(v bool)        { g.mu.Lock(); g.killSwitch = v; g.mu.Unlock() }
func (g *Guards) KillSwitchActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.killSwitch
}

// ResetDay snapshots the current equity as the day-start baseline; called by
// the scheduler's EquitySnapshot job at day rollover.
func (g *Guards) ResetDay(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dayStartEquity = equity
	g.dayStartSet = true
	if equity > g.peakEquity {
		g.peakEquity = equity
	}
}

// CheckAll evaluates every enabled guard and returns the first that blocks,
// or a zero GuardResult (Blocked false) if none do. A guard whose equity fetch times out does not
// block (fail-open for liveness) but is logged as a warning.
func (g *Guards) CheckAll(ctx context.Context) GuardResult {
	g.mu.RLock()
	killed := g.killSwitch
	g.mu.RUnlock()
	if killed {
		return GuardResult{Name: "kill_switch", Blocked: true, Reason: "kill_switch_engaged"}
	}

	equity, err := g.fetchEquityWithTimeout(ctx)
	if err != nil {
		g.log.Warn("risk guards: equity fetch failed or timed out, failing open", "err", err)
		if g.onFetchTimeout != nil {
			g.onFetchTimeout()
		}
		return GuardResult{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if equity > g.peakEquity {
		g.peakEquity = equity
	}

	if g.dailyLoss.enabled && g.dayStartSet && g.dayStartEquity > 0 {
		loss := (g.dayStartEquity - equity) / g.dayStartEquity
		if loss >= g.dailyLossPct {
			return GuardResult{Name: "daily_loss", Blocked: true, Reason: "daily_loss_limit_exceeded"}
		}
	}
	if g.drawdown.enabled && g.peakEquity > 0 {
		dd := (g.peakEquity - equity) / g.peakEquity
		if dd >= g.drawdownPct {
			return GuardResult{Name: "drawdown", Blocked: true, Reason: "drawdown_limit_exceeded"}
		}
	}
	return GuardResult{}
}

func (g *Guards) fetchEquityWithTimeout(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
	defer cancel()
	return g.fetchEquity(ctx)
}
