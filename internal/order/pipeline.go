package order

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/idempotency"
	"bitfinex-trading-core/internal/metrics"
	"bitfinex-trading-core/internal/risk"
)

// Submitter submits a validated, policy-approved order to the exchange,
// either over REST or the authenticated WS session depending on the
// pipeline's configured mode.
type Submitter interface {
	SubmitOrder(ctx context.Context, n Normalized) (Order, error)
}

// RateLimiter is the local, client-side submission throttle distinct from
// the transport-level per-endpoint-class limiter.
type RateLimiter interface {
	Allow() bool
}

// Pipeline is the OrderPipeline collaborator: a staged Handle(ctx, o) flow
// with a dry-run/live executor split for the submission step.
type Pipeline struct {
	validator   *Validator
	policy      *risk.Engine
	idempotency *idempotency.Cache
	bracket     *Manager
	submitter   Submitter
	limiter     RateLimiter
	metrics     *metrics.Store
	log         *slog.Logger
	dryRun      func() bool
	rng         *rand.Rand
}

func NewPipeline(validator *Validator, policy *risk.Engine, idem *idempotency.Cache, bracket *Manager, submitter Submitter, limiter RateLimiter, m *metrics.Store, log *slog.Logger, dryRun func() bool) *Pipeline {
	return &Pipeline{
		validator:   validator,
		policy:      policy,
		idempotency: idem,
		bracket:     bracket,
		submitter:   submitter,
		limiter:     limiter,
		metrics:     m,
		log:         log,
		dryRun:      dryRun,
		rng:         rand.New(rand.NewSource(1)),
	}
}

// Submit runs an order intent through validation, policy, idempotency,
// dry-run/live dispatch, and (for a live fill) trade-count bookkeeping and
// bracket-leg registration.
func (p *Pipeline) Submit(ctx context.Context, intent Intent) (Result, error) {
	if intent.ClientID == "" {
		intent.ClientID = uuid.NewString()
	}

	norm, err := p.validator.Validate(intent)
	if err != nil {
		return Result{}, err
	}

	decision := p.policy.Evaluate(ctx, norm.Symbol, true)
	if !decision.Allowed {
		return Result{}, decision.AsError()
	}

	fp := idempotency.Fingerprint(norm.Symbol, string(norm.Side), string(norm.Type), norm.Amount.String(), norm.Price.String(), intent.ClientID, time.Now())
	status, cached := p.idempotency.CheckAndRegister(fp)
	switch status {
	case idempotency.Hit:
		return Result{Order: Order{ID: cached.OrderID, Status: cached.Status}, FromCache: true}, nil
	case idempotency.Pending:
		return Result{}, apierr.New(apierr.DuplicateRequest, "")
	}

	if intent.DryRun || (p.dryRun != nil && p.dryRun()) {
		sim := p.simulate(norm)
		p.idempotency.StoreResponse(fp, idempotency.Result{Success: true, OrderID: sim.ID, Status: sim.Status})
		if p.metrics != nil {
			p.metrics.OrderSubmitted("dry_run")
		}
		return Result{Order: sim, DryRun: true}, nil
	}

	if p.limiter != nil && !p.limiter.Allow() {
		return Result{}, apierr.New(apierr.RateLimited, "local_client_limiter")
	}

	live, err := p.submitWithRetry(ctx, norm)
	if err != nil {
		p.idempotency.StoreResponse(fp, idempotency.Result{Success: false, Error: err.Error()})
		if p.metrics != nil {
			p.metrics.OrderFailed(string(apierr.ExchangeError))
		}
		return Result{}, err
	}

	p.idempotency.StoreResponse(fp, idempotency.Result{Success: true, OrderID: live.ID, Status: live.Status})
	if p.metrics != nil {
		p.metrics.OrderSubmitted("live")
	}
	p.policy.RecordTrade(norm.Symbol)

	if intent.Bracket != nil && p.bracket != nil {
		p.submitBracketLegs(ctx, norm, live, intent.Bracket)
	}
	return Result{Order: live}, nil
}

// submitBracketLegs places the stop-loss and take-profit legs opposite the
// just-filled entry's side and registers the resulting group with
// BracketManager so OnTradeExecuted can cancel whichever leg doesn't fill. A
// leg that fails to submit is logged, not retried: an entry left without one
// or both exits is a risk-policy concern, not something this pipeline papers
// over with silent retries.
func (p *Pipeline) submitBracketLegs(ctx context.Context, norm Normalized, entry Order, b *BracketIntent) {
	exitSide := Sell
	if norm.Side == Sell {
		exitSide = Buy
	}
	amount := norm.Amount.Abs()

	var slID, tpID int64
	if b.StopLossPrice != "" {
		slPrice, err := parsePositiveDecimal(b.StopLossPrice)
		if err != nil {
			p.log.Warn("bracket: invalid stop_loss_price, leg not placed", "entry_id", entry.ID, "err", err)
		} else if sl, err := p.submitter.SubmitOrder(ctx, Normalized{
			Symbol: norm.Symbol,
			Side:   exitSide,
			Type:   TypeStop,
			Amount: signedAmount(exitSide, amount),
			Price:  slPrice,
		}); err != nil {
			p.log.Warn("bracket: stop_loss leg submit failed", "entry_id", entry.ID, "err", err)
		} else {
			slID = sl.ID
		}
	}
	if b.TakeProfitPrice != "" {
		tpPrice, err := parsePositiveDecimal(b.TakeProfitPrice)
		if err != nil {
			p.log.Warn("bracket: invalid take_profit_price, leg not placed", "entry_id", entry.ID, "err", err)
		} else if tp, err := p.submitter.SubmitOrder(ctx, Normalized{
			Symbol: norm.Symbol,
			Side:   exitSide,
			Type:   TypeLimit,
			Amount: signedAmount(exitSide, amount),
			Price:  tpPrice,
		}); err != nil {
			p.log.Warn("bracket: take_profit leg submit failed", "entry_id", entry.ID, "err", err)
		} else {
			tpID = tp.ID
		}
	}
	if slID == 0 && tpID == 0 {
		return
	}

	amt, _ := amount.Float64()
	gid := uuid.NewString()
	if err := p.bracket.RegisterGroup(gid, entry.ID, slID, tpID, amt, norm.Side); err != nil {
		p.log.Warn("bracket: register group failed", "entry_id", entry.ID, "err", err)
	}
}

func signedAmount(side Side, amount decimal.Decimal) decimal.Decimal {
	if side == Sell {
		return amount.Neg()
	}
	return amount
}

// simulate synthesizes a {dry_run: true, id: simulated} order, generalized
// from DryRunExecutor/MockExecutor slippage/fee/latency simulation
// (here repurposed from Binance fills to a plain acknowledged Bitfinex
// order, since this process does not model a simulated balance ledger).
func (p *Pipeline) simulate(n Normalized) Order {
	amt, _ := n.Amount.Float64()
	price, _ := n.Price.Float64()
	return Order{
		ID:        -p.rng.Int63n(1_000_000_000),
		ClientID:  n.ClientID,
		Symbol:    n.Symbol,
		Side:      n.Side,
		Type:      n.Type,
		Amount:    amt,
		Price:     price,
		Status:    "ACTIVE",
		DryRun:    true,
		CreatedAt: time.Now(),
	}
}

// submitWithRetry retries transient submit failures with exponential
// backoff, doubling after each attempt.
func (p *Pipeline) submitWithRetry(ctx context.Context, n Normalized) (Order, error) {
	const maxAttempts = 3
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		o, err := p.submitter.SubmitOrder(ctx, n)
		if err == nil {
			return o, nil
		}
		lastErr = err
		if !apierr.Is(err, apierr.TransportError) {
			return Order{}, err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Order{}, ctx.Err()
		}
		backoff *= 2
	}
	return Order{}, lastErr
}
