package order

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/idempotency"
	"bitfinex-trading-core/internal/risk"
)

type fakeSubmitter struct {
	calls int
	err   error
	order Order
}

func (f *fakeSubmitter) SubmitOrder(ctx context.Context, n Normalized) (Order, error) {
	f.calls++
	if f.err != nil {
		return Order{}, f.err
	}
	amt, _ := n.Amount.Float64()
	return Order{ID: int64(f.calls), Symbol: n.Symbol, Side: n.Side, Amount: amt, Status: "ACTIVE"}, nil
}

type alwaysAllow struct{}

func (alwaysAllow) Allow() bool { return true }

func newTestPipelineWithCounter(t *testing.T, submitter Submitter, dryRun bool) (*Pipeline, *risk.TradeCounter) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	window, err := risk.NewTradingWindow(filepath.Join(t.TempDir(), "window.json"), "UTC")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	counter, err := risk.NewTradeCounter(filepath.Join(t.TempDir(), "counter.json"), time.UTC, 100, 100, 0, log)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	guards := risk.NewGuards(func(ctx context.Context) (float64, error) { return 1000, nil }, time.Second, log)
	engine := risk.NewEngine(window, counter, guards)
	validator := NewValidator(nil)
	idem := idempotency.New(time.Minute)
	p := NewPipeline(validator, engine, idem, nil, submitter, alwaysAllow{}, nil, log, func() bool { return dryRun })
	return p, counter
}

func newTestPipeline(t *testing.T, submitter Submitter, dryRun bool) *Pipeline {
	t.Helper()
	p, _ := newTestPipelineWithCounter(t, submitter, dryRun)
	return p
}

func TestPipelineDryRunNeverCallsSubmitter(t *testing.T) {
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, sub, true)
	res, err := p.Submit(context.Background(), Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.DryRun {
		t.Fatalf("expected dry run result")
	}
	if sub.calls != 0 {
		t.Fatalf("expected no submitter calls in dry run, got %d", sub.calls)
	}
}

func TestPipelineSubmitsLiveOrder(t *testing.T) {
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, sub, false)
	res, err := p.Submit(context.Background(), Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DryRun {
		t.Fatalf("expected live order")
	}
	if sub.calls != 1 {
		t.Fatalf("expected exactly one submit call, got %d", sub.calls)
	}
}

func TestPipelineIdempotentDuplicateReturnsCached(t *testing.T) {
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, sub, false)
	intent := Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "1", ClientID: "fixed-client-id"}

	first, err := p.Submit(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.Submit(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error on duplicate: %v", err)
	}
	if !second.FromCache {
		t.Fatalf("expected second identical submit to be served from cache")
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("expected cached order id to match first submit")
	}
	if sub.calls != 1 {
		t.Fatalf("expected only one real submit call, got %d", sub.calls)
	}
}

func TestPipelineRejectsInvalidIntent(t *testing.T) {
	sub := &fakeSubmitter{}
	p := newTestPipeline(t, sub, false)
	_, err := p.Submit(context.Background(), Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "0"})
	if !apierr.Is(err, apierr.InvalidOrder) {
		t.Fatalf("expected invalid_order error, got %v", err)
	}
	if sub.calls != 0 {
		t.Fatalf("expected validation failure to short-circuit before submit")
	}
}

func TestPipelineLiveSubmitRecordsTrade(t *testing.T) {
	sub := &fakeSubmitter{}
	p, counter := newTestPipelineWithCounter(t, sub, false)
	if _, err := p.Submit(context.Background(), Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, total, _ := counter.Snapshot(); total != 1 {
		t.Fatalf("expected trade counter total 1, got %d", total)
	}
}

func TestPipelineDryRunDoesNotRecordTrade(t *testing.T) {
	sub := &fakeSubmitter{}
	p, counter := newTestPipelineWithCounter(t, sub, true)
	if _, err := p.Submit(context.Background(), Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, total, _ := counter.Snapshot(); total != 0 {
		t.Fatalf("expected dry run not to record a trade, got total %d", total)
	}
}

func TestPipelineSubmitRegistersBracketGroup(t *testing.T) {
	sub := &fakeSubmitter{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	window, err := risk.NewTradingWindow(filepath.Join(t.TempDir(), "window.json"), "UTC")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	counter, err := risk.NewTradeCounter(filepath.Join(t.TempDir(), "counter.json"), time.UTC, 100, 100, 0, log)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	guards := risk.NewGuards(func(ctx context.Context) (float64, error) { return 1000, nil }, time.Second, log)
	engine := risk.NewEngine(window, counter, guards)
	validator := NewValidator(nil)
	idem := idempotency.New(time.Minute)
	bracket, err := NewManager(filepath.Join(t.TempDir(), "brackets.json"), &fakeCanceller{}, &fakeResizer{}, false, log)
	if err != nil {
		t.Fatalf("bracket manager: %v", err)
	}
	p := NewPipeline(validator, engine, idem, bracket, sub, alwaysAllow{}, nil, log, func() bool { return false })

	res, err := p.Submit(context.Background(), Intent{
		Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "1",
		Bracket: &BracketIntent{StopLossPrice: "49000", TakeProfitPrice: "51000"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls != 3 {
		t.Fatalf("expected entry + sl + tp submit calls (3), got %d", sub.calls)
	}
	bracket.mu.Lock()
	group := bracket.groupForOrder(res.Order.ID)
	bracket.mu.Unlock()
	if group == nil {
		t.Fatalf("expected bracket group registered for entry order %d", res.Order.ID)
	}
	if group.SLID == 0 || group.TPID == 0 {
		t.Fatalf("expected both sl/tp ids set on group, got %+v", group)
	}
}

func TestPipelineRetriesTransportErrorsBeforeFailing(t *testing.T) {
	sub := &fakeSubmitter{err: apierr.New(apierr.TransportError, "connection_reset")}
	p := newTestPipeline(t, sub, false)
	_, err := p.Submit(context.Background(), Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "1"})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if sub.calls != 3 {
		t.Fatalf("expected 3 submit attempts, got %d", sub.calls)
	}
}
