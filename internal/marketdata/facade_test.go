package marketdata

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"bitfinex-trading-core/internal/candle"
	"bitfinex-trading-core/internal/config"
)

type fakeRESTTicker struct {
	calls int
	t     Ticker
	err   error
}

func (f *fakeRESTTicker) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	f.calls++
	return f.t, f.err
}

type fakeRESTCandles struct {
	calls int
	c     []candle.Candle
	err   error
}

func (f *fakeRESTCandles) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	f.calls++
	return f.c, f.err
}

func newTestFacade(t *testing.T) (*Facade, *fakeRESTTicker, *fakeRESTCandles) {
	t.Helper()
	store, err := candle.Open(filepath.Join(t.TempDir(), "candles.db"))
	if err != nil {
		t.Fatalf("open candle store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rt := config.NewRuntime(config.DefaultSnapshot())
	rest := &fakeRESTTicker{t: Ticker{Symbol: "tBTCUSD", LastPrice: 100, Timestamp: time.Now()}}
	restC := &fakeRESTCandles{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(rt, rest, restC, store, log, nil), rest, restC
}

func TestGetTickerUsesFreshWSCache(t *testing.T) {
	f, rest, _ := newTestFacade(t)
	f.OnWSTicker("tBTCUSD", Ticker{Symbol: "tBTCUSD", LastPrice: 200, Timestamp: time.Now()})

	res, err := f.GetTicker(context.Background(), "tBTCUSD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attr.Source != "ws" {
		t.Fatalf("expected ws source, got %s", res.Attr.Source)
	}
	if rest.calls != 0 {
		t.Fatalf("expected no REST call, got %d", rest.calls)
	}
}

func TestGetTickerFallsBackToRESTOnWSMiss(t *testing.T) {
	f, rest, _ := newTestFacade(t)
	f.runtime.Update(func(s *config.Snapshot) { s.WSTickerWarmupMs = 10 * time.Millisecond })

	res, err := f.GetTicker(context.Background(), "tBTCUSD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attr.Source != "rest" {
		t.Fatalf("expected rest source, got %s", res.Attr.Source)
	}
	if rest.calls != 1 {
		t.Fatalf("expected one REST call, got %d", rest.calls)
	}
}

func TestGetTickerRestOnlyModeSkipsWS(t *testing.T) {
	f, rest, _ := newTestFacade(t)
	f.runtime.Update(func(s *config.Snapshot) { s.MarketDataMode = config.ModeRestOnly })
	f.OnWSTicker("tBTCUSD", Ticker{Symbol: "tBTCUSD", LastPrice: 200, Timestamp: time.Now()})

	res, err := f.GetTicker(context.Background(), "tBTCUSD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attr.Source != "rest" || rest.calls != 1 {
		t.Fatalf("expected forced rest fetch, got source=%s calls=%d", res.Attr.Source, rest.calls)
	}
}

func TestGetCandlesFetchesRESTWhenStoreEmpty(t *testing.T) {
	f, _, restC := newTestFacade(t)
	restC.c = []candle.Candle{{MTS: time.Now().UnixMilli(), Open: 1, Close: 2, High: 3, Low: 0.5, Volume: 10}}

	res, err := f.GetCandles(context.Background(), "tBTCUSD", "1m", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attr.Source != "rest" || restC.calls != 1 {
		t.Fatalf("expected rest fetch, got source=%s calls=%d", res.Attr.Source, restC.calls)
	}
	if len(res.Candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(res.Candles))
	}
}
