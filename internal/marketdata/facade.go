// Package marketdata implements MarketDataFacade: WS-first, REST-fallback
// access to tickers and candles with source/reason attribution, built on a
// hot/warm-tier data facade shape (an Attribution struct marking source and
// reason) and a priceCache TTL pattern, generalized into pkg/cache.Sharded.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/candle"
	"bitfinex-trading-core/internal/config"
	"bitfinex-trading-core/internal/metrics"
	"bitfinex-trading-core/pkg/cache"
)

// Ticker is the normalized snapshot shape returned by GetTicker.
type Ticker struct {
	Symbol    string
	Bid       float64
	Ask       float64
	LastPrice float64
	Volume    float64
	Timestamp time.Time
}

// Attribution reports where a result came from, mirroring cryptorun's
// Attribution{Venue, LastUpdate, Sources, CacheHits, CacheMisses, Latency}
// shape, narrowed to this facade's two-tier (ws/rest) model.
type Attribution struct {
	Source  string // "ws" or "rest"
	Reason  string
	AsOf    time.Time
	Latency time.Duration
}

// TickerResult bundles a Ticker with its Attribution.
type TickerResult struct {
	Ticker Ticker
	Attr   Attribution
}

// RESTTickerFetcher fetches a ticker via the signed REST transport. Kept as
// an interface so the facade does not import internal/transport directly.
type RESTTickerFetcher interface {
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
}

// RESTCandleFetcher fetches candles via the signed REST transport.
type RESTCandleFetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error)
}

type tickerEntry struct {
	ticker Ticker
}

// Facade is the MarketDataFacade collaborator.
type Facade struct {
	runtime  *config.Runtime
	rest     RESTTickerFetcher
	restC    RESTCandleFetcher
	candles  *candle.Store
	wsCache  *cache.Sharded[tickerEntry]
	wsWaiter *tickerWaiters
	log      *slog.Logger
	metrics  *metrics.Store
}

func New(runtime *config.Runtime, rest RESTTickerFetcher, restC RESTCandleFetcher, candles *candle.Store, log *slog.Logger, m *metrics.Store) *Facade {
	return &Facade{
		runtime:  runtime,
		rest:     rest,
		restC:    restC,
		candles:  candles,
		wsCache:  cache.New[tickerEntry](),
		wsWaiter: newTickerWaiters(),
		log:      log,
		metrics:  m,
	}
}

// OnWSTicker feeds a freshly received WS ticker tick into the facade's hot
// tier, matching priceCache{mu, m, ts, ttl} write path.
func (f *Facade) OnWSTicker(symbol string, t Ticker) {
	f.wsCache.Set(symbol, tickerEntry{ticker: t})
	f.wsWaiter.notify(symbol, t)
}

// GetTicker returns the freshest ticker for symbol, preferring a recent WS
// snapshot, falling back to a short WS warm-up wait, then to REST —
// governed by RuntimeConfig's MarketDataMode (auto/rest_only/ws_only).
func (f *Facade) GetTicker(ctx context.Context, symbol string) (TickerResult, error) {
	start := time.Now()
	snap := f.runtime.Get()

	if snap.MarketDataMode == config.ModeRestOnly {
		return f.fetchREST(ctx, symbol, start, "rest_only_mode")
	}

	if v, age, ok := f.wsCache.GetWithAge(symbol); ok && age < snap.WSTickerStaleSecs {
		return TickerResult{Ticker: v.ticker, Attr: Attribution{Source: "ws", Reason: "fresh_cache", AsOf: v.ticker.Timestamp, Latency: time.Since(start)}}, nil
	}

	warmupCtx, cancel := context.WithTimeout(ctx, snap.WSTickerWarmupMs)
	defer cancel()
	if t, ok := f.wsWaiter.wait(warmupCtx, symbol); ok {
		return TickerResult{Ticker: t, Attr: Attribution{Source: "ws", Reason: "warmup_wait", AsOf: t.Timestamp, Latency: time.Since(start)}}, nil
	}

	if snap.MarketDataMode == config.ModeWSOnly {
		return TickerResult{}, apierr.New(apierr.TransportError, "ws_miss_in_ws_only_mode")
	}
	return f.fetchREST(ctx, symbol, start, "ws_miss_fallback")
}

func (f *Facade) fetchREST(ctx context.Context, symbol string, start time.Time, reason string) (TickerResult, error) {
	t, err := f.rest.FetchTicker(ctx, symbol)
	if err != nil {
		return TickerResult{}, apierr.Wrap(apierr.TransportError, "rest_ticker_fetch", err)
	}
	return TickerResult{Ticker: t, Attr: Attribution{Source: "rest", Reason: reason, AsOf: t.Timestamp, Latency: time.Since(start)}}, nil
}

// CandleResult bundles candles with attribution.
type CandleResult struct {
	Candles []candle.Candle
	Attr    Attribution
}

// GetCandles serves from CandleStore when coverage/freshness is sufficient;
// otherwise fetches REST, upserts into CandleStore, and returns the merged
// view.
func (f *Facade) GetCandles(ctx context.Context, symbol, timeframe string, limit int) (CandleResult, error) {
	start := time.Now()
	cached, err := f.candles.Load(symbol, timeframe, limit)
	if err == nil && len(cached) >= limit {
		last, ok, _ := f.candles.GetLast(symbol, timeframe)
		fresh := ok && time.Since(time.UnixMilli(last.MTS)) < staleCandleWindow(timeframe)
		if fresh {
			return CandleResult{Candles: cached, Attr: Attribution{Source: "store", Reason: "cache_sufficient", AsOf: time.UnixMilli(last.MTS), Latency: time.Since(start)}}, nil
		}
	}

	fetched, err := f.restC.FetchCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		if len(cached) > 0 {
			return CandleResult{Candles: cached, Attr: Attribution{Source: "store", Reason: "rest_fetch_failed_stale_fallback", Latency: time.Since(start)}}, nil
		}
		return CandleResult{}, apierr.Wrap(apierr.TransportError, "rest_candles_fetch", err)
	}
	result := fetched
	if err := f.candles.Store(symbol, timeframe, fetched); err != nil {
		f.log.Warn("candle store upsert failed", "err", err, "symbol", symbol, "timeframe", timeframe)
	} else if merged, err := f.candles.Load(symbol, timeframe, limit); err == nil && len(merged) > 0 {
		result = merged
	}
	return CandleResult{Candles: result, Attr: Attribution{Source: "rest", Reason: "cache_insufficient", Latency: time.Since(start)}}, nil
}

func staleCandleWindow(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return 2 * time.Minute
	case "5m":
		return 10 * time.Minute
	case "15m":
		return 30 * time.Minute
	case "1h":
		return 2 * time.Hour
	default:
		return time.Hour
	}
}
