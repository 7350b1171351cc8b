package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"bitfinex-trading-core/internal/balance"
	"bitfinex-trading-core/internal/candle"
	"bitfinex-trading-core/internal/config"
	"bitfinex-trading-core/internal/idempotency"
	"bitfinex-trading-core/internal/indicators"
	"bitfinex-trading-core/internal/logging"
	"bitfinex-trading-core/internal/marketdata"
	"bitfinex-trading-core/internal/metrics"
	"bitfinex-trading-core/internal/nonce"
	"bitfinex-trading-core/internal/order"
	"bitfinex-trading-core/internal/probmodel"
	"bitfinex-trading-core/internal/risk"
	"bitfinex-trading-core/internal/scheduler"
	"bitfinex-trading-core/internal/transport"
	"bitfinex-trading-core/internal/wsfabric"
)

func main() {
	log := logging.New(logging.Options{Level: "info", Format: "json"})

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log = logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Info("starting", "symbols", cfg.Symbols)

	runtime := config.NewRuntime(config.DefaultSnapshot())
	snap := runtime.Get()

	m := metrics.New()
	if cfg.MetricsEnabled {
		go serveMetrics(cfg.MetricsAddr, m, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nonceSrc := nonce.New(cfg.StateDir, logging.Component(log, "nonce"))
	signer := transport.NewSigner(transport.Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret}, nonceSrc)

	rules, err := transport.LoadRulesFromYAML(cfg.PatternsFile)
	if err != nil {
		log.Error("rate limit patterns load failed", "err", err)
		os.Exit(1)
	}
	if rules == nil {
		rules = transport.DefaultRules()
	}
	ruleSet, err := transport.NewRuleSet(rules)
	if err != nil {
		log.Error("rate limit rule compile failed", "err", err)
		os.Exit(1)
	}
	limiter := transport.NewRateLimiter(ruleSet, m, logging.Component(log, "ratelimiter"), snap.RateLimitEnabled)
	breaker := transport.NewTransportCircuitBreaker(m, logging.Component(log, "breaker"))

	signedClient := transport.NewSignedHttpClient(cfg.RESTPrivateBaseURL, signer, limiter, breaker, logging.Component(log, "rest"))
	publicClient := transport.NewPublicClient(cfg.RESTPublicBaseURL, limiter)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Error("state dir create failed", "err", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Error("db dir create failed", "err", err)
		os.Exit(1)
	}

	candleStore, err := candle.Open(cfg.DBPath)
	if err != nil {
		log.Error("candle store open failed", "err", err)
		os.Exit(1)
	}
	defer candleStore.Close()

	indEngine := indicators.NewEngine(indicators.DefaultPeriodsStandard())

	facade := marketdata.New(runtime, publicClient, publicClient, candleStore, logging.Component(log, "marketdata"), m)

	wsPool := wsfabric.NewPool(cfg.WSPublicURL, snap.WSPublicSocketsMax, snap.WSMaxSubsPerSocket, logging.Component(log, "wspool"), m)
	wsSession := wsfabric.NewSession(cfg.WSPrivateURL, signer, cfg.DeadManSeconds, logging.Component(log, "wssession"))

	idemCache := idempotency.New(5 * time.Minute)

	window, err := risk.NewTradingWindow(filepath.Join(cfg.StateDir, "trading_window.json"), "UTC")
	if err != nil {
		log.Error("trading window init failed", "err", err)
		os.Exit(1)
	}
	counter, err := risk.NewTradeCounter(
		filepath.Join(cfg.StateDir, "trade_counter.json"),
		time.UTC,
		snap.MaxTradesPerDay,
		snap.MaxTradesPerSymbolPerDay,
		snap.TradeCooldownSeconds,
		logging.Component(log, "tradecounter"),
	)
	if err != nil {
		log.Error("trade counter init failed", "err", err)
		os.Exit(1)
	}

	walletClient := transport.NewWalletClient(signedClient)
	wallets := balance.NewTracker(walletClient, 5*time.Minute, logging.Component(log, "wallets"))
	guards := risk.NewGuards(wallets.Fetch, 3*time.Second, logging.Component(log, "guards"))
	policy := risk.NewEngine(window, counter, guards)

	validator := order.NewValidator(cfg.Symbols)
	orderGateway := transport.NewOrderGateway(signedClient)

	bracketMgr, err := order.NewManager(
		filepath.Join(cfg.StateDir, "bracket_state.json"),
		orderGateway,
		orderGateway,
		snap.BracketPartialAdjust,
		logging.Component(log, "bracket"),
	)
	if err != nil {
		log.Error("bracket manager init failed", "err", err)
		os.Exit(1)
	}

	// Client-side submission throttle, distinct from the per-endpoint-class
	// transport limiter: rate.Limiter already satisfies order.RateLimiter's
	// Allow() bool contract without a wrapper type.
	submitThrottle := rate.NewLimiter(rate.Limit(5), 10)

	pipeline := order.NewPipeline(
		validator,
		policy,
		idemCache,
		bracketMgr,
		orderGateway,
		submitThrottle,
		m,
		logging.Component(log, "pipeline"),
		func() bool { return runtime.Get().DryRunEnabled },
	)
	go serveOrderAPI(cfg.OrderAPIAddr, pipeline, logging.Component(log, "orderapi"))

	// WS public fan-out: subscribe each configured symbol's ticker and 1m
	// candle channels, feeding the facade's WS-first ticker cache and
	// IncrementalIndicators respectively.
	const candleTimeframe = "1m"
	for _, sym := range cfg.Symbols {
		symbol := sym
		if err := wsPool.Subscribe(ctx, "ticker", symbol, "", func(msg json.RawMessage) {
			onTickerMessage(facade, symbol, msg)
		}); err != nil {
			log.Warn("ticker subscribe failed", "symbol", symbol, "err", err)
		}
		if err := wsPool.Subscribe(ctx, "candles", symbol, candleTimeframe, func(msg json.RawMessage) {
			onCandleMessage(candleStore, indEngine, symbol, candleTimeframe, msg, log)
		}); err != nil {
			log.Warn("candle subscribe failed", "symbol", symbol, "err", err)
		}
	}

	// REST poll fallback for the window before the private session's first
	// wallet snapshot arrives, and periodically thereafter.
	wallets.Start(ctx)

	// WS private session: order/trade events feed BracketManager's sibling-
	// cancel logic, wallet events feed the WalletTracker RiskGuards reads.
	go func() {
		err := wsSession.Run(ctx, func(evt wsfabric.PrivateEvent) {
			onPrivateEvent(ctx, evt, bracketMgr, wallets)
		})
		if err != nil && ctx.Err() == nil {
			log.Error("private session exited", "err", err)
		}
	}()

	probModel := probmodel.NoopModel{}
	sched := scheduler.New(logging.Component(log, "scheduler"))
	var equityDay string
	sched.Register(scheduler.EquitySnapshot, time.Hour, 0.1, 10*time.Second, func(ctx context.Context) error {
		total, err := wallets.Fetch(ctx)
		if err != nil {
			return err
		}
		if day := time.Now().UTC().Format("2006-01-02"); day != equityDay {
			guards.ResetDay(total)
			equityDay = day
		}
		return nil
	})
	sched.Register(scheduler.EnforceCandleCacheRetention, time.Hour, 0.1, 30*time.Second, func(ctx context.Context) error {
		s := runtime.Get()
		return candleStore.EnforceRetention(s.CandleRetentionDays, s.CandleMaxRowsPerPair)
	})
	sched.Register(scheduler.ProbValidation, 6*time.Hour, 0.1, time.Minute, func(ctx context.Context) error {
		_, err := probModel.Validate(ctx, cfg.Symbols, "1m")
		return err
	})
	sched.Register(scheduler.ProbRetrain, 24*time.Hour, 0.1, 5*time.Minute, func(ctx context.Context) error {
		_, err := probModel.Retrain(ctx, cfg.Symbols, "1m")
		return err
	})
	sched.Register(scheduler.UpdateRegime, 15*time.Minute, 0.1, 30*time.Second, func(ctx context.Context) error {
		_, err := probModel.UpdateRegime(ctx, cfg.Symbols)
		return err
	})
	sched.Start(ctx)
	go func() {
		for res := range sched.Results() {
			if !res.OK {
				log.Warn("scheduler job failed", "job", res.Job, "duration_ms", res.DurationMs, "err", res.Error)
				m.TradeBlocked(fmt.Sprintf("scheduler_%s_failed", res.Job))
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")
	cancel()
	wsSession.Stop()
}

// onTickerMessage decodes a Bitfinex ticker channel frame
// ([chanId, [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_RELATIVE,
// LAST_PRICE, VOLUME, HIGH, LOW]]) and feeds the facade's WS cache.
func onTickerMessage(facade *marketdata.Facade, symbol string, msg json.RawMessage) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 2 {
		return
	}
	var fields []float64
	if err := json.Unmarshal(frame[1], &fields); err != nil || len(fields) < 8 {
		return
	}
	facade.OnWSTicker(symbol, marketdata.Ticker{
		Symbol:    symbol,
		Bid:       fields[0],
		Ask:       fields[2],
		LastPrice: fields[6],
		Volume:    fields[7],
		Timestamp: time.Now(),
	})
}

// onCandleMessage decodes a Bitfinex candles channel frame — either a
// snapshot ([chanId, [[MTS,OPEN,CLOSE,HIGH,LOW,VOLUME], ...]]) or a single
// update ([chanId, [MTS,OPEN,CLOSE,HIGH,LOW,VOLUME]]) — persists the bars to
// CandleStore and feeds each one to IncrementalIndicators in MTS order.
func onCandleMessage(store *candle.Store, eng *indicators.Engine, symbol, timeframe string, msg json.RawMessage, log *slog.Logger) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 2 {
		return
	}

	var rows [][]float64
	if err := json.Unmarshal(frame[1], &rows); err != nil {
		var single []float64
		if err := json.Unmarshal(frame[1], &single); err != nil {
			return
		}
		rows = [][]float64{single}
	}

	bars := make([]candle.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		bars = append(bars, candle.Candle{
			MTS: int64(r[0]), Open: r[1], Close: r[2], High: r[3], Low: r[4], Volume: r[5],
		})
	}
	if len(bars) == 0 {
		return
	}
	if err := store.Store(symbol, timeframe, bars); err != nil {
		log.Warn("candle store failed", "symbol", symbol, "err", err)
	}
	for _, c := range bars {
		eng.UpdateCandle(symbol, timeframe, indicators.Candle{
			Open: c.Open, Close: c.Close, High: c.High, Low: c.Low, Volume: c.Volume,
		})
	}
}

// orderSubmitRequest is the minimal JSON body serveOrderAPI accepts, mapped
// straight onto order.Intent.
type orderSubmitRequest struct {
	Symbol        string               `json:"symbol"`
	Side          order.Side           `json:"side"`
	Type          order.Type           `json:"type"`
	Amount        string               `json:"amount"`
	Price         string               `json:"price,omitempty"`
	PriceAuxLimit string               `json:"price_aux_limit,omitempty"`
	PriceTrailing string               `json:"price_trailing,omitempty"`
	Flags         order.Flags          `json:"flags,omitempty"`
	ClientID      string               `json:"client_id,omitempty"`
	DryRun        bool                 `json:"dry_run,omitempty"`
	Bracket       *order.BracketIntent `json:"bracket,omitempty"`
}

// serveOrderAPI is the minimal entry point order intents reach
// OrderPipeline.Submit through: a single POST /orders endpoint decoding an
// orderSubmitRequest and returning the pipeline Result as JSON.
func serveOrderAPI(addr string, pipeline *order.Pipeline, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req orderSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		res, err := pipeline.Submit(r.Context(), order.Intent{
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Amount:        req.Amount,
			Price:         req.Price,
			PriceAuxLimit: req.PriceAuxLimit,
			PriceTrailing: req.PriceTrailing,
			Flags:         req.Flags,
			ClientID:      req.ClientID,
			DryRun:        req.DryRun,
			Bracket:       req.Bracket,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("order api server stopped", "err", err)
	}
}

// onPrivateEvent routes decoded private channel events to their
// collaborators: trade executions feed BracketManager's sibling-cancel/
// resize logic, wallet snapshots/updates feed the WalletTracker RiskGuards
// reads against.
func onPrivateEvent(ctx context.Context, evt wsfabric.PrivateEvent, bracket *order.Manager, wallets *balance.Tracker) {
	switch evt.Kind {
	case wsfabric.TradeExecuted, wsfabric.TradeUpdate:
		var fields []json.RawMessage
		if err := json.Unmarshal(evt.Payload, &fields); err != nil || len(fields) < 5 {
			return
		}
		var execID, orderID int64
		var execAmount float64
		if err := json.Unmarshal(fields[0], &execID); err != nil {
			return
		}
		if err := json.Unmarshal(fields[3], &orderID); err != nil {
			return
		}
		if err := json.Unmarshal(fields[4], &execAmount); err != nil {
			return
		}
		bracket.OnTradeExecuted(ctx, execID, orderID, execAmount)

	case wsfabric.WalletSnapshot:
		var rows [][]json.RawMessage
		if err := json.Unmarshal(evt.Payload, &rows); err != nil {
			return
		}
		parsed := make([]balance.WalletRow, 0, len(rows))
		for _, r := range rows {
			if row, ok := decodeWalletRow(r); ok {
				parsed = append(parsed, row)
			}
		}
		wallets.ApplySnapshot(parsed)

	case wsfabric.WalletUpdate:
		var fields []json.RawMessage
		if err := json.Unmarshal(evt.Payload, &fields); err != nil {
			return
		}
		if row, ok := decodeWalletRow(fields); ok {
			wallets.ApplyUpdate(row)
		}
	}
}

// decodeWalletRow parses one [WALLET_TYPE, CURRENCY, BALANCE,
// UNSETTLED_INTEREST, AVAILABLE_BALANCE, ...] row.
func decodeWalletRow(fields []json.RawMessage) (balance.WalletRow, bool) {
	if len(fields) < 3 {
		return balance.WalletRow{}, false
	}
	var row balance.WalletRow
	if err := json.Unmarshal(fields[0], &row.Type); err != nil {
		return balance.WalletRow{}, false
	}
	if err := json.Unmarshal(fields[1], &row.Currency); err != nil {
		return balance.WalletRow{}, false
	}
	if err := json.Unmarshal(fields[2], &row.Balance); err != nil {
		return balance.WalletRow{}, false
	}
	row.Available = row.Balance
	if len(fields) >= 5 {
		_ = json.Unmarshal(fields[4], &row.Available)
	}
	return row, true
}

func serveMetrics(addr string, m *metrics.Store, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "err", err)
	}
}
