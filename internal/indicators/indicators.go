// Package indicators implements IncrementalIndicators: O(1)-per-candle
// EMA/RSI/ATR state, updated incrementally with Wilder smoothing rather than
// recomputed from a sliding window on every tick. EMA, RSI and ATR state all
// live in this one file.
package indicators

import "sync"

// EMAState holds one exponential moving average's running value.
type EMAState struct {
	Period int
	Value  float64
	set    bool
}

// Update applies the next price and returns the new EMA value.
func (e *EMAState) Update(price float64) float64 {
	alpha := 2.0 / (float64(e.Period) + 1.0)
	if !e.set {
		e.Value = price
		e.set = true
		return e.Value
	}
	e.Value = alpha*price + (1-alpha)*e.Value
	return e.Value
}

// RSIState holds Wilder-smoothed average gain/loss for RSI.
type RSIState struct {
	Period    int
	AvgGain   float64
	AvgLoss   float64
	PrevClose float64
	set       bool
}

// Update applies the next close and returns the RSI value. The first
// sample returns exactly 50.0, and a zero avg_loss returns exactly 100.0
// (never +Inf/NaN).
func (r *RSIState) Update(close float64) float64 {
	if !r.set {
		r.PrevClose = close
		r.set = true
		return 50.0
	}

	change := close - r.PrevClose
	r.PrevClose = close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if r.AvgGain == 0 && r.AvgLoss == 0 {
		// second sample ever: seed the Wilder average directly from the
		// first observed change rather than blending against a zeroed prior.
		r.AvgGain = gain
		r.AvgLoss = loss
	} else {
		period := float64(r.Period)
		r.AvgGain = (r.AvgGain*(period-1) + gain) / period
		r.AvgLoss = (r.AvgLoss*(period-1) + loss) / period
	}

	if r.AvgLoss == 0 {
		return 100.0
	}
	rs := r.AvgGain / r.AvgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// ATRState holds Wilder-smoothed average true range.
type ATRState struct {
	Period    int
	ATR       float64
	PrevClose float64
	set       bool
}

// Update applies the next (high, low, close) and returns the ATR value.
func (a *ATRState) Update(high, low, close float64) float64 {
	if !a.set {
		tr := high - low
		a.ATR = tr
		a.PrevClose = close
		a.set = true
		return a.ATR
	}

	tr := trueRange(high, low, a.PrevClose)
	a.PrevClose = close

	period := float64(a.Period)
	a.ATR = (a.ATR*(period-1) + tr) / period
	return a.ATR
}

func trueRange(high, low, prevClose float64) float64 {
	hl := high - low
	hc := absf(high - prevClose)
	lc := absf(low - prevClose)
	m := hl
	if hc > m {
		m = hc
	}
	if lc > m {
		m = lc
	}
	return m
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Candle is the minimal shape IncrementalIndicators needs from a bar.
type Candle struct {
	Open, Close, High, Low, Volume float64
}

// Snapshot is the per-update result returned to callers.
type Snapshot struct {
	EMA float64
	RSI float64
	ATR float64
}

type pairKey struct{ symbol, timeframe string }

type pairState struct {
	ema *EMAState
	rsi *RSIState
	atr *ATRState
}

// DefaultPeriods controls the period used for each indicator; callers may
// construct an Engine with different periods per deployment.
type DefaultPeriods struct {
	EMA, RSI, ATR int
}

func DefaultPeriodsStandard() DefaultPeriods {
	return DefaultPeriods{EMA: 20, RSI: 14, ATR: 14}
}

// Engine is the process-wide IncrementalIndicators collaborator, holding one
// EMA/RSI/ATR state per (symbol, timeframe).
type Engine struct {
	mu      sync.Mutex
	periods DefaultPeriods
	states  map[pairKey]*pairState
}

func NewEngine(periods DefaultPeriods) *Engine {
	return &Engine{periods: periods, states: map[pairKey]*pairState{}}
}

// UpdateCandle updates EMA/RSI/ATR state for (symbol, timeframe) from c and
// returns a snapshot.
func (e *Engine) UpdateCandle(symbol, timeframe string, c Candle) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pairKey{symbol, timeframe}
	st, ok := e.states[key]
	if !ok {
		st = &pairState{
			ema: &EMAState{Period: e.periods.EMA},
			rsi: &RSIState{Period: e.periods.RSI},
			atr: &ATRState{Period: e.periods.ATR},
		}
		e.states[key] = st
	}

	return Snapshot{
		EMA: st.ema.Update(c.Close),
		RSI: st.rsi.Update(c.Close),
		ATR: st.atr.Update(c.High, c.Low, c.Close),
	}
}
