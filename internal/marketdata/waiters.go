package marketdata

import (
	"context"
	"sync"
)

// tickerWaiters lets GetTicker block briefly for the next WS tick on a
// symbol instead of falling straight through to REST, .10's
// "await the next WS tick up to WS_TICKER_WARMUP_MS" requirement.
type tickerWaiters struct {
	mu   sync.Mutex
	subs map[string][]chan Ticker
}

func newTickerWaiters() *tickerWaiters {
	return &tickerWaiters{subs: map[string][]chan Ticker{}}
}

func (w *tickerWaiters) wait(ctx context.Context, symbol string) (Ticker, bool) {
	ch := make(chan Ticker, 1)
	w.mu.Lock()
	w.subs[symbol] = append(w.subs[symbol], ch)
	w.mu.Unlock()

	select {
	case t := <-ch:
		return t, true
	case <-ctx.Done():
		w.remove(symbol, ch)
		return Ticker{}, false
	}
}

func (w *tickerWaiters) notify(symbol string, t Ticker) {
	w.mu.Lock()
	chans := w.subs[symbol]
	delete(w.subs, symbol)
	w.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- t:
		default:
		}
	}
}

func (w *tickerWaiters) remove(symbol string, target chan Ticker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chans := w.subs[symbol]
	for i, ch := range chans {
		if ch == target {
			w.subs[symbol] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}
