package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitfinex-trading-core/internal/metrics"
)

func newTestLimiter() *RateLimiter {
	rs, _ := NewRuleSet(DefaultRules())
	return NewRateLimiter(rs, metrics.New(), nil, true)
}

func TestPublicClientFetchTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[10.0, 1, 10.5, 1, 0.1, 0.01, 10.2, 500, 11, 9]`))
	}))
	defer srv.Close()

	c := NewPublicClient(srv.URL, newTestLimiter())
	ticker, err := c.FetchTicker(context.Background(), "tBTCUSD")
	if err != nil {
		t.Fatalf("fetch ticker: %v", err)
	}
	if ticker.Bid != 10.0 || ticker.Ask != 10.5 || ticker.LastPrice != 10.2 || ticker.Volume != 500 {
		t.Fatalf("unexpected ticker: %+v", ticker)
	}
}

func TestPublicClientFetchCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1000,1,2,3,0.5,100],[900,2,3,4,1,200]]`))
	}))
	defer srv.Close()

	c := NewPublicClient(srv.URL, newTestLimiter())
	candles, err := c.FetchCandles(context.Background(), "tBTCUSD", "1m", 2)
	if err != nil {
		t.Fatalf("fetch candles: %v", err)
	}
	if len(candles) != 2 || candles[0].MTS != 1000 || candles[1].Close != 3 {
		t.Fatalf("unexpected candles: %+v", candles)
	}
}

func TestPublicClientFetchTickerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewPublicClient(srv.URL, newTestLimiter())
	if _, err := c.FetchTicker(context.Background(), "tBTCUSD"); err == nil {
		t.Fatal("expected error on 5xx response")
	}
}
