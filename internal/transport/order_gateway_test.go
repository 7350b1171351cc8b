package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"bitfinex-trading-core/internal/metrics"
	"bitfinex-trading-core/internal/nonce"
	"bitfinex-trading-core/internal/order"
)

func newTestSignedClient(t *testing.T, handler http.HandlerFunc) *SignedHttpClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	nonceSrc := nonce.New(t.TempDir(), log)
	signer := NewSigner(Credentials{APIKey: "key", APISecret: "secret"}, nonceSrc)
	m := metrics.New()
	breaker := NewTransportCircuitBreaker(m, log)
	limiter := newTestLimiter()
	return NewSignedHttpClient(srv.URL, signer, limiter, breaker, log)
}

func TestOrderGatewaySubmitOrder(t *testing.T) {
	client := newTestSignedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[0,"on-req",null,null,[[1234,null,null,"tBTCUSD"]],null,"SUCCESS","submitted"]`))
	})
	gw := NewOrderGateway(client)

	o, err := gw.SubmitOrder(context.Background(), order.Normalized{
		Symbol: "tBTCUSD",
		Side:   order.Buy,
		Type:   order.TypeLimit,
		Amount: decimal.NewFromFloat(0.01),
		Price:  decimal.NewFromFloat(50000),
	})
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	if o.ID != 1234 || o.Status != "SUCCESS" {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestOrderGatewaySubmitOrderExchangeError(t *testing.T) {
	client := newTestSignedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[0,"on-req",null,null,[],null,"ERROR","invalid amount"]`))
	})
	gw := NewOrderGateway(client)

	_, err := gw.SubmitOrder(context.Background(), order.Normalized{
		Symbol: "tBTCUSD",
		Side:   order.Buy,
		Type:   order.TypeLimit,
		Amount: decimal.NewFromFloat(0.01),
		Price:  decimal.NewFromFloat(50000),
	})
	if err == nil {
		t.Fatal("expected error on exchange ERROR status")
	}
}

func TestOrderGatewayCancelOrder(t *testing.T) {
	client := newTestSignedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[0,"oc-req",null,null,[[1234]],null,"SUCCESS","cancelled"]`))
	})
	gw := NewOrderGateway(client)
	if err := gw.CancelOrder(context.Background(), 1234); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
}
