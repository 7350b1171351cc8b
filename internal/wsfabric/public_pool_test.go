package wsfabric

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestPoolServer starts a real WS server that, on receiving a subscribe
// frame, acks it with the given chanID (echoing channel/symbol/timeframe
// back the way Bitfinex does) and returns a send func the test can use to
// push data frames to the connected client.
func newTestPoolServer(t *testing.T, chanID int64) (*httptest.Server, *Pool, func(v any)) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var (
		mu   sync.Mutex
		conn *websocket.Conn
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		mu.Lock()
		conn = c
		mu.Unlock()

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var sub subscribeFrame
			if err := json.Unmarshal(data, &sub); err != nil || sub.Event != "subscribe" {
				continue
			}
			ack := map[string]any{
				"event":     "subscribed",
				"channel":   sub.Channel,
				"chanId":    chanID,
				"symbol":    sub.Symbol,
				"timeframe": sub.Timeframe,
			}
			b, _ := json.Marshal(ack)
			_ = c.WriteMessage(websocket.TextMessage, b)
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := NewPool(wsURL, 4, 25, log, nil)

	send := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal push: %v", err)
		}
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			c := conn
			mu.Unlock()
			if c != nil {
				if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
					t.Fatalf("write push: %v", err)
				}
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal("server never accepted a connection")
	}
	return srv, pool, send
}

func TestPoolCandleSubscribeDispatchesToHandler(t *testing.T) {
	_, pool, send := newTestPoolServer(t, 42)

	received := make(chan json.RawMessage, 1)
	err := pool.Subscribe(context.Background(), "candles", "tBTCUSD", "1m", func(msg json.RawMessage) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Give the ack a moment to bind chanId -> handler before pushing data.
	time.Sleep(50 * time.Millisecond)
	send([]any{42, [][]float64{{1700000000000, 100, 101, 102, 99, 10}}})

	select {
	case msg := <-received:
		var frame []json.RawMessage
		if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 2 {
			t.Fatalf("unexpected dispatched frame: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("candle data frame never reached the handler")
	}
}

func TestPoolTickerSubscribeDispatchesToHandler(t *testing.T) {
	_, pool, send := newTestPoolServer(t, 7)

	received := make(chan json.RawMessage, 1)
	err := pool.Subscribe(context.Background(), "ticker", "tBTCUSD", "", func(msg json.RawMessage) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	send([]any{7, []float64{1, 2, 3, 4, 5, 6, 7, 8}})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker data frame never reached the handler")
	}
}
