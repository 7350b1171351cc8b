package balance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestTracker(exchange ExchangeClient) *Tracker {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(exchange, time.Hour, log)
}

func TestTrackerFetchBeforeFirstSnapshotFails(t *testing.T) {
	tr := newTestTracker(nil)
	if _, err := tr.Fetch(context.Background()); err == nil {
		t.Fatal("expected error before any snapshot arrives")
	}
}

func TestTrackerApplySnapshotSumsUSDAcrossWalletTypes(t *testing.T) {
	tr := newTestTracker(nil)
	tr.ApplySnapshot([]WalletRow{
		{Type: "exchange", Currency: "USD", Balance: 100},
		{Type: "margin", Currency: "USD", Balance: 50},
		{Type: "exchange", Currency: "BTC", Balance: 1},
	})
	got, err := tr.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != 150 {
		t.Fatalf("expected 150, got %v", got)
	}
}

func TestTrackerApplyUpdateMergesSingleWallet(t *testing.T) {
	tr := newTestTracker(nil)
	tr.ApplySnapshot([]WalletRow{
		{Type: "exchange", Currency: "USD", Balance: 100},
		{Type: "margin", Currency: "USD", Balance: 50},
	})
	tr.ApplyUpdate(WalletRow{Type: "exchange", Currency: "USD", Balance: 120})

	got, _ := tr.Fetch(context.Background())
	if got != 170 {
		t.Fatalf("expected 170 after update, got %v", got)
	}
}

type fakeExchange struct {
	rows []WalletRow
	err  error
}

func (f *fakeExchange) FetchWallets(ctx context.Context) ([]WalletRow, error) {
	return f.rows, f.err
}

func TestTrackerSyncPullsFromExchange(t *testing.T) {
	fx := &fakeExchange{rows: []WalletRow{{Type: "funding", Currency: "USD", Balance: 42}}}
	tr := newTestTracker(fx)
	if err := tr.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, ok := tr.EquityUSD()
	if !ok || got != 42 {
		t.Fatalf("expected 42, got %v (ok=%v)", got, ok)
	}
}
