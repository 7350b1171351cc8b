package order

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
)

type fakeCanceller struct {
	cancelled []int64
	failFirst int32
}

func (f *fakeCanceller) CancelOrder(ctx context.Context, orderID int64) error {
	if atomic.AddInt32(&f.failFirst, -1) >= 0 {
		return context.DeadlineExceeded
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type fakeResizer struct {
	resized map[int64]float64
}

func (f *fakeResizer) ResizeOrder(ctx context.Context, orderID int64, newAmount float64) error {
	if f.resized == nil {
		f.resized = map[int64]float64{}
	}
	f.resized[orderID] = newAmount
	return nil
}

func newTestManager(t *testing.T, canceller Canceller, resizer Resizer, partialAdjust bool) *Manager {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(filepath.Join(t.TempDir(), "brackets.json"), canceller, resizer, partialAdjust, log)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestBracketSiblingCancelOnFill(t *testing.T) {
	c := &fakeCanceller{}
	m := newTestManager(t, c, &fakeResizer{}, false)
	if err := m.RegisterGroup("g1", 1, 2, 3, 1.0, Buy); err != nil {
		t.Fatalf("register: %v", err)
	}
	m.OnTradeExecuted(context.Background(), 100, 2, -1.0) // SL (id 2) fills
	if len(c.cancelled) != 1 || c.cancelled[0] != 3 {
		t.Fatalf("expected TP (id 3) cancelled, got %v", c.cancelled)
	}
}

func TestBracketIdempotentAgainstRepeatedTradeID(t *testing.T) {
	c := &fakeCanceller{}
	m := newTestManager(t, c, &fakeResizer{}, false)
	m.RegisterGroup("g1", 1, 2, 3, 1.0, Buy)
	m.OnTradeExecuted(context.Background(), 100, 2, -1.0)
	m.OnTradeExecuted(context.Background(), 100, 2, -1.0) // replay, should be no-op
	if len(c.cancelled) != 1 {
		t.Fatalf("expected exactly one cancel call, got %d", len(c.cancelled))
	}
}

func TestBracketPartialFillResizesSiblings(t *testing.T) {
	r := &fakeResizer{}
	m := newTestManager(t, &fakeCanceller{}, r, true)
	m.RegisterGroup("g1", 1, 2, 3, 5.0, Buy)
	m.OnTradeExecuted(context.Background(), 200, 1, 2.0) // entry partial fill
	if r.resized[2] != -2.0 || r.resized[3] != -2.0 {
		t.Fatalf("expected siblings resized to -2.0 (opposite entry side), got %+v", r.resized)
	}
}

func TestBracketCancelRetriesThenSucceeds(t *testing.T) {
	c := &fakeCanceller{failFirst: 2}
	m := newTestManager(t, c, &fakeResizer{}, false)
	m.RegisterGroup("g1", 1, 2, 3, 1.0, Buy)
	m.OnTradeExecuted(context.Background(), 100, 2, -1.0)
	if len(c.cancelled) != 1 {
		t.Fatalf("expected eventual cancel success after retries, got %v", c.cancelled)
	}
}
