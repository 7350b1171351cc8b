package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobAndReportsResult(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(log)
	var calls int32
	s.Register(EquitySnapshot, 10*time.Millisecond, 0, time.Second, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	select {
	case res := <-s.Results():
		if res.Job != EquitySnapshot || !res.OK {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job result")
	}
	<-ctx.Done()
	if atomic.LoadInt32(&calls) == 0 {
		t.Fatalf("expected at least one job run")
	}
}

func TestSchedulerOneFailingJobDoesNotBlockOthers(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(log)
	s.Register(ProbValidation, 10*time.Millisecond, 0, time.Second, func(ctx context.Context) error {
		return errors.New("boom")
	})
	s.Register(UpdateRegime, 10*time.Millisecond, 0, time.Second, func(ctx context.Context) error {
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	seen := map[Job]bool{}
	timeout := time.After(500 * time.Millisecond)
	for len(seen) < 2 {
		select {
		case res := <-s.Results():
			seen[res.Job] = true
		case <-timeout:
			t.Fatalf("timed out, saw results for %v", seen)
		}
	}
}

func TestSchedulerJobTimeoutReportsFailure(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(log)
	s.Register(ProbRetrain, 10*time.Millisecond, 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	select {
	case res := <-s.Results():
		if res.OK {
			t.Fatalf("expected timeout to report failure, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job result")
	}
}
