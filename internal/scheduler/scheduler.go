// Package scheduler implements the Scheduler/Coordinator: a ticker-based
// loop per job that triggers coordinator methods on fixed intervals with
// jitter. Each job's error is caught and reported independently rather than
// stopping the loop.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Job names one of the coordinator methods the scheduler drives.
type Job string

const (
	EquitySnapshot              Job = "equity_snapshot"
	EnforceCandleCacheRetention Job = "enforce_candle_cache_retention"
	ProbValidation              Job = "prob_validation"
	ProbRetrain                 Job = "prob_retrain"
	UpdateRegime                Job = "update_regime"
)

// Result is what every job run reports back, independent of whether it
// succeeded, so one failing job never stops the loop.
type Result struct {
	Job        Job
	OK         bool
	DurationMs int64
	Error      error
}

// jobConfig pairs a job with its run function, interval, jitter fraction,
// and per-run timeout.
type jobConfig struct {
	job      Job
	interval time.Duration
	jitter   float64 // fraction of interval, e.g. 0.1 = +/-10%
	timeout  time.Duration
	run      func(ctx context.Context) error
}

// Scheduler runs each registered job in its own goroutine on its own ticker,
// funneling results back over a shared channel so the caller (e.g. the
// metrics recorder) never blocks any single job's cadence.
type Scheduler struct {
	jobs    []jobConfig
	results chan Result
	rng     *rand.Rand
	log     *slog.Logger
}

func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		results: make(chan Result, 64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log,
	}
}

// Register adds a job to be run every interval (+/- jitter fraction), each
// run bounded by timeout.
func (s *Scheduler) Register(job Job, interval time.Duration, jitter float64, timeout time.Duration, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, jobConfig{job: job, interval: interval, jitter: jitter, timeout: timeout, run: run})
}

// Results exposes the shared result channel for a consumer (metrics,
// logging) to drain.
func (s *Scheduler) Results() <-chan Result { return s.results }

// Start launches one goroutine per registered job; each is independently
// cancellable via ctx and never blocks another job's cadence.
func (s *Scheduler) Start(ctx context.Context) {
	for _, jc := range s.jobs {
		go s.runLoop(ctx, jc)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, jc jobConfig) {
	for {
		delay := s.jitteredDelay(jc.interval, jc.jitter)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		s.runOnce(ctx, jc)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, jc jobConfig) {
	runCtx, cancel := context.WithTimeout(ctx, jc.timeout)
	defer cancel()

	start := time.Now()
	err := jc.run(runCtx)
	res := Result{Job: jc.job, OK: err == nil, DurationMs: time.Since(start).Milliseconds(), Error: err}
	if err != nil {
		s.log.Warn("scheduler job failed", "job", jc.job, "err", err, "duration_ms", res.DurationMs)
	}
	select {
	case s.results <- res:
	default:
		s.log.Warn("scheduler result channel full, dropping result", "job", jc.job)
	}
}

func (s *Scheduler) jitteredDelay(interval time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return interval
	}
	spread := float64(interval) * jitter
	offset := (s.rng.Float64()*2 - 1) * spread
	d := time.Duration(float64(interval) + offset)
	if d < 0 {
		d = 0
	}
	return d
}
