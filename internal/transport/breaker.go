package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"bitfinex-trading-core/internal/metrics"
)

const (
	defaultFailureThreshold = 5
	defaultBaseCooldown     = 10 * time.Second
	maxCooldown             = 5 * time.Minute
)

// endpointBreaker wraps a single gobreaker.CircuitBreaker with the
// cooldown-doubles-on-repeated-failure behavior requires, which
// gobreaker itself does not provide (its Timeout is fixed per instance), so
// this wrapper rebuilds the underlying breaker with a doubled Timeout each
// time a HalfOpen probe fails.
type endpointBreaker struct {
	mu       sync.Mutex
	cb       *gobreaker.CircuitBreaker
	cooldown time.Duration
	endpoint string
}

func newEndpointBreaker(endpoint string, onStateChange func(name string, from, to gobreaker.State)) *endpointBreaker {
	eb := &endpointBreaker{endpoint: endpoint, cooldown: defaultBaseCooldown}
	eb.cb = eb.build(onStateChange)
	return eb
}

func (eb *endpointBreaker) build(onStateChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    eb.endpoint,
		Timeout: eb.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultFailureThreshold
		},
		OnStateChange: onStateChange,
	})
}

// TransportCircuitBreaker maintains one endpointBreaker per endpoint,
// lazily created and cached on first use.
type TransportCircuitBreaker struct {
	mu       sync.Mutex
	byEndpt  map[string]*endpointBreaker
	metrics  *metrics.Store
	log      *slog.Logger
}

func NewTransportCircuitBreaker(m *metrics.Store, log *slog.Logger) *TransportCircuitBreaker {
	return &TransportCircuitBreaker{
		byEndpt: map[string]*endpointBreaker{},
		metrics: m,
		log:     log,
	}
}

func (t *TransportCircuitBreaker) get(endpoint string) *endpointBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if eb, ok := t.byEndpt[endpoint]; ok {
		return eb
	}
	eb := newEndpointBreaker(endpoint, func(name string, from, to gobreaker.State) {
		active := to == gobreaker.StateOpen
		if t.metrics != nil {
			t.metrics.SetBreakerActive(name, active)
		}
		if t.log != nil {
			t.log.Info("circuit breaker state change", "endpoint", name, "from", from.String(), "to", to.String())
		}
	})
	t.byEndpt[endpoint] = eb
	return eb
}

// CanRequest reports whether a call to endpoint is currently allowed.
func (t *TransportCircuitBreaker) CanRequest(endpoint string) bool {
	eb := t.get(endpoint)
	return eb.cb.State() != gobreaker.StateOpen
}

// TimeUntilOpen returns endpoint's full current cooldown length while its
// breaker is Open, or zero if it is not currently Open. The value is not
// reduced by the time the breaker has already spent Open.
func (t *TransportCircuitBreaker) TimeUntilOpen(endpoint string) time.Duration {
	eb := t.get(endpoint)
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.cb.State() != gobreaker.StateOpen {
		return 0
	}
	return eb.cooldown
}

// NoteResult feeds a call outcome into endpoint's breaker and applies the
// cooldown-doubling-on-repeated-failure policy.
func (t *TransportCircuitBreaker) NoteResult(endpoint string, success bool) {
	eb := t.get(endpoint)
	wasHalfOpen := eb.cb.State() == gobreaker.StateHalfOpen

	_, _ = eb.cb.Execute(func() (any, error) {
		if success {
			return nil, nil
		}
		return nil, errFailure
	})

	if !success && wasHalfOpen {
		eb.mu.Lock()
		eb.cooldown *= 2
		if eb.cooldown > maxCooldown {
			eb.cooldown = maxCooldown
		}
		t.mu.Lock()
		eb.cb = eb.build(func(name string, from, to gobreaker.State) {
			active := to == gobreaker.StateOpen
			if t.metrics != nil {
				t.metrics.SetBreakerActive(name, active)
			}
		})
		// A fresh gobreaker starts Closed; trip it so the failed probe
		// reopens the endpoint for the doubled cooldown.
		for i := 0; i < defaultFailureThreshold; i++ {
			_, _ = eb.cb.Execute(func() (any, error) { return nil, errFailure })
		}
		t.mu.Unlock()
		eb.mu.Unlock()
	}
	if success {
		eb.mu.Lock()
		eb.cooldown = defaultBaseCooldown
		eb.mu.Unlock()
	}
}

var errFailure = &breakerSentinelError{}

type breakerSentinelError struct{}

func (*breakerSentinelError) Error() string { return "transport failure" }
