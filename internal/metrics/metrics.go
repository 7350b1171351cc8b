// Package metrics wraps prometheus/client_golang behind a small typed
// facade, MetricsStore. Callers never touch prometheus.* types directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Store is the process-wide metrics facade, constructed once in main and
// passed down like any other collaborator.
type Store struct {
	registry *prometheus.Registry

	ordersTotal       *prometheus.CounterVec
	ordersFailedTotal *prometheus.CounterVec
	cbActive          *prometheus.GaugeVec
	blockedTotal      *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
	wsSubscribeLat    prometheus.Histogram
	bucketTokens      *prometheus.GaugeVec
}

// New builds a Store with its own registry so tests can construct
// independent instances without colliding on prometheus's default registry.
func New() *Store {
	reg := prometheus.NewRegistry()

	s := &Store{
		registry: reg,
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Orders submitted, by venue path.",
		}, []string{"path"}),
		ordersFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_failed_total",
			Help: "Orders that failed submission, by error kind.",
		}, []string{"kind"}),
		cbActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transport_circuit_breaker_active",
			Help: "1 if the circuit breaker for an endpoint is open, else 0.",
		}, []string{"endpoint"}),
		blockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trade_constraints_blocked_total",
			Help: "Trades blocked by policy, by reason.",
		}, []string{"reason"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "Signed HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		wsSubscribeLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ws_subscribe_latency_seconds",
			Help:    "Time from subscribe request to channel-id ack.",
			Buckets: prometheus.DefBuckets,
		}),
		bucketTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limiter_bucket_tokens",
			Help: "Tokens remaining in a rate limiter bucket.",
		}, []string{"class"}),
	}

	reg.MustRegister(
		s.ordersTotal, s.ordersFailedTotal, s.cbActive, s.blockedTotal,
		s.requestLatency, s.wsSubscribeLat, s.bucketTokens,
	)
	return s
}

// Registry exposes the underlying registry for an (out-of-scope) scrape
// handler to mount; the core never serves it itself.
func (s *Store) Registry() *prometheus.Registry { return s.registry }

func (s *Store) OrderSubmitted(path string) { s.ordersTotal.WithLabelValues(path).Inc() }

func (s *Store) OrderFailed(kind string) { s.ordersFailedTotal.WithLabelValues(kind).Inc() }

func (s *Store) SetBreakerActive(endpoint string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	s.cbActive.WithLabelValues(endpoint).Set(v)
}

func (s *Store) TradeBlocked(reason string) { s.blockedTotal.WithLabelValues(reason).Inc() }

func (s *Store) ObserveRequestLatency(endpoint string, seconds float64) {
	s.requestLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (s *Store) ObserveWSSubscribeLatency(seconds float64) { s.wsSubscribeLat.Observe(seconds) }

func (s *Store) SetBucketTokens(class string, tokens float64) {
	s.bucketTokens.WithLabelValues(class).Set(tokens)
}
