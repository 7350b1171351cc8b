package transport

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/metrics"
)

// EndpointClass is a rate-limiting category assigned to a request path by
// pattern match.
type EndpointClass string

const (
	PublicMarket    EndpointClass = "PUBLIC_MARKET"
	PrivateAccount  EndpointClass = "PRIVATE_ACCOUNT"
	PrivateTrading  EndpointClass = "PRIVATE_TRADING"
	PrivateMargin   EndpointClass = "PRIVATE_MARGIN"
)

// ClassRule is one ordered entry of the pattern→class table, loaded from a
// YAML fixture at boot (see LoadRulesFromYAML in patterns.go).
type ClassRule struct {
	Pattern string
	Class   EndpointClass
	re      *regexp.Regexp
}

// RuleSet classifies endpoints by the first matching rule; unmatched
// endpoints default to PrivateAccount, the most conservative class.
type RuleSet struct {
	rules []ClassRule
}

func NewRuleSet(rules []ClassRule) (*RuleSet, error) {
	compiled := make([]ClassRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, err
		}
		r.re = re
		compiled = append(compiled, r)
	}
	return &RuleSet{rules: compiled}, nil
}

func (rs *RuleSet) Classify(endpoint string) EndpointClass {
	for _, r := range rs.rules {
		if r.re.MatchString(endpoint) {
			return r.Class
		}
	}
	return PrivateAccount
}

type bucketConfig struct {
	capacity   float64
	refillRate float64 // tokens/sec
}

var defaultBucketConfigs = map[EndpointClass]bucketConfig{
	PublicMarket:   {capacity: 30, refillRate: 10},
	PrivateAccount: {capacity: 10, refillRate: 2},
	PrivateTrading: {capacity: 20, refillRate: 5},
	PrivateMargin:  {capacity: 10, refillRate: 2},
}

type bucket struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	baseLimit rate.Limit
	baseBurst int
	failTimes []time.Time // failures within the last 60s, for the adaptive multiplier
}

// RateLimiter composes one golang.org/x/time/rate.Limiter per endpoint
// class, wrapped with adaptive-multiplier behavior on top of the plain
// token bucket: a weight-tracking shape generalized from a single global
// bucket to one bucket per class.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[EndpointClass]*bucket
	rules   *RuleSet
	metrics *metrics.Store
	log     *slog.Logger
	enabled bool
}

func NewRateLimiter(rules *RuleSet, m *metrics.Store, log *slog.Logger, enabled bool) *RateLimiter {
	return &RateLimiter{
		buckets: map[EndpointClass]*bucket{},
		rules:   rules,
		metrics: m,
		log:     log,
		enabled: enabled,
	}
}

func (rl *RateLimiter) bucketFor(class EndpointClass) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[class]; ok {
		return b
	}
	cfg, ok := defaultBucketConfigs[class]
	if !ok {
		cfg = defaultBucketConfigs[PrivateAccount]
	}
	limit := rate.Limit(cfg.refillRate)
	b := &bucket{
		limiter:   rate.NewLimiter(limit, int(cfg.capacity)),
		baseLimit: limit,
		baseBurst: int(cfg.capacity),
	}
	rl.buckets[class] = b
	return b
}

// Acquire blocks cooperatively (context-cancellable) until a token for
// endpoint's class is available.
func (rl *RateLimiter) Acquire(ctx context.Context, endpoint string) error {
	if !rl.enabled {
		return nil
	}
	class := rl.rules.Classify(endpoint)
	b := rl.bucketFor(class)
	if err := b.limiter.Wait(ctx); err != nil {
		return apierr.Wrap(apierr.RateLimited, string(class), err)
	}
	if rl.metrics != nil {
		rl.metrics.SetBucketTokens(string(class), b.limiter.Tokens())
	}
	return nil
}

// NoteSuccess decays any adaptive penalty applied after prior failures.
func (rl *RateLimiter) NoteSuccess(endpoint string) {
	class := rl.rules.Classify(endpoint)
	b := rl.bucketFor(class)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limiter.Limit() != b.baseLimit {
		decayed := rate.Limit(float64(b.limiter.Limit()) / 0.8)
		if decayed > b.baseLimit {
			decayed = b.baseLimit
		}
		b.limiter.SetLimit(decayed)
	}
}

// NoteFailure applies the adaptive multiplier on a 429/5xx: two failures
// landing within 60s of each other tighten the effective rate (divide by
// 1.5), while an isolated failure is treated as noise and eases the rate
// back toward baseline instead of tightening it further. Returns the
// suggested cooldown (honoring Retry-After if the caller parsed one).
func (rl *RateLimiter) NoteFailure(endpoint string, status int, retryAfter time.Duration) time.Duration {
	class := rl.rules.Classify(endpoint)
	b := rl.bucketFor(class)
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-60 * time.Second)
	kept := b.failTimes[:0]
	for _, t := range b.failTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	b.failTimes = kept

	newLimit := b.limiter.Limit()
	if len(b.failTimes) >= 2 {
		newLimit = newLimit / 1.5
	} else {
		newLimit = newLimit / 0.8
		if newLimit > b.baseLimit {
			newLimit = b.baseLimit
		}
	}
	if newLimit < b.baseLimit/4 {
		newLimit = b.baseLimit / 4
	}
	b.limiter.SetLimit(newLimit)

	if rl.log != nil {
		rl.log.Warn("rate limiter noted failure", "endpoint", endpoint, "class", class, "status", status)
	}
	if retryAfter > 0 {
		return retryAfter
	}
	return time.Second
}
