// Package idempotency implements IdempotencyCache: a TTL cache of
// request-fingerprint to response, built on pkg/cache.Sharded's
// sharding/TTL shape, applied to cached order responses instead of prices.
package idempotency

import (
	"fmt"
	"hash/fnv"
	"time"

	"bitfinex-trading-core/pkg/cache"
)

// Result is the cached shape of a prior order-submit response.
type Result struct {
	Success bool
	OrderID int64
	Status  string
	Error   string
}

type record struct {
	inFlight bool
	result   Result
	ready    bool
}

// Cache is the process-wide IdempotencyCache collaborator.
type Cache struct {
	store *cache.Sharded[*record]
	ttl   time.Duration
}

func New(ttl time.Duration) *Cache {
	return &Cache{store: cache.New[*record](), ttl: ttl}
}

// Fingerprint derives a stable request fingerprint from (symbol, side, type,
// amount, price, client_id, minute-bucket).
func Fingerprint(symbol, side, orderType, amount, price, clientID string, now time.Time) string {
	minuteBucket := now.UTC().Truncate(time.Minute).Unix()
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%d", symbol, side, orderType, amount, price, clientID, minuteBucket)
	return fmt.Sprintf("%x", h.Sum64())
}

// CheckStatus is the outcome of CheckAndRegister.
type CheckStatus int

const (
	Miss CheckStatus = iota
	Hit
	Pending // a concurrent caller has already registered an in-flight placeholder
)

// CheckAndRegister looks up key; if a completed entry exists within ttl it
// is returned as Hit. If an in-flight placeholder already exists, returns
// Pending so the caller does not issue a duplicate exchange request. Else
// registers a placeholder and returns Miss, meaning the caller should
// proceed and eventually call StoreResponse.
func (c *Cache) CheckAndRegister(key string) (CheckStatus, Result) {
	if rec, age, ok := c.store.GetWithAge(key); ok {
		if age > c.ttl {
			c.store.Delete(key)
		} else if rec.ready {
			return Hit, rec.result
		} else {
			return Pending, Result{}
		}
	}
	c.store.Set(key, &record{inFlight: true})
	return Miss, Result{}
}

// StoreResponse finalizes the in-flight placeholder for key with resp.
func (c *Cache) StoreResponse(key string, resp Result) {
	c.store.Set(key, &record{ready: true, result: resp})
}

// Cleanup evicts entries older than the cache's TTL; intended to be called
// periodically by the scheduler.
func (c *Cache) Cleanup() int {
	return c.store.Cleanup(c.ttl)
}
