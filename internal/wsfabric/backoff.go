package wsfabric

import "time"

// ReconnectConfig mirrors pkg/market/binance/websocket.go
// ReconnectConfig shape: exponential backoff with a cap.
type ReconnectConfig struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:      true,
		MaxRetries:   0, // unlimited
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Backoff returns the delay before reconnection attempt number attempt
// (0-indexed), per calculateBackoff.
func (c ReconnectConfig) Backoff(attempt int) time.Duration {
	delay := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.Multiplier
	}
	if time.Duration(delay) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(delay)
}
