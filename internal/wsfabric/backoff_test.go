package wsfabric

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	c := DefaultReconnectConfig()
	if got := c.Backoff(0); got != time.Second {
		t.Fatalf("attempt 0 = %v", got)
	}
	if got := c.Backoff(1); got != 2*time.Second {
		t.Fatalf("attempt 1 = %v", got)
	}
	if got := c.Backoff(10); got != c.MaxDelay {
		t.Fatalf("attempt 10 should cap at MaxDelay, got %v", got)
	}
}
