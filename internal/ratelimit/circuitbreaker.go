package ratelimit

import "sync"

// circuitBreaker tracks consecutive primary-store errors.
// After failureThreshold consecutive failures the circuit opens and checks
// run against the in-memory fallback; after successThreshold consecutive
// primary successes it closes again.
type circuitBreaker struct {
	mu               sync.Mutex
	open             bool
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: 5,
		successThreshold: 3,
	}
}

func (c *circuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// RecordFailure returns true if the circuit is now open.
func (c *circuitBreaker) RecordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.successCount = 0
	if c.open {
		return true
	}
	if c.failureCount >= c.failureThreshold {
		c.open = true
		return true
	}
	return false
}

// RecordSuccess returns true if the circuit is closed after this success.
func (c *circuitBreaker) RecordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.successCount++
		if c.successCount >= c.successThreshold {
			c.open = false
			c.failureCount = 0
			c.successCount = 0
			return true
		}
		return false
	}
	c.failureCount = 0
	return true
}
