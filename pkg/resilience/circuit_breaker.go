package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError is a provider's "slow down" answer.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker opens after threshold consecutive tripping failures and
// rejects calls until the cooldown has passed. The first call after the
// cooldown is a trial: success closes the breaker, another tripping failure
// reopens it at once.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	trips     func(error) bool
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
	probing   bool
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, trips: IsRateLimit, now: time.Now}
}

func (c *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	if now != nil {
		c.now = now
	}
	return c
}

// WithTrip selects which errors count towards the threshold. Rate limits
// only, by default.
func (c *CircuitBreaker) WithTrip(trips func(error) bool) *CircuitBreaker {
	if trips != nil {
		c.trips = trips
	}
	return c
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openUntil.IsZero() {
		return true
	}
	if c.now().Before(c.openUntil) {
		return false
	}
	c.probing = true
	return true
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.openUntil.IsZero():
		return BreakerClosed
	case c.now().Before(c.openUntil):
		return BreakerOpen
	default:
		return BreakerHalfOpen
	}
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.probing = false
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if err == nil || !c.trips(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.probing || c.failures >= c.threshold {
		c.openUntil = c.now().Add(c.cooldown)
		c.probing = false
	}
}
