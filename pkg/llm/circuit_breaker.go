package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/metrics"
	"github.com/harunnryd/arturo/pkg/resilience"
)

// ShouldTrip reports whether a failed Generate counts against the breaker:
// rate limits, and transient failures that survived the retry layer. Bad
// requests and cancellations never trip it.
func ShouldTrip(err error) bool {
	return resilience.IsRateLimit(err) || DefaultIsRetryable(err)
}

// CircuitBreakerAdapter fails fast while the backend keeps failing, so a
// turn gets its apology at once instead of waiting out every retry.
type CircuitBreakerAdapter struct {
	inner   LLMAdapter
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer

	mu   sync.Mutex
	last resilience.BreakerState
}

// NewCircuitBreakerAdapter installs ShouldTrip as the breaker's policy.
func NewCircuitBreakerAdapter(inner LLMAdapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	breaker.WithTrip(ShouldTrip)
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker, last: resilience.BreakerClosed}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs = obs }

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	if !a.breaker.Allow() {
		a.transition()
		a.record(metrics.EventBreakerDenied)
		return Response{}, errorsx.Wrap(resilience.RateLimitError{Provider: a.Name(), Message: "llm backend unavailable, circuit open"}, errorsx.ReasonLLMCircuitOpen)
	}
	resp, err := a.inner.Generate(ctx, input)
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit)
		}
		a.breaker.OnError(err)
	} else {
		a.breaker.OnSuccess()
	}
	a.transition()
	return resp, err
}

func (a *CircuitBreakerAdapter) MapTools(tools []Tool) (any, error) {
	return a.inner.MapTools(tools)
}

func (a *CircuitBreakerAdapter) ToProviderFormat(ctx Context) (any, error) {
	return a.inner.ToProviderFormat(ctx)
}

func (a *CircuitBreakerAdapter) FromProviderFormat(raw any) (Response, error) {
	return a.inner.FromProviderFormat(raw)
}

// transition emits open/close events when the breaker crosses between
// closed and open. Half-open trial calls are not reported.
func (a *CircuitBreakerAdapter) transition() {
	state := a.breaker.State()
	if state == resilience.BreakerHalfOpen {
		return
	}
	a.mu.Lock()
	changed := state != a.last
	a.last = state
	a.mu.Unlock()
	if !changed {
		return
	}
	if state == resilience.BreakerOpen {
		a.record(metrics.EventBreakerOpen)
		return
	}
	a.record(metrics.EventBreakerClose)
}

func (a *CircuitBreakerAdapter) record(name string) {
	metrics.Record(a.obs, name, 1, map[string]string{
		"provider":  a.inner.Name(),
		"component": "llm",
	})
}
