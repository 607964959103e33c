package supabase

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"
)

// retryPolicy configures transport-level retries.
type retryPolicy struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
	jitter         float64
	retryStatuses  []int
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries:     3,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     5 * time.Second,
		multiplier:     2.0,
		jitter:         0.1,
		retryStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.initialBackoff) * math.Pow(p.multiplier, float64(attempt-1))
	if d > float64(p.maxBackoff) {
		d = float64(p.maxBackoff)
	}
	if p.jitter > 0 {
		d += d * p.jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

func (p retryPolicy) retryable(status int) bool {
	for _, s := range p.retryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// breakerPolicy configures the circuit breaker.
type breakerPolicy struct {
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

func defaultBreakerPolicy() breakerPolicy {
	return breakerPolicy{
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// ErrBackendUnavailable is returned while the circuit is open.
var ErrBackendUnavailable = errors.New("supabase: backend unavailable, circuit open")

// breaker trips after consecutive failures and probes again after a timeout.
type breaker struct {
	mu        sync.Mutex
	policy    breakerPolicy
	state     breakerState
	failures  int
	successes int
	openedAt  time.Time
}

func newBreaker(policy breakerPolicy) *breaker {
	return &breaker{policy: policy, state: breakerClosed}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if time.Since(b.openedAt) < b.policy.openTimeout {
			return ErrBackendUnavailable
		}
		b.state = breakerHalfOpen
		b.successes = 0
	}
	return nil
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures = 0
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.policy.successThreshold {
			b.state = breakerClosed
			b.failures = 0
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.policy.failureThreshold {
			b.state = breakerOpen
			b.openedAt = time.Now()
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

// retryTransport retries transient failures with exponential backoff behind
// a circuit breaker. Requests with bodies are retried via GetBody, which
// net/http sets for the buffered bodies this client sends.
type retryTransport struct {
	next    http.RoundTripper
	retry   retryPolicy
	breaker *breaker
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.allow(); err != nil {
		return nil, err
	}

	var resp *http.Response
	var err error
	lastStatus := 0
	for attempt := 0; attempt <= t.retry.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(t.retry.backoff(attempt)):
			}
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					break
				}
				req = req.Clone(req.Context())
				req.Body = body
			} else if req.Body != nil {
				// Unreplayable body, do not retry.
				break
			} else {
				req = req.Clone(req.Context())
			}
		}

		resp, err = t.next.RoundTrip(req)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			t.breaker.recordFailure()
			return nil, err
		}

		if t.retry.retryable(resp.StatusCode) {
			lastStatus = resp.StatusCode
			resp.Body.Close()
			continue
		}

		t.breaker.recordSuccess()
		return resp, nil
	}

	t.breaker.recordFailure()
	if err != nil {
		return nil, err
	}
	return nil, &Error{StatusCode: lastStatus, Message: http.StatusText(lastStatus)}
}
