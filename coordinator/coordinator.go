package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/folionet/foliod/fetchers"
)

const (
	// A provider that rate-limits twice inside this window is quarantined.
	rateLimitWindow       = time.Minute
	quarantineDuration    = 5 * time.Minute
	maxRateLimitRetries   = 2
	maxRetryAfterHonoured = 30 * time.Second
)

// ProviderFailure records why one provider could not serve a request.
type ProviderFailure struct {
	Provider string
	Reason   string
}

// RemoteError is raised when every provider of an operation failed. It
// carries each provider's reason.
type RemoteError struct {
	Op       string
	Failures []ProviderFailure
}

func (e *RemoteError) Error() string {
	reasons := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		reasons[i] = fmt.Sprintf("%s error is: %q", failure.Provider, failure.Reason)
	}
	return fmt.Sprintf("%s external API request failed. %s", e.Op, strings.Join(reasons, ", "))
}

// Attempt is one provider's implementation of an operation. A nil Fn marks
// the operation unsupported by that provider.
type Attempt struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Coordinator tries redundant providers in priority order, honours
// rate-limit backoff, and quarantines providers that keep rate limiting.
// Shared by all operations of one chain.
type Coordinator struct {
	mu               sync.Mutex
	recentRateLimits map[string][]time.Time
	quarantinedUntil map[string]time.Time
}

// New creates an empty coordinator.
func New() *Coordinator {
	return &Coordinator{
		recentRateLimits: make(map[string][]time.Time),
		quarantinedUntil: make(map[string]time.Time),
	}
}

// Run tries the attempts in order until one succeeds. A successful call
// short-circuits the chain. When all attempts fail, the returned RemoteError
// lists each provider's reason. Context cancellation aborts immediately.
func (c *Coordinator) Run(ctx context.Context, op string, attempts []Attempt) error {
	var failures []ProviderFailure
	for _, attempt := range attempts {
		if attempt.Fn == nil {
			failures = append(failures, ProviderFailure{
				Provider: attempt.Name,
				Reason:   fetchers.ErrUnsupported.Error(),
			})
			continue
		}
		if until, quarantined := c.isQuarantined(attempt.Name); quarantined {
			failures = append(failures, ProviderFailure{
				Provider: attempt.Name,
				Reason:   fmt.Sprintf("quarantined until %s after repeated rate limiting", until.Format(time.RFC3339)),
			})
			continue
		}

		err := c.runAttempt(ctx, attempt)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		log.Debugf("Provider %s failed %s: %s", attempt.Name, op, err)
		failures = append(failures, ProviderFailure{Provider: attempt.Name, Reason: err.Error()})
	}
	return &RemoteError{Op: op, Failures: failures}
}

// runAttempt calls one provider, retrying a bounded number of times when it
// rate limits, honouring its requested backoff.
func (c *Coordinator) runAttempt(ctx context.Context, attempt Attempt) error {
	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(time.Second), maxRateLimitRetries), ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		err := attempt.Fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		retryAfter, rateLimited := fetchers.IsRateLimited(err)
		if !rateLimited {
			return backoff.Permanent(err)
		}
		if c.recordRateLimit(attempt.Name) {
			// Quarantined now, stop hammering this provider.
			return backoff.Permanent(err)
		}
		if retryAfter > maxRetryAfterHonoured {
			retryAfter = maxRetryAfterHonoured
		}
		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, retryPolicy)
	if err != nil && lastErr != nil && !errors.Is(err, context.Canceled) {
		return lastErr
	}
	return err
}

// recordRateLimit notes a 429 from the provider and returns whether the
// provider just crossed into quarantine.
func (c *Coordinator) recordRateLimit(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	recent := c.recentRateLimits[provider][:0]
	for _, ts := range c.recentRateLimits[provider] {
		if now.Sub(ts) < rateLimitWindow {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	c.recentRateLimits[provider] = recent
	if len(recent) >= 2 {
		c.quarantinedUntil[provider] = now.Add(quarantineDuration)
		log.Warnf("Provider %s rate limited %d times within %s, quarantining for %s",
			provider, len(recent), rateLimitWindow, quarantineDuration)
		return true
	}
	return false
}

func (c *Coordinator) isQuarantined(provider string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.quarantinedUntil[provider]
	if !ok || time.Now().After(until) {
		delete(c.quarantinedUntil, provider)
		return time.Time{}, false
	}
	return until, true
}
