// Package resilience wraps calls to the lookup collaborators (place search,
// model discovery) with bounded retries. Exhaustion is surfaced as
// ErrExhausted so enrichment can route the record to manual review instead of
// silently accepting or dropping it.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrExhausted marks a lookup whose retry budget ran out. Callers match it
// with eris.Is.
var ErrExhausted = eris.New("resilience: retries exhausted")

// Policy controls the retry schedule: a fixed attempt budget with a doubling
// delay plus jitter between attempts.
type Policy struct {
	// Attempts is the total number of tries, including the first. Default 3.
	Attempts int

	// BaseDelay is the wait before the first retry; each further retry
	// doubles it. Default 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the doubled delay. Default 30s.
	MaxDelay time.Duration

	// JitterFraction widens each delay by a random factor in
	// [-fraction, +fraction]. Default 0.25.
	JitterFraction float64
}

// DefaultPolicy returns the schedule used for external lookups.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.25,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	return p
}

// Lookup runs fn under the policy, retrying transient failures. Permanent
// errors return immediately; a transient failure on the final attempt returns
// the last error wrapped with ErrExhausted. Context cancellation stops the
// schedule at once.
func Lookup[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !IsTransient(lastErr) {
			return zero, lastErr
		}
		if attempt >= p.Attempts-1 {
			break
		}

		delay := p.delay(attempt)
		zap.L().Warn("retrying lookup",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, eris.Wrapf(ErrExhausted, "%s: %v", operation, lastErr)
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}

	if p.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * p.JitterFraction
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
