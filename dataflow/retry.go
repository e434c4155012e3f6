package dataflow

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// RetryPolicy configures caller-side resubmission of failed inputs. The
// engine never retries an item itself; each attempt is a fresh envelope.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt.
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor" mapstructure:"backoff_factor"`
	// Jitter randomizes each backoff by up to this fraction.
	Jitter float64 `yaml:"jitter" mapstructure:"jitter"`
	// RetryIf decides whether a fault is worth another attempt.
	RetryIf func(error) bool `yaml:"-" mapstructure:"-"`
	// OnRetry is called before each new attempt.
	OnRetry func(attempt int, err error, backoff time.Duration) `yaml:"-" mapstructure:"-"`
}

// DefaultRetryPolicy returns three attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        RetryableFault,
	}
}

// RetryableFault retries faults whose AppError code is retryable, such as
// transform failures. Configuration errors, double resolutions and caller
// timeouts are returned immediately.
func RetryableFault(err error) bool {
	if app, ok := errors.AsAppError(err); ok {
		return app.Retryable && app.Code != errors.ErrCodeTimeout
	}
	return false
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = d.BackoffFactor
	}
	if p.RetryIf == nil {
		p.RetryIf = d.RetryIf
	}
	return p
}

// Retry executes input on p until it succeeds, the fault is not retryable,
// the attempts are exhausted or ctx is done. It returns the last fault.
func Retry[In, Out any](ctx context.Context, p *Pipeline[In, Out], input In, policy RetryPolicy) (Out, error) {
	policy = policy.withDefaults()
	var zero Out
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := p.ExecuteWait(ctx, input)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !policy.RetryIf(err) || attempt == policy.MaxAttempts {
			break
		}

		backoff := policy.backoff(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, backoff)
		}
		p.graph.settings.logger().WithContext(ctx).Debug("retrying pipeline input", logger.WithError(logger.Fields(
			logger.FieldGraph, p.name,
			"attempt", attempt,
			"backoff", backoff.String(),
		), err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// backoff returns initial * factor^(attempt-1), jittered and capped.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if d < 0 {
		d = float64(p.InitialBackoff)
	}
	return time.Duration(d)
}
