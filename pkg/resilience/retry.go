package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/harunnryd/speechjob/pkg/errorsx"
)

// Backoff defines how a pending remote operation is polled.
type Backoff struct {
	// Initial is the wait before the first attempt.
	Initial time.Duration
	// Base is the wait after the first unfinished attempt; it grows by Multiplier up to Max.
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter adds up to Jitter*delay of random wait.
	Jitter float64
	// MaxElapsed bounds the whole loop. Zero leaves it to the context.
	MaxElapsed time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	Rand  func() float64
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial < 0 {
		b.Initial = 0
	}
	if b.Base <= 0 {
		b.Base = 5 * time.Second
	}
	if b.Max <= 0 {
		b.Max = time.Minute
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Sleep == nil {
		b.Sleep = SleepContext
	}
	if b.Now == nil {
		b.Now = time.Now
	}
	if b.Rand == nil {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		b.Rand = r.Float64
	}
	return b
}

// Delay returns the wait after the given number of unfinished attempts (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(attempt)))
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(float64(d) * b.Jitter * b.Rand())
		if d > b.Max {
			d = b.Max
		}
	}
	return d
}

// TimeoutError reports that MaxElapsed passed before the operation finished.
type TimeoutError struct {
	Elapsed  time.Duration
	Attempts int
	LastErr  error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("operation not finished after %s (%d attempts)", e.Elapsed.Round(time.Millisecond), e.Attempts)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// IsTimeout returns true when err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Until calls fn until it reports done, sleeping per b between attempts.
// Errors for which retryable returns false end the loop immediately.
// It returns the number of attempts made.
func Until(ctx context.Context, b Backoff, fn func(context.Context) (bool, error), retryable func(error) bool) (int, error) {
	b = b.withDefaults()
	if retryable == nil {
		retryable = DefaultIsRetryable
	}
	start := b.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		delay := b.Initial
		if attempt > 0 {
			delay = b.Delay(attempt - 1)
		}
		if hint := RetryAfterHint(lastErr); hint > delay {
			delay = hint
		}
		if b.MaxElapsed > 0 {
			elapsed := b.Now().Sub(start)
			remaining := b.MaxElapsed - elapsed
			if remaining <= 0 {
				return attempt, errorsx.Wrap(&TimeoutError{Elapsed: elapsed, Attempts: attempt, LastErr: lastErr}, errorsx.ReasonPollTimeout)
			}
			if delay > remaining {
				delay = remaining
			}
		}
		if delay > 0 {
			if err := b.Sleep(ctx, delay); err != nil {
				return attempt, err
			}
		} else if err := ctx.Err(); err != nil {
			return attempt, err
		}

		done, err := fn(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return attempt + 1, ctxErr
			}
			if !retryable(err) {
				return attempt + 1, err
			}
			lastErr = err
			continue
		}
		lastErr = nil
		if done {
			return attempt + 1, nil
		}
	}
}

// DefaultIsRetryable treats everything except context termination as transient.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
