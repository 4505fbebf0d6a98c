// Package retry wraps fallible operations in a cancellable, rate-limit aware
// exponential backoff loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Options configures the backoff schedule for one retry loop
type Options struct {
	BaseDelay  time.Duration // delay before the first retry, pre-jitter
	Factor     float64       // exponential growth factor
	MaxDelay   time.Duration // cap on a single pre-jitter delay
	MaxElapsed time.Duration // hard wall-clock budget across all attempts
	JitterSeed int64         // non-zero for a deterministic jitter sequence
}

// WithDefaults returns standard options bounded by maxElapsed
func WithDefaults(maxElapsed time.Duration) Options {
	return Options{
		BaseDelay:  time.Second,
		Factor:     2.0,
		MaxDelay:   15 * time.Minute,
		MaxElapsed: maxElapsed,
	}
}

type decisionKind int

const (
	decisionBackoff decisionKind = iota
	decisionRateLimited
	decisionFatal
)

// Decision is the classification of a single failed attempt
type Decision struct {
	kind      decisionKind
	Reason    string
	WaitUntil time.Time
	Err       error
}

// Backoff schedules the next attempt after a jittered exponential delay
func Backoff(reason string) Decision {
	return Decision{kind: decisionBackoff, Reason: reason}
}

// RateLimited schedules the next attempt at an absolute resume instant
func RateLimited(waitUntil time.Time, reason string) Decision {
	return Decision{kind: decisionRateLimited, WaitUntil: waitUntil, Reason: reason}
}

// Fatal stops the loop and propagates err immediately
func Fatal(err error) Decision {
	return Decision{kind: decisionFatal, Err: err}
}

// IsBackoff reports whether the decision schedules an exponential backoff
func (d Decision) IsBackoff() bool { return d.kind == decisionBackoff }

// IsRateLimited reports whether the decision waits for an absolute reset
func (d Decision) IsRateLimited() bool { return d.kind == decisionRateLimited }

// IsFatal reports whether the decision stops the loop
func (d Decision) IsFatal() bool { return d.kind == decisionFatal }

// Status is a snapshot of the loop handed to the status callback before each sleep
type Status struct {
	Attempt     int
	Elapsed     time.Duration
	Sleep       time.Duration
	ResumeAt    time.Time
	Reason      string
	RateLimited bool
}

// Classifier maps a raw operation failure onto a retry decision
type Classifier func(err error) Decision

// StatusFunc observes retry scheduling without polling
type StatusFunc func(status Status)

// ErrAborted is returned when the context is cancelled, winning any race
// against a scheduled sleep.
var ErrAborted = errors.New("retry aborted")

// TimeoutError is returned when the overall retry budget is exhausted
type TimeoutError struct {
	Elapsed time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("retry timed out after %v: %v", e.Elapsed, e.LastErr)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// FatalError wraps an error the classifier declared non-retryable
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Do retries op until it succeeds, the classifier says fatal, the elapsed
// time exceeds opts.MaxElapsed, or ctx is cancelled. onStatus (optional)
// receives a snapshot before every sleep.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), classify Classifier, opts Options, onStatus StatusFunc) (T, error) {
	var zero T

	start := time.Now()
	attempt := 0
	rng := newJitterSource(opts.JitterSeed)

	for {
		if ctx.Err() != nil {
			return zero, ErrAborted
		}

		attempt++
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}

		// Cancellation takes priority over any retry scheduling
		if ctx.Err() != nil {
			return zero, ErrAborted
		}

		elapsed := time.Since(start)
		if elapsed >= opts.MaxElapsed {
			return zero, &TimeoutError{Elapsed: elapsed, LastErr: err}
		}
		remaining := opts.MaxElapsed - elapsed

		decision := classify(err)
		switch decision.kind {
		case decisionFatal:
			return zero, &FatalError{Err: decision.Err}

		case decisionRateLimited:
			now := time.Now()
			if !decision.WaitUntil.After(now) {
				log.Warn().
					Int("attempt", attempt).
					Dur("elapsed", elapsed).
					Str("reason", decision.Reason).
					Msg("Rate limit reset already passed, retrying immediately")
				continue
			}
			sleep := decision.WaitUntil.Sub(now)
			if sleep >= remaining {
				// The reset lands past the deadline; sleeping would only
				// delay the inevitable timeout
				log.Warn().
					Int("attempt", attempt).
					Dur("elapsed", elapsed).
					Dur("wait", sleep).
					Str("reason", decision.Reason).
					Msg("Rate limit reset exceeds retry budget, giving up")
				return zero, &TimeoutError{Elapsed: elapsed, LastErr: err}
			}
			log.Warn().
				Int("attempt", attempt).
				Dur("elapsed", elapsed).
				Dur("wait", sleep).
				Time("resume_at", decision.WaitUntil).
				Str("reason", decision.Reason).
				Msg("Rate limited, waiting for reset")
			if onStatus != nil {
				onStatus(Status{
					Attempt:     attempt,
					Elapsed:     elapsed,
					Sleep:       sleep,
					ResumeAt:    decision.WaitUntil,
					Reason:      decision.Reason,
					RateLimited: true,
				})
			}
			if err := waitWithCancel(ctx, sleep); err != nil {
				return zero, err
			}

		default: // backoff
			sleep := computeDelay(opts, attempt, rng)
			if sleep >= remaining {
				log.Warn().
					Int("attempt", attempt).
					Dur("elapsed", elapsed).
					Dur("wait", sleep).
					Str("reason", decision.Reason).
					Msg("Backoff delay exceeds retry budget, giving up")
				return zero, &TimeoutError{Elapsed: elapsed, LastErr: err}
			}
			resumeAt := time.Now().Add(sleep)
			log.Warn().
				Int("attempt", attempt).
				Dur("elapsed", elapsed).
				Dur("wait", sleep).
				Str("reason", decision.Reason).
				Msg("Retrying after backoff")
			if onStatus != nil {
				onStatus(Status{
					Attempt:  attempt,
					Elapsed:  elapsed,
					Sleep:    sleep,
					ResumeAt: resumeAt,
					Reason:   decision.Reason,
				})
			}
			if err := waitWithCancel(ctx, sleep); err != nil {
				return zero, err
			}
		}
	}
}

// computeDelay draws a full-jitter delay: uniform in [0, min(base*factor^(attempt-1), cap))
func computeDelay(opts Options, attempt int, rng *rand.Rand) time.Duration {
	exponent := attempt - 1
	if exponent < 0 {
		exponent = 0
	}
	factor := math.Pow(opts.Factor, float64(exponent))
	base := opts.BaseDelay.Seconds() * factor
	capped := math.Min(base, opts.MaxDelay.Seconds())
	if capped <= 0 {
		return 0
	}

	jitter := rng.Float64() * capped
	return time.Duration(jitter * float64(time.Second))
}

// waitWithCancel sleeps for duration unless the context is cancelled first
func waitWithCancel(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ErrAborted
	}
}

func newJitterSource(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
