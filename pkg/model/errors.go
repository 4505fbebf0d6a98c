package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrel-agent/kestrel/pkg/retry"
)

// ErrIncompleteStream marks a stream that ended without a completion event.
// It is always retryable.
var ErrIncompleteStream = errors.New("stream ended before completion")

// RateLimitError carries a provider rate limit with a known reset instant
type RateLimitError struct {
	ResetAt time.Time
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s: %s", e.ResetAt.Format(time.RFC3339), e.Message)
}

// ClassifyForRetry maps a model call failure onto a retry decision
func ClassifyForRetry(err error) retry.Decision {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return retry.RateLimited(rateLimit.ResetAt, rateLimit.Message)
	}

	if errors.Is(err, ErrIncompleteStream) {
		return retry.Backoff("stream disconnected before completion")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Backoff("request deadline exceeded")
	}

	if isRetryableMessage(err.Error()) {
		return retry.Backoff(err.Error())
	}

	return retry.Fatal(err)
}

// isRetryableMessage checks for transient network and server failures
func isRetryableMessage(msg string) bool {
	transient := []string{
		"ECONNRESET",
		"ETIMEDOUT",
		"connection reset",
		"connection refused",
		"unexpected EOF",
		"429",
		"rate limit",
		"408",
		"500",
		"502",
		"503",
		"504",
		"overloaded",
		"timeout",
	}

	lower := strings.ToLower(msg)
	for _, marker := range transient {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
