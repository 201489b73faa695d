package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxRetries is the number of retries for transient API errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time spent retrying.
	RetryMaxElapsedTime = 2 * time.Minute
)

// Error is a classified provider failure surfaced to the loop.
type Error struct {
	Provider string
	Status   int
	Message  string
	// Aborted marks a cancellation rather than a provider fault.
	Aborted bool
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: request failed", e.Provider)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsAborted reports whether err is a cancellation surfaced by a provider.
func IsAborted(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Aborted
	}
	return errors.Is(err, context.Canceled)
}

// wrapErr classifies an adapter error, distinguishing user cancellation from
// provider faults so aborts are never reported as timeouts.
func wrapErr(providerID string, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &Error{Provider: providerID, Aborted: true, Message: "request aborted", Cause: err}
	}
	return &Error{Provider: providerID, Message: err.Error(), Cause: err}
}

// newRetryBackoff builds the jittered exponential backoff used around
// request creation.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// retryable reports whether an error is worth retrying: rate limits, 5xx,
// timeouts, and connection failures. Cancellation is never retried.
func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") {
		return true
	}
	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

// withRetries runs fn under the retry policy, sleeping the backoff interval
// between attempts.
func withRetries[T any](ctx context.Context, providerID string, fn func() (T, error)) (T, error) {
	bo := newRetryBackoff(ctx)
	var zero T

	for {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !retryable(ctx, err) {
			return zero, wrapErr(providerID, ctx, err)
		}

		interval := bo.NextBackOff()
		if interval == backoff.Stop {
			return zero, wrapErr(providerID, ctx, err)
		}
		select {
		case <-ctx.Done():
			return zero, wrapErr(providerID, ctx, ctx.Err())
		case <-time.After(interval):
		}
	}
}
