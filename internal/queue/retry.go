package queue

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyhq/parley/internal/domain"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. Delay grows as base * 2^(attempt-1) plus random
// jitter, capped at max.
type RetryPolicy struct {
	MaxAttempts int // retries after the first attempt
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the backend's remote-call profile: three
// retries starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry reports whether the attempt-th failure (1-based) is worth
// retrying under this policy.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return Retryable(err)
}

// DelayFor returns the backoff delay before the attempt-th retry (1-based).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	// Jitter up to 25% spreads synchronized retries apart.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	delay += jitter
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Retryable classifies an error as transient (HTTP 429/5xx, timeouts,
// connection resets, rate-limit messages) or fatal. Cancellation is never
// retried: the caller gave up on purpose.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if status, ok := httpStatus(err); ok {
		return status == 429 || status >= 500
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset")
}

// httpStatus extracts the HTTP status from provider API errors.
func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}
