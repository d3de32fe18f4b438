package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy bounds retries of transient backend failures.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetry = retryPolicy{maxRetries: 3, baseDelay: time.Second, maxDelay: 30 * time.Second}

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// backoff is quadratic in the attempt number with up to 50% jitter. A
// Retry-After header in seconds overrides it, capped at maxDelay.
func (p retryPolicy) backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, p.maxDelay)
	}
	base := time.Duration(attempt*attempt) * p.baseDelay
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return min(base+jitter, p.maxDelay)
}

// doWithRetry executes an HTTP request, retrying network failures, 5xx and
// 429 responses. Other statuses are returned to the caller untouched.
func doWithRetry(ctx context.Context, client *http.Client, policy retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	retryAfter := ""

	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.backoff(attempt, retryAfter)
			logger.Warn("retrying backend request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			retryAfter = ""
			if attempt < policy.maxRetries {
				logger.Warn("backend request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", policy.maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			retryAfter = resp.Header.Get("Retry-After")
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < policy.maxRetries {
				logger.Warn("backend unavailable, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", policy.maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
