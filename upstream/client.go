package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// errorClass is the tagged classification of a failed provider call.
// A single classification point feeds a pure retry decision, instead of
// status-code branching scattered through the callers.
type errorClass int

const (
	classNone      errorClass = iota
	classClient               // 4xx: retrying will not help
	classServer               // 5xx
	classTransport            // connection/timeout failures
)

// callError carries the classification alongside the underlying failure
type callError struct {
	class  errorClass
	status int
	err    error
}

func (e *callError) Error() string {
	switch e.class {
	case classClient:
		return fmt.Sprintf("provider client error (status %d): %v", e.status, e.err)
	case classServer:
		return fmt.Sprintf("provider server error (status %d)", e.status)
	default:
		return fmt.Sprintf("provider transport error: %v", e.err)
	}
}

func (e *callError) Unwrap() error { return e.err }

// classify maps a transport error or HTTP status onto an error class
func classify(status int, err error) errorClass {
	if err != nil {
		return classTransport
	}
	switch {
	case status >= 500:
		return classServer
	case status >= 400:
		return classClient
	default:
		return classNone
	}
}

// retryable is the retry decision over the classification: server and
// transport failures retry, client errors surface immediately.
func retryable(class errorClass) bool {
	return class == classServer || class == classTransport
}

// RetryPolicy bounds retries for all provider calls
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first
	MaxAttempts int

	// BaseDelay is the wait before the first retry; it doubles after
	// each further failure
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns the production retry bounds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Client wraps outbound provider calls with the shared retry policy:
// exponential backoff on 5xx and transport failures, no retry on 4xx.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	logger     *zap.Logger
}

// NewClient creates a provider HTTP client
func NewClient(timeout time.Duration, policy RetryPolicy, logger *zap.Logger) *Client {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		logger:     logger,
	}
}

// Do executes the request, rebuilding it per attempt via build so the
// body can be replayed. 4xx responses and successes are returned to the
// caller as-is; 5xx and transport failures are retried with backoff
// until the attempt cap, then surfaced as ErrUnavailable.
func (c *Client) Do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.policy.BaseDelay * (1 << (attempt - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req = req.WithContext(ctx)

		resp, err := c.httpClient.Do(req)
		class := classify(statusOf(resp), err)

		if class == classNone || class == classClient {
			return resp, nil
		}

		if err != nil {
			lastErr = &callError{class: class, err: err}
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &callError{class: class, status: resp.StatusCode, err: fmt.Errorf("%s", body)}
		}

		c.logger.Warn("provider call failed",
			zap.String("url", req.URL.Path),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Error(lastErr),
		)

		if !retryable(class) {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
