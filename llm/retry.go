package llm

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/smithy-go"
	"github.com/m4xw311/mars/errors"
	"github.com/openai/openai-go/v2"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
)

// RetryPolicy bounds how provider calls are retried and paced.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	RequestsPerMinute int
}

// RetryingClient retries transient provider failures with jittered
// exponential backoff. Client errors (4xx other than 408/429) are returned
// immediately.
type RetryingClient struct {
	inner       Client
	maxAttempts int
	backoff     func(int) time.Duration
	sleep       func(context.Context, time.Duration) error
	limiter     *rate.Limiter
	logger      *slog.Logger
}

type retryingStreamClient struct {
	*RetryingClient
	stream StreamingClient
}

// NewRetryingClient wraps inner. The result keeps the streaming capability
// of inner when it has one.
func NewRetryingClient(inner Client, policy RetryPolicy, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	rc := &RetryingClient{
		inner:       inner,
		maxAttempts: policy.MaxAttempts,
		backoff:     exponentialBackoff(policy.BaseDelay),
		sleep:       sleepContext,
		logger:      logger,
	}
	if policy.RequestsPerMinute > 0 {
		rc.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(policy.RequestsPerMinute)), 1)
	}
	if s, ok := AsStreaming(inner); ok {
		return &retryingStreamClient{RetryingClient: rc, stream: s}
	}
	return rc
}

// Unwrap returns the wrapped client.
func (r *RetryingClient) Unwrap() Client { return r.inner }

func (r *RetryingClient) Send(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := r.do(ctx, req.Model, func() (bool, error) {
		var err error
		resp, err = r.inner.Send(ctx, req)
		return true, err
	})
	return resp, err
}

// Stream retries only while nothing has been delivered to handle, so the
// caller never sees a duplicated delta.
func (r *retryingStreamClient) Stream(ctx context.Context, req Request, handle func(StreamEvent) error) error {
	return r.do(ctx, req.Model, func() (bool, error) {
		delivered := false
		err := r.stream.Stream(ctx, req, func(ev StreamEvent) error {
			delivered = true
			return handle(ev)
		})
		return !delivered, err
	})
}

func (r *RetryingClient) do(ctx context.Context, model string, call func() (retryable bool, err error)) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return errors.Wrapf(err, "rate limiter")
			}
		}

		canRetry, err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if !canRetry || ctx.Err() != nil || attempt == r.maxAttempts || !IsRetryable(err) {
			r.logger.Debug("provider call failed", "model", model, "attempt", attempt, "error", err)
			return err
		}

		wait := r.backoff(attempt)
		r.logger.Warn("retrying provider call", "model", model, "attempt", attempt, "max_attempts", r.maxAttempts, "wait", wait, "error", err)
		if err := r.sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// IsRetryable reports whether err looks like a transient provider or
// network failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if status, ok := StatusCode(err); ok {
		return retryableStatus(status)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException", "InternalServerException":
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

// StatusCode extracts the HTTP status from a provider SDK error.
func StatusCode(err error) (int, bool) {
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode, true
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode, true
	}
	var herr interface{ HTTPStatusCode() int }
	if errors.As(err, &herr) {
		return herr.HTTPStatusCode(), true
	}
	return 0, false
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, 529:
		return true
	}
	return status >= 500
}

func exponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		factor := math.Pow(2, float64(attempt-1))
		jitter := 0.5 + rand.Float64()
		return time.Duration(float64(base) * factor * jitter)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
