package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"forge/pkg/logx"
)

// RetryConfig defines retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig provides reasonable defaults.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// RetryableClient wraps a Client with exponential-backoff retry on
// classified retryable errors.
type RetryableClient struct {
	client Client
	config RetryConfig
	logger *logx.Logger
}

// NewRetryableClient wraps client with retry behavior.
func NewRetryableClient(client Client, config RetryConfig) *RetryableClient {
	return &RetryableClient{
		client: client,
		config: config,
		logger: logx.NewLogger("llm-retry"),
	}
}

// Complete implements Client with retry logic.
func (r *RetryableClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt, lastErr)
			r.logger.Debug("retrying completion in %s (attempt %d/%d): %v",
				delay, attempt, r.config.MaxRetries, lastErr)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, err
		}
		if !IsRetryable(err) {
			break
		}
	}

	return Response{}, fmt.Errorf("completion failed after %d retries: %w", r.config.MaxRetries, lastErr)
}

// ModelName implements Client.
func (r *RetryableClient) ModelName() string {
	return r.client.ModelName()
}

func (r *RetryableClient) delayFor(attempt int, err error) time.Duration {
	delay := time.Duration(float64(r.config.InitialDelay) *
		math.Pow(r.config.BackoffFactor, float64(attempt-1)))

	// Rate limits back off harder than other transient failures.
	var classified *Error
	if errors.As(err, &classified) && classified.Type == ErrorTypeRateLimit {
		delay *= 2
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if r.config.Jitter {
		jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
		delay += jitter - time.Duration(int64(delay)/10)
	}
	if delay < 0 {
		delay = r.config.InitialDelay
	}
	return delay
}
