package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/cadforge/pkg/types"
)

// PermanentError marks a provider failure that retrying cannot fix, such as
// an authentication error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so WithRetry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// retryProvider retries Complete with exponential backoff.
type retryProvider struct {
	Provider
	attempts  int
	baseDelay time.Duration
	sleep     func(context.Context, time.Duration) error
}

// WithRetry wraps p so Complete is retried up to attempts extra times on
// transient errors. Streaming is not retried because partial output may
// already have been consumed.
func WithRetry(p Provider, attempts int, baseDelay time.Duration) Provider {
	if attempts <= 0 {
		return p
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &retryProvider{Provider: p, attempts: attempts, baseDelay: baseDelay, sleep: sleepCtx}
}

func (r *retryProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	var lastErr error
	calls := 0
	delay := r.baseDelay
	for i := 0; i <= r.attempts; i++ {
		calls++
		msg, err := r.Provider.Complete(ctx, messages)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if IsPermanent(err) || ctx.Err() != nil || i == r.attempts {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, fmt.Errorf("completion failed after %d attempt(s): %w", calls, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
