package model

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryInvoker wraps an Invoker with bounded retries and a per-attempt timeout.
// Each attempt gets a fresh deadline so a hung call cannot consume the whole budget.
type RetryInvoker struct {
	inner          Invoker
	attempts       uint
	attemptTimeout time.Duration
}

func NewRetryInvoker(inner Invoker, attempts int, attemptTimeout time.Duration) *RetryInvoker {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryInvoker{
		inner:          inner,
		attempts:       uint(attempts),
		attemptTimeout: attemptTimeout,
	}
}

func (r *RetryInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	attempt := 0
	operation := func() (string, error) {
		attempt++
		callCtx := ctx
		if r.attemptTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
			defer cancel()
		}
		out, err := r.inner.Invoke(callCtx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			log.Printf("[model] attempt %d failed: %v", attempt, err)
			return "", err
		}
		return out, nil
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.attempts),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return strings.TrimSpace(out), nil
}

func (r *RetryInvoker) Close() {
	r.inner.Close()
}
