package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/p-n-ai/pai-academy/internal/apperr"
)

// Retrying wraps an Evaluator and retries calls that failed with
// apperr.ErrEvaluatorUnavailable. Verdicts, grading errors and cancellation
// are returned immediately.
type Retrying struct {
	next        Evaluator
	maxAttempts uint64
	newBackOff  func() backoff.BackOff
}

// NewRetrying wraps next with at most maxAttempts calls in total.
// maxAttempts below 1 is treated as 1.
func NewRetrying(next Evaluator, maxAttempts int) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{
		next:        next,
		maxAttempts: uint64(maxAttempts),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// WithBackOff replaces the backoff policy, mainly for tests.
func (r *Retrying) WithBackOff(fn func() backoff.BackOff) *Retrying {
	r.newBackOff = fn
	return r
}

func (r *Retrying) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	var verdict Verdict
	attempt := 0

	op := func() error {
		attempt++
		v, err := r.next.Evaluate(ctx, req)
		if err == nil {
			verdict = v
			return nil
		}
		if !apperr.Retryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("evaluator unavailable, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxAttempts-1), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperr.ErrEvaluatorUnavailable) {
			return Verdict{}, fmt.Errorf("%w: %w", apperr.ErrEvaluatorUnavailable, err)
		}
		return Verdict{}, err
	}
	return verdict, nil
}
