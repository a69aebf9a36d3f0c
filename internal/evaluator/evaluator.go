// Package evaluator grades free-form exercise submissions against a
// natural-language rubric using an external judge.
//
// Every implementation reports failures through the apperr taxonomy:
// an unusable response is apperr.ErrGradingError, a judge that could not be
// reached is apperr.ErrEvaluatorUnavailable, and a cancelled context is
// returned as context.Canceled without a verdict. Implementations never retry;
// see Retrying for a caller-owned policy.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/p-n-ai/pai-academy/internal/apperr"
)

// Outcome is the judge's decision on a submission.
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
)

// Request is the wire payload sent to the judge.
type Request struct {
	Rubric     string `json:"rubric"`
	Submission string `json:"submission"`
}

// Verdict is the judge's decision plus its feedback for the learner.
type Verdict struct {
	Outcome  Outcome `json:"verdict"`
	Feedback string  `json:"feedback"`
}

// Passed reports whether the submission passed.
func (v Verdict) Passed() bool {
	return v.Outcome == Pass
}

// Evaluator grades one submission. It is safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Verdict, error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(ctx context.Context, req Request) (Verdict, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}

// classifyTransport maps an error from the transport layer onto the taxonomy.
// Cancellation passes through, an expired deadline counts as the judge being
// unreachable.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("evaluation cancelled: %w", context.Canceled)
	}
	return fmt.Errorf("%w: %w", apperr.ErrEvaluatorUnavailable, err)
}
