// Package apperr defines the error taxonomy shared by the learning engine.
//
// Packages wrap these sentinels with fmt.Errorf("...: %w", ...) and callers
// classify failures with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound reports an unknown module or lesson identifier.
	ErrNotFound = errors.New("not found")

	// ErrForbidden reports an illegal navigation, such as skipping ahead.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidAnswer reports a quiz submission that names an undeclared option.
	ErrInvalidAnswer = errors.New("invalid answer")

	// ErrPreconditionFailed reports a progress mutation whose rule is not met.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrGradingError reports an evaluator response that could not be used.
	ErrGradingError = errors.New("grading error")

	// ErrEvaluatorUnavailable reports a transport failure reaching the evaluator.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")

	// ErrUnauthorized reports an admin action attempted without authorization.
	ErrUnauthorized = errors.New("unauthorized")
)

// Retryable reports whether err is a transport failure a caller may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrEvaluatorUnavailable)
}
