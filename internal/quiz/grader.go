// Package quiz scores multiple-choice answers against a quiz's answer key.
package quiz

import (
	"fmt"
	"slices"

	"github.com/p-n-ai/pai-academy/internal/apperr"
	"github.com/p-n-ai/pai-academy/internal/curriculum"
)

// Result is the outcome of scoring one submission.
type Result struct {
	CorrectCount int    `json:"correct_count"`
	TotalCount   int    `json:"total_count"`
	PerQuestion  []bool `json:"per_question"`
}

// Perfect reports whether every question was answered correctly.
func (r Result) Perfect() bool {
	return r.TotalCount > 0 && r.CorrectCount == r.TotalCount
}

// Score grades answers, a map from question index to the chosen option text.
//
// Matching is exact and case-sensitive. Unanswered questions count as
// incorrect. An answer for a question that does not exist, or one that is not
// among the question's declared options, fails with apperr.ErrInvalidAnswer.
func Score(q curriculum.QuizPayload, answers map[int]string) (Result, error) {
	for idx, chosen := range answers {
		if idx < 0 || idx >= len(q.Questions) {
			return Result{}, fmt.Errorf("question %d does not exist: %w", idx, apperr.ErrInvalidAnswer)
		}
		if !slices.Contains(q.Questions[idx].Options, chosen) {
			return Result{}, fmt.Errorf("question %d: %q is not an option: %w", idx, chosen, apperr.ErrInvalidAnswer)
		}
	}

	res := Result{
		TotalCount:  len(q.Questions),
		PerQuestion: make([]bool, len(q.Questions)),
	}
	for i, question := range q.Questions {
		chosen, answered := answers[i]
		if answered && chosen == question.CorrectAnswer {
			res.PerQuestion[i] = true
			res.CorrectCount++
		}
	}
	return res, nil
}
