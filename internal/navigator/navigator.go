// Package navigator is the lesson state machine. It decides which lesson a
// learner may open, routes submissions to the quiz grader or the exercise
// evaluator, and commits the resulting progress through the tracker.
package navigator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-academy/internal/apperr"
	"github.com/p-n-ai/pai-academy/internal/curriculum"
	"github.com/p-n-ai/pai-academy/internal/evaluator"
	"github.com/p-n-ai/pai-academy/internal/progress"
	"github.com/p-n-ai/pai-academy/internal/quiz"
)

// Config wires a Navigator.
type Config struct {
	Catalog   *curriculum.Catalog
	Tracker   *progress.Tracker
	Evaluator evaluator.Evaluator
	Events    progress.Publisher // optional
}

// Navigator applies the progression rules. It is safe for concurrent use.
type Navigator struct {
	catalog   *curriculum.Catalog
	tracker   *progress.Tracker
	evaluator evaluator.Evaluator
	events    progress.Publisher
}

// New creates a Navigator.
func New(cfg Config) (*Navigator, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("navigator: catalog is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("navigator: tracker is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("navigator: evaluator is required")
	}
	if cfg.Events == nil {
		cfg.Events = progress.NopPublisher{}
	}
	return &Navigator{
		catalog:   cfg.Catalog,
		tracker:   cfg.Tracker,
		evaluator: cfg.Evaluator,
		events:    cfg.Events,
	}, nil
}

// LessonView is what a learner sees when opening a lesson.
type LessonView struct {
	Lesson     curriculum.Lesson
	Completed  bool
	Current    bool
	PreviousID string // empty on the first lesson
	NextID     string // empty on the final lesson
}

// QuizOutcome is the result of a quiz submission.
type QuizOutcome struct {
	Attempt  progress.QuizAttempt
	Progress progress.Record
}

// ExerciseOutcome is the result of a graded exercise submission.
type ExerciseOutcome struct {
	Verdict  progress.ExerciseVerdict
	Progress progress.Record
}

// GetProgress returns the learner's current record.
func (n *Navigator) GetProgress(ctx context.Context, learnerID string) (progress.Record, error) {
	return n.tracker.GetProgress(ctx, learnerID)
}

// View opens a lesson. Lessons past the learner's cursor are forbidden.
func (n *Navigator) View(ctx context.Context, learnerID, lessonID string) (LessonView, error) {
	lesson, err := n.catalog.LessonByID(lessonID)
	if err != nil {
		return LessonView{}, err
	}
	rec, err := n.tracker.GetProgress(ctx, learnerID)
	if err != nil {
		return LessonView{}, err
	}
	if err := checkReachable(rec, lessonID); err != nil {
		return LessonView{}, err
	}

	view := LessonView{
		Lesson:    lesson,
		Completed: rec.IsCompleted(lessonID),
		Current:   rec.Cursor == lessonID,
	}
	if prev, err := n.catalog.PreviousLessonID(lessonID); err == nil {
		view.PreviousID = prev
	}
	if next, err := n.catalog.NextLessonID(lessonID); err == nil {
		view.NextID = next
	}
	return view, nil
}

// AcknowledgeContent marks the learner's current content lesson as read,
// completes it and advances the cursor.
func (n *Navigator) AcknowledgeContent(ctx context.Context, learnerID, lessonID string) (progress.Record, error) {
	if _, err := n.lessonOfKind(lessonID, curriculum.KindContent); err != nil {
		return progress.Record{}, err
	}

	var events []progress.Event
	rec, err := n.tracker.Update(ctx, learnerID, func(tx *progress.Tx) error {
		events = nil
		before := tx.Record()
		if err := checkCurrent(before, lessonID); err != nil {
			return err
		}
		// The final lesson keeps the cursor once completed.
		if before.IsCompleted(lessonID) {
			return nil
		}
		if err := tx.AcknowledgeContent(lessonID); err != nil {
			return err
		}
		events = append(events, newEvent(progress.EventContentAcknowledged, learnerID, lessonID, nil))
		completion, err := n.completeAndAdvance(tx, learnerID, lessonID)
		if err != nil {
			return err
		}
		events = append(events, completion...)
		return nil
	})
	if err != nil {
		return progress.Record{}, err
	}

	n.publish(ctx, events)
	return rec, nil
}

// SubmitQuiz scores answers (question index to chosen option) for the
// learner's current quiz and records the attempt. Any attempt completes the
// quiz and advances the cursor, so only a final quiz can be retaken. An invalid
// answer leaves progress untouched.
func (n *Navigator) SubmitQuiz(ctx context.Context, learnerID, lessonID string, answers map[int]string) (QuizOutcome, error) {
	lesson, err := n.lessonOfKind(lessonID, curriculum.KindQuiz)
	if err != nil {
		return QuizOutcome{}, err
	}
	payload, ok := lesson.Payload.(curriculum.QuizPayload)
	if !ok {
		return QuizOutcome{}, fmt.Errorf("lesson %s: quiz payload missing: %w", lessonID, apperr.ErrPreconditionFailed)
	}

	var (
		attempt progress.QuizAttempt
		events  []progress.Event
	)
	rec, err := n.tracker.Update(ctx, learnerID, func(tx *progress.Tx) error {
		events = nil
		if err := checkCurrent(tx.Record(), lessonID); err != nil {
			return err
		}
		result, err := quiz.Score(payload, answers)
		if err != nil {
			return err
		}
		attempt, err = tx.RecordQuizAttempt(lessonID, answers, result)
		if err != nil {
			return err
		}
		events = append(events, newEvent(progress.EventQuizAttempted, learnerID, lessonID, map[string]any{
			"correct": result.CorrectCount,
			"total":   result.TotalCount,
		}))
		completion, err := n.completeAndAdvance(tx, learnerID, lessonID)
		if err != nil {
			return err
		}
		events = append(events, completion...)
		return nil
	})
	if err != nil {
		return QuizOutcome{}, err
	}

	slog.Info("quiz submitted",
		"learner_id", learnerID,
		"lesson_id", lessonID,
		"correct", attempt.Result.CorrectCount,
		"total", attempt.Result.TotalCount,
	)
	n.publish(ctx, events)
	return QuizOutcome{Attempt: attempt, Progress: rec}, nil
}

// SubmitExercise sends the submission to the evaluator and records the
// verdict. Only the learner's current, uncompleted exercise can be submitted.
// A failing verdict is recorded without advancing; a passing one completes the
// lesson and advances the cursor. Evaluator errors and cancellation leave
// progress untouched.
//
// The evaluator is called without holding the learner's lock. If the
// learner's cursor moved meanwhile, the verdict is discarded with
// apperr.ErrForbidden.
func (n *Navigator) SubmitExercise(ctx context.Context, learnerID, lessonID, submission string) (ExerciseOutcome, error) {
	lesson, err := n.lessonOfKind(lessonID, curriculum.KindExercise)
	if err != nil {
		return ExerciseOutcome{}, err
	}
	payload, ok := lesson.Payload.(curriculum.ExercisePayload)
	if !ok {
		return ExerciseOutcome{}, fmt.Errorf("lesson %s: exercise payload missing: %w", lessonID, apperr.ErrPreconditionFailed)
	}

	snapshot, err := n.tracker.GetProgress(ctx, learnerID)
	if err != nil {
		return ExerciseOutcome{}, err
	}
	if err := checkSubmittable(snapshot, lessonID); err != nil {
		return ExerciseOutcome{}, err
	}

	start := time.Now()
	v, err := n.evaluator.Evaluate(ctx, evaluator.Request{
		Rubric:     payload.EvaluationPrompt,
		Submission: submission,
	})
	if err != nil {
		slog.Warn("exercise evaluation failed",
			"learner_id", learnerID,
			"lesson_id", lessonID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return ExerciseOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return ExerciseOutcome{}, err
	}

	var (
		verdict progress.ExerciseVerdict
		events  []progress.Event
	)
	rec, err := n.tracker.Update(ctx, learnerID, func(tx *progress.Tx) error {
		events = nil
		current := tx.Record()
		if current.Cursor != snapshot.Cursor {
			return fmt.Errorf("progress moved to %s during grading: %w", current.Cursor, apperr.ErrForbidden)
		}
		if err := checkSubmittable(current, lessonID); err != nil {
			return err
		}
		verdict, err = tx.RecordExerciseVerdict(lessonID, submission, v)
		if err != nil {
			return err
		}
		events = append(events, newEvent(progress.EventExerciseGraded, learnerID, lessonID, map[string]any{
			"verdict": string(verdict.Outcome),
		}))
		if !verdict.Passed() {
			return nil
		}
		completion, err := n.completeAndAdvance(tx, learnerID, lessonID)
		if err != nil {
			return err
		}
		events = append(events, completion...)
		return nil
	})
	if err != nil {
		return ExerciseOutcome{}, err
	}

	slog.Info("exercise graded",
		"learner_id", learnerID,
		"lesson_id", lessonID,
		"verdict", string(verdict.Outcome),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	n.publish(ctx, events)
	return ExerciseOutcome{Verdict: verdict, Progress: rec}, nil
}

// completeAndAdvance marks lessonID completed and moves the cursor past it
// when it is the current, non-final lesson.
func (n *Navigator) completeAndAdvance(tx *progress.Tx, learnerID, lessonID string) ([]progress.Event, error) {
	var events []progress.Event
	wasCompleted := tx.Record().IsCompleted(lessonID)
	if err := tx.MarkCompleted(lessonID); err != nil {
		return nil, err
	}
	if !wasCompleted {
		events = append(events, newEvent(progress.EventLessonCompleted, learnerID, lessonID, nil))
	}

	if tx.Record().Cursor != lessonID {
		return events, nil
	}
	next, err := n.catalog.NextLessonID(lessonID)
	if err != nil {
		// Final lesson: the cursor stays put.
		return events, nil
	}
	if err := tx.AdvanceCursor(next); err != nil {
		return nil, err
	}
	events = append(events, newEvent(progress.EventCursorAdvanced, learnerID, next, map[string]any{"from": lessonID}))
	return events, nil
}

func (n *Navigator) lessonOfKind(lessonID string, want curriculum.Kind) (curriculum.Lesson, error) {
	lesson, err := n.catalog.LessonByID(lessonID)
	if err != nil {
		return curriculum.Lesson{}, err
	}
	switch lesson.Kind() {
	case curriculum.KindContent, curriculum.KindQuiz, curriculum.KindExercise:
		if lesson.Kind() != want {
			return curriculum.Lesson{}, fmt.Errorf("lesson %s is a %s lesson, not %s: %w", lessonID, lesson.Kind(), want, apperr.ErrPreconditionFailed)
		}
		return lesson, nil
	default:
		return curriculum.Lesson{}, fmt.Errorf("lesson %s has unknown kind %q: %w", lessonID, lesson.Kind(), apperr.ErrPreconditionFailed)
	}
}

func (n *Navigator) publish(ctx context.Context, events []progress.Event) {
	for _, e := range events {
		if err := n.events.Publish(ctx, e); err != nil {
			slog.Warn("failed to publish progress event",
				"type", e.Type,
				"learner_id", e.LearnerID,
				"lesson_id", e.LessonID,
				"error", err,
			)
		}
	}
}

// checkReachable allows the cursor lesson and anything already completed.
// Every lesson before the cursor is completed, so this is "at or before the cursor".
func checkReachable(rec progress.Record, lessonID string) error {
	if lessonID == rec.Cursor || rec.IsCompleted(lessonID) {
		return nil
	}
	return fmt.Errorf("lesson %s is ahead of %s: %w", lessonID, rec.Cursor, apperr.ErrForbidden)
}

// checkCurrent allows only the cursor lesson. Lessons behind it are completed
// and closed to new submissions.
func checkCurrent(rec progress.Record, lessonID string) error {
	if err := checkReachable(rec, lessonID); err != nil {
		return err
	}
	if lessonID != rec.Cursor {
		return fmt.Errorf("lesson %s already completed, current lesson is %s: %w", lessonID, rec.Cursor, apperr.ErrPreconditionFailed)
	}
	return nil
}

func checkSubmittable(rec progress.Record, lessonID string) error {
	if err := checkCurrent(rec, lessonID); err != nil {
		return err
	}
	if rec.IsCompleted(lessonID) {
		return fmt.Errorf("exercise %s already passed: %w", lessonID, apperr.ErrPreconditionFailed)
	}
	return nil
}

func newEvent(typ, learnerID, lessonID string, data map[string]any) progress.Event {
	return progress.Event{
		Type:      typ,
		LearnerID: learnerID,
		LessonID:  lessonID,
		Data:      data,
		CreatedAt: time.Now(),
	}
}
