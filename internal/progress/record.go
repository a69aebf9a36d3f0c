// Package progress tracks each learner's position in the curriculum and the
// evidence (acknowledgements, quiz attempts, exercise verdicts) behind every
// completed lesson.
package progress

import (
	"maps"
	"slices"
	"time"

	"github.com/p-n-ai/pai-academy/internal/evaluator"
	"github.com/p-n-ai/pai-academy/internal/quiz"
)

// QuizAttempt is one scored quiz submission. Attempts are append-only.
type QuizAttempt struct {
	ID        string         `json:"id"`
	LessonID  string         `json:"lesson_id"`
	Answers   map[int]string `json:"answers"`
	Result    quiz.Result    `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExerciseVerdict is one graded exercise submission.
type ExerciseVerdict struct {
	ID         string            `json:"id"`
	LessonID   string            `json:"lesson_id"`
	Submission string            `json:"submission"`
	Outcome    evaluator.Outcome `json:"outcome"`
	Feedback   string            `json:"feedback"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Passed reports whether the verdict is a pass.
func (v ExerciseVerdict) Passed() bool {
	return v.Outcome == evaluator.Pass
}

// Record is a learner's progress. Completed and Acknowledged map lesson ids to
// the time the fact was first recorded.
type Record struct {
	LearnerID        string               `json:"learner_id"`
	Cursor           string               `json:"cursor"`
	Completed        map[string]time.Time `json:"completed"`
	Acknowledged     map[string]time.Time `json:"acknowledged"`
	QuizAttempts     []QuizAttempt        `json:"quiz_attempts"`
	ExerciseVerdicts []ExerciseVerdict    `json:"exercise_verdicts"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func newRecord(learnerID, cursor string, now time.Time) Record {
	return Record{
		LearnerID:        learnerID,
		Cursor:           cursor,
		Completed:        map[string]time.Time{},
		Acknowledged:     map[string]time.Time{},
		QuizAttempts:     []QuizAttempt{},
		ExerciseVerdicts: []ExerciseVerdict{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a deep copy, so the caller can mutate it freely.
func (r Record) Clone() Record {
	out := r
	out.Completed = maps.Clone(r.Completed)
	out.Acknowledged = maps.Clone(r.Acknowledged)
	if out.Completed == nil {
		out.Completed = map[string]time.Time{}
	}
	if out.Acknowledged == nil {
		out.Acknowledged = map[string]time.Time{}
	}
	out.QuizAttempts = make([]QuizAttempt, len(r.QuizAttempts))
	for i, a := range r.QuizAttempts {
		a.Answers = maps.Clone(a.Answers)
		a.Result.PerQuestion = slices.Clone(a.Result.PerQuestion)
		out.QuizAttempts[i] = a
	}
	out.ExerciseVerdicts = slices.Clone(r.ExerciseVerdicts)
	if out.ExerciseVerdicts == nil {
		out.ExerciseVerdicts = []ExerciseVerdict{}
	}
	return out
}

// IsCompleted reports whether lessonID is in the completed set.
func (r Record) IsCompleted(lessonID string) bool {
	_, ok := r.Completed[lessonID]
	return ok
}

// IsAcknowledged reports whether the learner acknowledged a content lesson.
func (r Record) IsAcknowledged(lessonID string) bool {
	_, ok := r.Acknowledged[lessonID]
	return ok
}

// AttemptsFor returns the quiz attempts for lessonID, oldest first.
func (r Record) AttemptsFor(lessonID string) []QuizAttempt {
	var out []QuizAttempt
	for _, a := range r.QuizAttempts {
		if a.LessonID == lessonID {
			out = append(out, a)
		}
	}
	return out
}

// LatestVerdict returns the most recent verdict recorded for lessonID.
func (r Record) LatestVerdict(lessonID string) (ExerciseVerdict, bool) {
	for i := len(r.ExerciseVerdicts) - 1; i >= 0; i-- {
		if r.ExerciseVerdicts[i].LessonID == lessonID {
			return r.ExerciseVerdicts[i], true
		}
	}
	return ExerciseVerdict{}, false
}
