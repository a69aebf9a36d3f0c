package navigator_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-academy/internal/ai"
	"github.com/p-n-ai/pai-academy/internal/apperr"
	"github.com/p-n-ai/pai-academy/internal/curriculum"
	"github.com/p-n-ai/pai-academy/internal/curriculum/curriculumtest"
	"github.com/p-n-ai/pai-academy/internal/evaluator"
	"github.com/p-n-ai/pai-academy/internal/navigator"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

const petSubmission = "{\n  \"name\": \"Fido\",\n  \"age\": 5\n}"

type harness struct {
	nav    *navigator.Navigator
	events *progress.MemoryPublisher
}

func newHarness(t *testing.T, eval evaluator.Evaluator) harness {
	t.Helper()
	catalog := curriculumtest.Catalog(t)
	events := progress.NewMemoryPublisher()
	nav, err := navigator.New(navigator.Config{
		Catalog:   catalog,
		Tracker:   progress.NewTracker(progress.TrackerConfig{Catalog: catalog}),
		Evaluator: eval,
		Events:    events,
	})
	if err != nil {
		t.Fatalf("navigator.New() error = %v", err)
	}
	return harness{nav: nav, events: events}
}

func verdictEvaluator(outcome evaluator.Outcome, feedback string) evaluator.Evaluator {
	return evaluator.Func(func(context.Context, evaluator.Request) (evaluator.Verdict, error) {
		return evaluator.Verdict{Outcome: outcome, Feedback: feedback}, nil
	})
}

func errEvaluator(err error) evaluator.Evaluator {
	return evaluator.Func(func(context.Context, evaluator.Request) (evaluator.Verdict, error) {
		return evaluator.Verdict{}, err
	})
}

// reachExercise walks the learner to the exercise lesson.
func reachExercise(t *testing.T, nav *navigator.Navigator, learner string) {
	t.Helper()
	ctx := context.Background()
	if _, err := nav.AcknowledgeContent(ctx, learner, curriculumtest.Intro); err != nil {
		t.Fatalf("AcknowledgeContent() error = %v", err)
	}
	if _, err := nav.SubmitQuiz(ctx, learner, curriculumtest.Quiz, map[int]string{0: "4", 1: "Paris"}); err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	catalog := curriculumtest.Catalog(t)
	tracker := progress.NewTracker(progress.TrackerConfig{Catalog: catalog})
	eval := verdictEvaluator(evaluator.Pass, "")

	cases := []navigator.Config{
		{Tracker: tracker, Evaluator: eval},
		{Catalog: catalog, Evaluator: eval},
		{Catalog: catalog, Tracker: tracker},
	}
	for i, cfg := range cases {
		if _, err := navigator.New(cfg); err == nil {
			t.Errorf("case %d: New() should fail on missing dependency", i)
		}
	}
}

func TestView(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()

	tests := []struct {
		name     string
		lessonID string
		wantErr  error
	}{
		{"current lesson", curriculumtest.Intro, nil},
		{"next lesson is ahead", curriculumtest.Quiz, apperr.ErrForbidden},
		{"far ahead", curriculumtest.Outro, apperr.ErrForbidden},
		{"unknown", "9-9", apperr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := h.nav.View(ctx, "ana", tt.lessonID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("View() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("View() error = %v", err)
			}
			if !view.Current || view.Completed {
				t.Errorf("view = %+v, want current and not completed", view)
			}
			if view.PreviousID != "" || view.NextID != curriculumtest.Quiz {
				t.Errorf("neighbours = %q/%q", view.PreviousID, view.NextID)
			}
		})
	}
}

func TestView_CompletedLessonStaysViewable(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()
	reachExercise(t, h.nav, "ana")

	view, err := h.nav.View(ctx, "ana", curriculumtest.Intro)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if !view.Completed || view.Current {
		t.Errorf("view = %+v, want completed and not current", view)
	}
}

func TestAcknowledgeContent(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()

	rec, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Intro)
	if err != nil {
		t.Fatalf("AcknowledgeContent() error = %v", err)
	}
	if !rec.IsCompleted(curriculumtest.Intro) || rec.Cursor != curriculumtest.Quiz {
		t.Errorf("record = %+v, want intro completed and cursor on quiz", rec)
	}

	want := []string{progress.EventContentAcknowledged, progress.EventLessonCompleted, progress.EventCursorAdvanced}
	if got := h.events.Types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	// The intro is now behind the cursor.
	if _, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Intro); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("second AcknowledgeContent() error = %v, want ErrPreconditionFailed", err)
	}
	rec, _ = h.nav.GetProgress(ctx, "ana")
	if rec.Cursor != curriculumtest.Quiz || len(h.events.Events()) != 3 {
		t.Errorf("re-acknowledging changed state: cursor %q, %d events", rec.Cursor, len(h.events.Events()))
	}
}

func TestAcknowledgeContent_Rejections(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()

	if _, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Outro); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("acknowledge ahead: error = %v, want ErrForbidden", err)
	}
	if _, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Quiz); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Errorf("acknowledge quiz: error = %v, want ErrPreconditionFailed", err)
	}
	if _, err := h.nav.AcknowledgeContent(ctx, "ana", "9-9"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("acknowledge unknown: error = %v, want ErrNotFound", err)
	}
}

func TestSubmitQuiz_HalfCorrect(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()
	if _, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Intro); err != nil {
		t.Fatal(err)
	}

	out, err := h.nav.SubmitQuiz(ctx, "ana", curriculumtest.Quiz, map[int]string{0: "4", 1: "Rome"})
	if err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}

	res := out.Attempt.Result
	if res.CorrectCount != 1 || res.TotalCount != 2 {
		t.Errorf("score = %d/%d, want 1/2", res.CorrectCount, res.TotalCount)
	}
	if !slices.Equal(res.PerQuestion, []bool{true, false}) {
		t.Errorf("PerQuestion = %v, want [true false]", res.PerQuestion)
	}
	if !out.Progress.IsCompleted(curriculumtest.Quiz) {
		t.Error("an attempted quiz is completed")
	}
	if out.Progress.Cursor != curriculumtest.Exercise {
		t.Errorf("Cursor = %q, want %q", out.Progress.Cursor, curriculumtest.Exercise)
	}
}

func TestSubmitQuiz_InvalidAnswerLeavesProgress(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()
	if _, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Intro); err != nil {
		t.Fatal(err)
	}
	before := len(h.events.Events())

	for _, answers := range []map[int]string{
		{0: "five"},
		{0: "four"}, // case and spelling matter
		{7: "4"},
	} {
		if _, err := h.nav.SubmitQuiz(ctx, "ana", curriculumtest.Quiz, answers); !errors.Is(err, apperr.ErrInvalidAnswer) {
			t.Errorf("SubmitQuiz(%v) error = %v, want ErrInvalidAnswer", answers, err)
		}
	}

	rec, _ := h.nav.GetProgress(ctx, "ana")
	if len(rec.QuizAttempts) != 0 || rec.IsCompleted(curriculumtest.Quiz) || rec.Cursor != curriculumtest.Quiz {
		t.Errorf("invalid answers changed progress: %+v", rec)
	}
	if len(h.events.Events()) != before {
		t.Error("invalid answers must not emit events")
	}
}

func TestSubmitQuiz_BehindCursorRejected(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()
	reachExercise(t, h.nav, "ana")
	before := len(h.events.Events())

	if _, err := h.nav.SubmitQuiz(ctx, "ana", curriculumtest.Quiz, map[int]string{0: "3"}); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("SubmitQuiz(completed quiz) error = %v, want ErrPreconditionFailed", err)
	}

	rec, _ := h.nav.GetProgress(ctx, "ana")
	if n := len(rec.AttemptsFor(curriculumtest.Quiz)); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
	if rec.Cursor != curriculumtest.Exercise {
		t.Errorf("Cursor = %q, want %q", rec.Cursor, curriculumtest.Exercise)
	}
	if len(h.events.Events()) != before {
		t.Error("rejected submission emitted events")
	}
}

func TestSubmitQuiz_FinalQuizRetakeAppends(t *testing.T) {
	catalog, err := curriculum.New(
		[]curriculum.Module{{ID: "module-1", Title: "Only", LessonIDs: []string{"1-1"}}},
		[]curriculum.Lesson{{ID: "1-1", Title: "Final check", Payload: curriculum.QuizPayload{Questions: []curriculum.Question{
			{Prompt: "What is 2 + 2?", Options: []string{"3", "4"}, CorrectAnswer: "4"},
		}}}},
	)
	if err != nil {
		t.Fatalf("curriculum.New() error = %v", err)
	}
	nav, err := navigator.New(navigator.Config{
		Catalog:   catalog,
		Tracker:   progress.NewTracker(progress.TrackerConfig{Catalog: catalog}),
		Evaluator: verdictEvaluator(evaluator.Pass, ""),
	})
	if err != nil {
		t.Fatalf("navigator.New() error = %v", err)
	}
	ctx := context.Background()

	if _, err := nav.SubmitQuiz(ctx, "ana", "1-1", map[int]string{0: "3"}); err != nil {
		t.Fatalf("first attempt error = %v", err)
	}
	out, err := nav.SubmitQuiz(ctx, "ana", "1-1", map[int]string{0: "4"})
	if err != nil {
		t.Fatalf("retake error = %v", err)
	}
	attempts := out.Progress.AttemptsFor("1-1")
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Result.CorrectCount != 0 || attempts[1].Result.CorrectCount != 1 {
		t.Errorf("attempt scores = %d, %d, want 0, 1", attempts[0].Result.CorrectCount, attempts[1].Result.CorrectCount)
	}
	if out.Progress.Cursor != "1-1" {
		t.Errorf("Cursor = %q, want 1-1", out.Progress.Cursor)
	}
}

func TestSubmitQuiz_Rejections(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()

	if _, err := h.nav.SubmitQuiz(ctx, "ana", curriculumtest.Quiz, map[int]string{0: "4"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("quiz ahead of cursor: error = %v, want ErrForbidden", err)
	}
	if _, err := h.nav.SubmitQuiz(ctx, "ana", curriculumtest.Intro, nil); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Errorf("quiz on content: error = %v, want ErrPreconditionFailed", err)
	}
}

func TestSubmitExercise_PetPasses(t *testing.T) {
	mock := ai.NewMockProvider(`{"verdict":"pass","feedback":"Valid JSON with a string name and numeric age."}`)
	h := newHarness(t, evaluator.NewAIEvaluator(mock))
	ctx := context.Background()
	reachExercise(t, h.nav, "ana")

	out, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, petSubmission)
	if err != nil {
		t.Fatalf("SubmitExercise() error = %v", err)
	}
	if !out.Verdict.Passed() || out.Verdict.Submission != petSubmission {
		t.Errorf("verdict = %+v", out.Verdict)
	}
	if !out.Progress.IsCompleted(curriculumtest.Exercise) {
		t.Error("passing verdict should complete the exercise")
	}
	if out.Progress.Cursor != curriculumtest.Outro {
		t.Errorf("Cursor = %q, want %q", out.Progress.Cursor, curriculumtest.Outro)
	}

	var advanced int
	for _, e := range h.events.Events() {
		if e.Type == progress.EventCursorAdvanced && e.LessonID == curriculumtest.Outro {
			advanced++
		}
	}
	if advanced != 1 {
		t.Errorf("cursor advanced %d times onto the outro, want exactly once", advanced)
	}

	prompt := mock.LastRequest.Messages[1].Content
	if !strings.Contains(prompt, curriculumtest.PetRubric) || !strings.Contains(prompt, petSubmission) {
		t.Errorf("grading prompt should carry rubric and submission, got %q", prompt)
	}

	// Already passed: nothing more to grade.
	if _, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, petSubmission); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Errorf("resubmitting a passed exercise: error = %v, want ErrPreconditionFailed", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("evaluator called %d times, want 1", mock.CallCount())
	}
}

func TestSubmitExercise_FailRecordsWithoutAdvancing(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Fail, "age must be a number"))
	ctx := context.Background()
	reachExercise(t, h.nav, "ana")

	out, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, `{"name":"Fido","age":"five"}`)
	if err != nil {
		t.Fatalf("SubmitExercise() error = %v", err)
	}
	if out.Verdict.Passed() || out.Verdict.Feedback != "age must be a number" {
		t.Errorf("verdict = %+v", out.Verdict)
	}
	if out.Progress.IsCompleted(curriculumtest.Exercise) || out.Progress.Cursor != curriculumtest.Exercise {
		t.Errorf("failing verdict changed completion or cursor: %+v", out.Progress)
	}
	if len(out.Progress.ExerciseVerdicts) != 1 {
		t.Errorf("verdicts = %d, want 1", len(out.Progress.ExerciseVerdicts))
	}
}

func TestSubmitExercise_ErrorsLeaveProgress(t *testing.T) {
	tests := []struct {
		name    string
		eval    func() (evaluator.Evaluator, context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "grading error",
			eval: func() (evaluator.Evaluator, context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				return evaluator.NewAIEvaluator(ai.NewMockProvider("I think it passes")), ctx, cancel
			},
			wantErr: apperr.ErrGradingError,
		},
		{
			name: "unavailable",
			eval: func() (evaluator.Evaluator, context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				return errEvaluator(apperr.ErrEvaluatorUnavailable), ctx, cancel
			},
			wantErr: apperr.ErrEvaluatorUnavailable,
		},
		{
			name: "timeout",
			eval: func() (evaluator.Evaluator, context.Context, context.CancelFunc) {
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
				return evaluator.NewAIEvaluator(&ai.MockProvider{Block: true}), ctx, cancel
			},
			wantErr: apperr.ErrEvaluatorUnavailable,
		},
		{
			name: "cancelled",
			eval: func() (evaluator.Evaluator, context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return evaluator.NewAIEvaluator(&ai.MockProvider{Block: true}), ctx, cancel
			},
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, ctx, cancel := tt.eval()
			defer cancel()

			h := newHarness(t, eval)
			reachExercise(t, h.nav, "ana")
			before, _ := h.nav.GetProgress(context.Background(), "ana")
			eventsBefore := len(h.events.Events())

			_, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, petSubmission)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SubmitExercise() error = %v, want %v", err, tt.wantErr)
			}

			after, _ := h.nav.GetProgress(context.Background(), "ana")
			if len(after.ExerciseVerdicts) != 0 || after.Cursor != before.Cursor || !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Errorf("progress changed: before %+v, after %+v", before, after)
			}
			if len(h.events.Events()) != eventsBefore {
				t.Error("failed submission must not emit events")
			}
		})
	}
}

func TestSubmitExercise_Rejections(t *testing.T) {
	var calls atomic.Int32
	eval := evaluator.Func(func(context.Context, evaluator.Request) (evaluator.Verdict, error) {
		calls.Add(1)
		return evaluator.Verdict{Outcome: evaluator.Pass}, nil
	})
	h := newHarness(t, eval)
	ctx := context.Background()

	if _, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, petSubmission); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("exercise ahead: error = %v, want ErrForbidden", err)
	}
	if _, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Intro, petSubmission); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Errorf("exercise on content: error = %v, want ErrPreconditionFailed", err)
	}
	if calls.Load() != 0 {
		t.Errorf("evaluator called %d times for rejected submissions", calls.Load())
	}
}

func TestSubmitExercise_CursorMovedDuringGrading(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	eval := evaluator.Func(func(ctx context.Context, req evaluator.Request) (evaluator.Verdict, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return evaluator.Verdict{Outcome: evaluator.Pass}, nil
	})
	h := newHarness(t, eval)
	ctx := context.Background()
	reachExercise(t, h.nav, "ana")

	slowErr := make(chan error, 1)
	go func() {
		_, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, "slow")
		slowErr <- err
	}()
	<-entered

	if _, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, "fast"); err != nil {
		t.Fatalf("fast submission error = %v", err)
	}
	close(release)

	if err := <-slowErr; !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("slow submission error = %v, want ErrForbidden", err)
	}

	rec, _ := h.nav.GetProgress(ctx, "ana")
	if len(rec.ExerciseVerdicts) != 1 || rec.ExerciseVerdicts[0].Submission != "fast" {
		t.Errorf("verdicts = %+v, want only the fast one", rec.ExerciseVerdicts)
	}
	if rec.Cursor != curriculumtest.Outro {
		t.Errorf("Cursor = %q, want %q", rec.Cursor, curriculumtest.Outro)
	}
}

func TestTerminalState(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()
	reachExercise(t, h.nav, "ana")
	if _, err := h.nav.SubmitExercise(ctx, "ana", curriculumtest.Exercise, petSubmission); err != nil {
		t.Fatal(err)
	}

	rec, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Outro)
	if err != nil {
		t.Fatalf("AcknowledgeContent(final) error = %v", err)
	}
	if !rec.IsCompleted(curriculumtest.Outro) || rec.Cursor != curriculumtest.Outro {
		t.Errorf("final lesson: completed=%v cursor=%q, want completed and cursor unchanged", rec.IsCompleted(curriculumtest.Outro), rec.Cursor)
	}
	if len(rec.Completed) != 4 {
		t.Errorf("completed = %d lessons, want 4", len(rec.Completed))
	}

	for _, id := range []string{curriculumtest.Intro, curriculumtest.Quiz, curriculumtest.Exercise, curriculumtest.Outro} {
		if _, err := h.nav.View(ctx, "ana", id); err != nil {
			t.Errorf("View(%s) after finishing: %v", id, err)
		}
	}
}

func TestConcurrentSubmissionsSameLearner(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()
	if _, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Intro); err != nil {
		t.Fatal(err)
	}

	const n = 25
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.nav.SubmitQuiz(ctx, "ana", curriculumtest.Quiz, map[int]string{0: "4", 1: "Paris"})
			switch {
			case err == nil:
				accepted.Add(1)
			case !errors.Is(err, apperr.ErrPreconditionFailed):
				t.Errorf("SubmitQuiz() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Errorf("accepted submissions = %d, want 1", got)
	}
	rec, _ := h.nav.GetProgress(ctx, "ana")
	if got := len(rec.AttemptsFor(curriculumtest.Quiz)); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if rec.Cursor != curriculumtest.Exercise {
		t.Errorf("Cursor = %q, want %q (advanced exactly once)", rec.Cursor, curriculumtest.Exercise)
	}

	var advanced int
	for _, e := range h.events.Events() {
		if e.Type == progress.EventCursorAdvanced && e.LessonID == curriculumtest.Exercise {
			advanced++
		}
	}
	if advanced != 1 {
		t.Errorf("cursor_advanced onto exercise emitted %d times, want 1", advanced)
	}
}

func TestIndependentLearners(t *testing.T) {
	h := newHarness(t, verdictEvaluator(evaluator.Pass, ""))
	ctx := context.Background()

	if _, err := h.nav.AcknowledgeContent(ctx, "ana", curriculumtest.Intro); err != nil {
		t.Fatal(err)
	}
	bob, err := h.nav.GetProgress(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if bob.Cursor != curriculumtest.Intro || len(bob.Completed) != 0 {
		t.Errorf("bob = %+v, should be untouched by ana", bob)
	}
}
