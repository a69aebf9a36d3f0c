package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-academy/internal/apperr"
	"github.com/p-n-ai/pai-academy/internal/curriculum"
	"github.com/p-n-ai/pai-academy/internal/evaluator"
	"github.com/p-n-ai/pai-academy/internal/quiz"
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Catalog *curriculum.Catalog
	Store   Store
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
	// NewID overrides attempt and verdict id generation. Defaults to UUIDv4.
	NewID func() string
}

// Tracker owns every learner's progress record. Mutations for one learner are
// serialized; different learners never contend.
type Tracker struct {
	catalog *curriculum.Catalog
	store   Store
	now     func() time.Time
	newID   func() string
	locks   keyedMutex
}

// NewTracker creates a tracker over the given catalog and store.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Tracker{
		catalog: cfg.Catalog,
		store:   cfg.Store,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
}

// Catalog returns the catalog the tracker validates against.
func (t *Tracker) Catalog() *curriculum.Catalog {
	return t.catalog
}

// GetProgress returns a snapshot of the learner's record, creating a fresh one
// positioned at the first lesson if none exists.
func (t *Tracker) GetProgress(ctx context.Context, learnerID string) (Record, error) {
	if learnerID == "" {
		return Record{}, fmt.Errorf("learner id is required: %w", apperr.ErrPreconditionFailed)
	}
	unlock := t.locks.Lock(learnerID)
	defer unlock()

	rec, _, err := t.loadOrCreate(ctx, learnerID)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns every stored record.
func (t *Tracker) List(ctx context.Context) ([]Record, error) {
	return t.store.List(ctx)
}

// Update runs fn against a working copy of the learner's record while holding
// the learner's lock. The copy is persisted only when fn returns nil, so a
// failing fn leaves stored progress untouched. The committed snapshot is
// returned.
func (t *Tracker) Update(ctx context.Context, learnerID string, fn func(tx *Tx) error) (Record, error) {
	if learnerID == "" {
		return Record{}, fmt.Errorf("learner id is required: %w", apperr.ErrPreconditionFailed)
	}
	unlock := t.locks.Lock(learnerID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	rec, _, err := t.loadOrCreate(ctx, learnerID)
	if err != nil {
		return Record{}, err
	}

	tx := &Tx{rec: rec.Clone(), catalog: t.catalog, now: t.now(), newID: t.newID}
	if err := fn(tx); err != nil {
		return Record{}, err
	}
	if !tx.dirty {
		return rec, nil
	}

	tx.rec.UpdatedAt = tx.now
	if err := t.store.Save(ctx, tx.rec); err != nil {
		return Record{}, fmt.Errorf("saving progress: %w", err)
	}
	return tx.rec.Clone(), nil
}

// RecordQuizAttempt appends a scored attempt for a quiz lesson.
func (t *Tracker) RecordQuizAttempt(ctx context.Context, learnerID, lessonID string, answers map[int]string, result quiz.Result) (Record, error) {
	return t.Update(ctx, learnerID, func(tx *Tx) error {
		_, err := tx.RecordQuizAttempt(lessonID, answers, result)
		return err
	})
}

// RecordExerciseVerdict appends a verdict for an exercise lesson.
func (t *Tracker) RecordExerciseVerdict(ctx context.Context, learnerID, lessonID, submission string, v evaluator.Verdict) (Record, error) {
	return t.Update(ctx, learnerID, func(tx *Tx) error {
		_, err := tx.RecordExerciseVerdict(lessonID, submission, v)
		return err
	})
}

// MarkCompleted adds lessonID to the completed set if its completion rule holds.
func (t *Tracker) MarkCompleted(ctx context.Context, learnerID, lessonID string) (Record, error) {
	return t.Update(ctx, learnerID, func(tx *Tx) error {
		return tx.MarkCompleted(lessonID)
	})
}

// AdvanceCursor moves the cursor to lessonID, which must be the lesson right
// after the current, completed, cursor.
func (t *Tracker) AdvanceCursor(ctx context.Context, learnerID, lessonID string) (Record, error) {
	return t.Update(ctx, learnerID, func(tx *Tx) error {
		return tx.AdvanceCursor(lessonID)
	})
}

func (t *Tracker) loadOrCreate(ctx context.Context, learnerID string) (Record, bool, error) {
	rec, found, err := t.store.Load(ctx, learnerID)
	if err != nil {
		return Record{}, false, fmt.Errorf("loading progress: %w", err)
	}
	if found {
		return rec, false, nil
	}

	rec = newRecord(learnerID, t.catalog.FirstLessonID(), t.now())
	if err := t.store.Save(ctx, rec); err != nil {
		return Record{}, false, fmt.Errorf("creating progress: %w", err)
	}
	slog.Info("progress record created",
		"learner_id", learnerID,
		"cursor", rec.Cursor,
	)
	return rec, true, nil
}

// Tx is a pending mutation of one learner's record, valid only inside the
// function passed to Tracker.Update.
type Tx struct {
	rec     Record
	catalog *curriculum.Catalog
	now     time.Time
	newID   func() string
	dirty   bool
}

// Record returns a copy of the working record.
func (tx *Tx) Record() Record {
	return tx.rec.Clone()
}

// RecordQuizAttempt appends an attempt. lessonID must name a quiz lesson.
func (tx *Tx) RecordQuizAttempt(lessonID string, answers map[int]string, result quiz.Result) (QuizAttempt, error) {
	if _, err := tx.lessonOfKind(lessonID, curriculum.KindQuiz); err != nil {
		return QuizAttempt{}, err
	}
	attempt := QuizAttempt{
		ID:        tx.newID(),
		LessonID:  lessonID,
		Answers:   cloneAnswers(answers),
		Result:    result,
		CreatedAt: tx.now,
	}
	tx.rec.QuizAttempts = append(tx.rec.QuizAttempts, attempt)
	tx.dirty = true
	return attempt, nil
}

// RecordExerciseVerdict appends a verdict. lessonID must name an exercise lesson.
func (tx *Tx) RecordExerciseVerdict(lessonID, submission string, v evaluator.Verdict) (ExerciseVerdict, error) {
	if _, err := tx.lessonOfKind(lessonID, curriculum.KindExercise); err != nil {
		return ExerciseVerdict{}, err
	}
	switch v.Outcome {
	case evaluator.Pass, evaluator.Fail:
	default:
		return ExerciseVerdict{}, fmt.Errorf("verdict %q: %w", v.Outcome, apperr.ErrPreconditionFailed)
	}
	verdict := ExerciseVerdict{
		ID:         tx.newID(),
		LessonID:   lessonID,
		Submission: submission,
		Outcome:    v.Outcome,
		Feedback:   v.Feedback,
		CreatedAt:  tx.now,
	}
	tx.rec.ExerciseVerdicts = append(tx.rec.ExerciseVerdicts, verdict)
	tx.dirty = true
	return verdict, nil
}

// AcknowledgeContent records that the learner has read a content lesson.
// Acknowledging twice keeps the first timestamp.
func (tx *Tx) AcknowledgeContent(lessonID string) error {
	if _, err := tx.lessonOfKind(lessonID, curriculum.KindContent); err != nil {
		return err
	}
	if tx.rec.IsAcknowledged(lessonID) {
		return nil
	}
	tx.rec.Acknowledged[lessonID] = tx.now
	tx.dirty = true
	return nil
}

// MarkCompleted adds lessonID to the completed set. It fails with
// apperr.ErrPreconditionFailed unless the lesson's completion rule holds:
// content must be acknowledged, a quiz must have at least one attempt and an
// exercise's latest verdict must pass. Completing twice is a no-op.
func (tx *Tx) MarkCompleted(lessonID string) error {
	lesson, err := tx.catalog.LessonByID(lessonID)
	if err != nil {
		return err
	}
	if tx.rec.IsCompleted(lessonID) {
		return nil
	}

	switch lesson.Kind() {
	case curriculum.KindContent:
		if !tx.rec.IsAcknowledged(lessonID) {
			return fmt.Errorf("lesson %s not acknowledged: %w", lessonID, apperr.ErrPreconditionFailed)
		}
	case curriculum.KindQuiz:
		if len(tx.rec.AttemptsFor(lessonID)) == 0 {
			return fmt.Errorf("lesson %s has no quiz attempt: %w", lessonID, apperr.ErrPreconditionFailed)
		}
	case curriculum.KindExercise:
		latest, ok := tx.rec.LatestVerdict(lessonID)
		if !ok || !latest.Passed() {
			return fmt.Errorf("lesson %s has no passing verdict: %w", lessonID, apperr.ErrPreconditionFailed)
		}
	default:
		return fmt.Errorf("lesson %s has unknown kind %q: %w", lessonID, lesson.Kind(), apperr.ErrPreconditionFailed)
	}

	tx.rec.Completed[lessonID] = tx.now
	tx.dirty = true
	return nil
}

// AdvanceCursor moves the cursor one lesson forward. lessonID must equal the
// successor of the current cursor and the current lesson must be completed.
func (tx *Tx) AdvanceCursor(lessonID string) error {
	next, err := tx.catalog.NextLessonID(tx.rec.Cursor)
	if err != nil {
		return fmt.Errorf("cursor %s is the final lesson: %w", tx.rec.Cursor, apperr.ErrPreconditionFailed)
	}
	if lessonID != next {
		return fmt.Errorf("cannot move cursor from %s to %s: %w", tx.rec.Cursor, lessonID, apperr.ErrPreconditionFailed)
	}
	if !tx.rec.IsCompleted(tx.rec.Cursor) {
		return fmt.Errorf("lesson %s not completed: %w", tx.rec.Cursor, apperr.ErrPreconditionFailed)
	}
	tx.rec.Cursor = next
	tx.dirty = true
	return nil
}

func (tx *Tx) lessonOfKind(lessonID string, want curriculum.Kind) (curriculum.Lesson, error) {
	lesson, err := tx.catalog.LessonByID(lessonID)
	if err != nil {
		return curriculum.Lesson{}, err
	}
	if lesson.Kind() != want {
		return curriculum.Lesson{}, fmt.Errorf("lesson %s is %s, not %s: %w", lessonID, lesson.Kind(), want, apperr.ErrPreconditionFailed)
	}
	return lesson, nil
}

func cloneAnswers(in map[int]string) map[int]string {
	out := make(map[int]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
