package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-academy/internal/apperr"
	"github.com/p-n-ai/pai-academy/internal/curriculum"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

// ProgressLister lists every learner's progress. *progress.Tracker satisfies it.
type ProgressLister interface {
	List(ctx context.Context) ([]progress.Record, error)
}

// HealthSource returns the latest provider probe results.
type HealthSource interface {
	Snapshot() []ProviderStatus
}

// DashboardConfig wires a Dashboard.
type DashboardConfig struct {
	Authorizer Authorizer
	Catalog    *curriculum.Catalog
	Progress   ProgressLister
	Health     HealthSource // optional
}

// Dashboard serves the admin tabs. Every view checks the Authorizer first.
type Dashboard struct {
	authz    Authorizer
	catalog  *curriculum.Catalog
	progress ProgressLister
	health   HealthSource
}

// NewDashboard creates a Dashboard. A nil Authorizer denies everything.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	if cfg.Authorizer == nil {
		cfg.Authorizer = DenyAll
	}
	return &Dashboard{
		authz:    cfg.Authorizer,
		catalog:  cfg.Catalog,
		progress: cfg.Progress,
		health:   cfg.Health,
	}
}

// Overview is the summary tab.
type Overview struct {
	Learners         int          `json:"learners"`
	FinishedLearners int          `json:"finished_learners"`
	Modules          int          `json:"modules"`
	Lessons          int          `json:"lessons"`
	QuizAttempts     int          `json:"quiz_attempts"`
	ExerciseVerdicts int          `json:"exercise_verdicts"`
	ExercisePassRate float64      `json:"exercise_pass_rate"`
	LessonStats      []LessonStat `json:"lesson_stats"`
}

// LessonStat counts learners who completed one lesson.
type LessonStat struct {
	LessonID  string          `json:"lesson_id"`
	ModuleID  string          `json:"module_id"`
	Title     string          `json:"title"`
	Kind      curriculum.Kind `json:"kind"`
	Completed int             `json:"completed"`
}

// LearnerSummary is one row of the learners tab.
type LearnerSummary struct {
	LearnerID      string    `json:"learner_id"`
	Cursor         string    `json:"cursor"`
	CompletedCount int       `json:"completed_count"`
	Percent        float64   `json:"percent"`
	Finished       bool      `json:"finished"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Overview returns the summary tab.
func (d *Dashboard) Overview(ctx context.Context, token string) (Overview, error) {
	if err := d.authorize(ctx, token, ActionViewOverview); err != nil {
		return Overview{}, err
	}
	records, err := d.progress.List(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("listing progress: %w", err)
	}

	lessons := d.catalog.Lessons()
	completions := make(map[string]int, len(lessons))
	ov := Overview{
		Learners: len(records),
		Modules:  d.catalog.ModuleCount(),
		Lessons:  len(lessons),
	}
	var passed int
	for _, rec := range records {
		for id := range rec.Completed {
			completions[id]++
		}
		if d.finished(rec) {
			ov.FinishedLearners++
		}
		ov.QuizAttempts += len(rec.QuizAttempts)
		ov.ExerciseVerdicts += len(rec.ExerciseVerdicts)
		for _, v := range rec.ExerciseVerdicts {
			if v.Passed() {
				passed++
			}
		}
	}
	if ov.ExerciseVerdicts > 0 {
		ov.ExercisePassRate = float64(passed) / float64(ov.ExerciseVerdicts)
	}

	ov.LessonStats = make([]LessonStat, 0, len(lessons))
	for _, l := range lessons {
		ov.LessonStats = append(ov.LessonStats, LessonStat{
			LessonID:  l.ID,
			ModuleID:  l.ModuleID,
			Title:     l.Title,
			Kind:      l.Kind(),
			Completed: completions[l.ID],
		})
	}
	return ov, nil
}

// Learners returns the learners tab, ordered by learner id.
func (d *Dashboard) Learners(ctx context.Context, token string) ([]LearnerSummary, error) {
	if err := d.authorize(ctx, token, ActionViewLearners); err != nil {
		return nil, err
	}
	records, err := d.progress.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	return d.summaries(records), nil
}

// APIHealth returns the latest AI provider probe results.
func (d *Dashboard) APIHealth(ctx context.Context, token string) ([]ProviderStatus, error) {
	if err := d.authorize(ctx, token, ActionViewAPIHealth); err != nil {
		return nil, err
	}
	if d.health == nil {
		return []ProviderStatus{}, nil
	}
	return d.health.Snapshot(), nil
}

// Export writes an .xlsx workbook with a Learners sheet and a Lessons sheet.
func (d *Dashboard) Export(ctx context.Context, token string, w io.Writer) error {
	if err := d.authorize(ctx, token, ActionExport); err != nil {
		return err
	}
	records, err := d.progress.List(ctx)
	if err != nil {
		return fmt.Errorf("listing progress: %w", err)
	}
	// Overview re-checks authorization, which already passed.
	ov, err := d.Overview(ctx, token)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const learnersSheet, lessonsSheet = "Learners", "Lessons"
	if err := f.SetSheetName("Sheet1", learnersSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(lessonsSheet); err != nil {
		return fmt.Errorf("adding sheet: %w", err)
	}

	rows := [][]any{{"Learner", "Current lesson", "Completed", "Percent", "Finished", "Updated at"}}
	for _, s := range d.summaries(records) {
		rows = append(rows, []any{s.LearnerID, s.Cursor, s.CompletedCount, s.Percent, s.Finished, s.UpdatedAt.UTC().Format(time.RFC3339)})
	}
	if err := writeRows(f, learnersSheet, rows); err != nil {
		return err
	}

	rows = [][]any{{"Module", "Lesson", "Title", "Kind", "Learners completed"}}
	for _, s := range ov.LessonStats {
		rows = append(rows, []any{s.ModuleID, s.LessonID, s.Title, string(s.Kind), s.Completed})
	}
	if err := writeRows(f, lessonsSheet, rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	slog.Info("progress exported", "learners", len(records))
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func (d *Dashboard) summaries(records []progress.Record) []LearnerSummary {
	total := d.catalog.LessonCount()
	out := make([]LearnerSummary, 0, len(records))
	for _, rec := range records {
		s := LearnerSummary{
			LearnerID:      rec.LearnerID,
			Cursor:         rec.Cursor,
			CompletedCount: len(rec.Completed),
			Finished:       d.finished(rec),
			UpdatedAt:      rec.UpdatedAt,
		}
		if total > 0 {
			s.Percent = float64(len(rec.Completed)) * 100 / float64(total)
		}
		out = append(out, s)
	}
	return out
}

func (d *Dashboard) finished(rec progress.Record) bool {
	return rec.IsCompleted(d.catalog.FinalLessonID())
}

func (d *Dashboard) authorize(ctx context.Context, token string, action Action) error {
	if d.authz.Authorized(ctx, token, action) {
		return nil
	}
	slog.Warn("admin access denied", "action", string(action))
	return fmt.Errorf("admin %s: %w", action, apperr.ErrUnauthorized)
}
