package httpapi

import (
	"github.com/p-n-ai/pai-academy/internal/curriculum"
	"github.com/p-n-ai/pai-academy/internal/navigator"
)

// Learner-facing projections of the catalog. Correct answers and exercise
// rubrics never leave the server.

type catalogJSON struct {
	Modules []moduleJSON `json:"modules"`
	Lessons int          `json:"lesson_count"`
}

type moduleJSON struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Lessons     []lessonSummaryJSON `json:"lessons"`
}

type lessonSummaryJSON struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Kind             curriculum.Kind `json:"kind"`
	EstimatedMinutes int             `json:"estimated_minutes,omitempty"`
}

type lessonJSON struct {
	lessonSummaryJSON
	ModuleID    string         `json:"module_id"`
	Body        string         `json:"body,omitempty"`
	Questions   []questionJSON `json:"questions,omitempty"`
	Prompt      string         `json:"prompt,omitempty"`
	InitialCode string         `json:"initial_code,omitempty"`
}

type questionJSON struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type lessonViewJSON struct {
	Lesson     lessonJSON `json:"lesson"`
	Completed  bool       `json:"completed"`
	Current    bool       `json:"current"`
	PreviousID string     `json:"previous_id,omitempty"`
	NextID     string     `json:"next_id,omitempty"`
}

func newCatalogJSON(c *curriculum.Catalog) catalogJSON {
	out := catalogJSON{Lessons: c.LessonCount()}
	for _, m := range c.Modules() {
		mj := moduleJSON{ID: m.ID, Title: m.Title, Description: m.Description}
		for _, id := range m.LessonIDs {
			l, err := c.LessonByID(id)
			if err != nil {
				continue
			}
			mj.Lessons = append(mj.Lessons, summarize(l))
		}
		out.Modules = append(out.Modules, mj)
	}
	return out
}

func summarize(l curriculum.Lesson) lessonSummaryJSON {
	return lessonSummaryJSON{
		ID:               l.ID,
		Title:            l.Title,
		Kind:             l.Kind(),
		EstimatedMinutes: l.EstimatedMinutes,
	}
}

func newLessonJSON(l curriculum.Lesson) lessonJSON {
	out := lessonJSON{lessonSummaryJSON: summarize(l), ModuleID: l.ModuleID}
	switch p := l.Payload.(type) {
	case curriculum.ContentPayload:
		out.Body = p.Body
	case curriculum.QuizPayload:
		out.Questions = make([]questionJSON, len(p.Questions))
		for i, q := range p.Questions {
			out.Questions[i] = questionJSON{Question: q.Prompt, Options: q.Options}
		}
	case curriculum.ExercisePayload:
		out.Prompt = p.Prompt
		out.InitialCode = p.InitialCode
	}
	return out
}

func newLessonViewJSON(v navigator.LessonView) lessonViewJSON {
	return lessonViewJSON{
		Lesson:     newLessonJSON(v.Lesson),
		Completed:  v.Completed,
		Current:    v.Current,
		PreviousID: v.PreviousID,
		NextID:     v.NextID,
	}
}
