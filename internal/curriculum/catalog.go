// Package curriculum holds the immutable module and lesson catalog.
package curriculum

import (
	"fmt"
	"slices"

	"github.com/p-n-ai/pai-academy/internal/apperr"
)

// Catalog is an ordered, read-only collection of modules and lessons.
// It is built once and never mutated, so concurrent reads need no locking.
type Catalog struct {
	modules  []Module
	lessons  map[string]Lesson
	order    []string       // every lesson id in module order
	position map[string]int // lesson id -> index in order
}

// New builds a catalog from modules and their lessons. Every lesson must be
// listed by exactly one module, and lesson ids must be unique.
func New(modules []Module, lessons []Lesson) (*Catalog, error) {
	c := &Catalog{
		modules:  make([]Module, 0, len(modules)),
		lessons:  make(map[string]Lesson, len(lessons)),
		position: make(map[string]int, len(lessons)),
	}

	for _, l := range lessons {
		if l.ID == "" {
			return nil, fmt.Errorf("lesson with empty id")
		}
		if _, dup := c.lessons[l.ID]; dup {
			return nil, fmt.Errorf("duplicate lesson id %q", l.ID)
		}
		if err := validatePayload(l); err != nil {
			return nil, fmt.Errorf("lesson %q: %w", l.ID, err)
		}
		c.lessons[l.ID] = cloneLesson(l)
	}

	seenModules := make(map[string]bool, len(modules))
	for _, m := range modules {
		if m.ID == "" {
			return nil, fmt.Errorf("module with empty id")
		}
		if seenModules[m.ID] {
			return nil, fmt.Errorf("duplicate module id %q", m.ID)
		}
		seenModules[m.ID] = true

		for _, id := range m.LessonIDs {
			l, ok := c.lessons[id]
			if !ok {
				return nil, fmt.Errorf("module %q lists unknown lesson %q", m.ID, id)
			}
			if _, listed := c.position[id]; listed {
				return nil, fmt.Errorf("lesson %q listed by more than one module", id)
			}
			l.ModuleID = m.ID
			c.lessons[id] = l
			c.position[id] = len(c.order)
			c.order = append(c.order, id)
		}

		m.LessonIDs = slices.Clone(m.LessonIDs)
		c.modules = append(c.modules, m)
	}

	if len(c.order) != len(c.lessons) {
		return nil, fmt.Errorf("%d lessons are not listed by any module", len(c.lessons)-len(c.order))
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("catalog has no lessons")
	}

	return c, nil
}

func validatePayload(l Lesson) error {
	switch p := l.Payload.(type) {
	case ContentPayload:
		return nil
	case QuizPayload:
		if len(p.Questions) == 0 {
			return fmt.Errorf("quiz has no questions")
		}
		for i, q := range p.Questions {
			if !slices.Contains(q.Options, q.CorrectAnswer) {
				return fmt.Errorf("question %d: correct answer %q is not an option", i, q.CorrectAnswer)
			}
		}
		return nil
	case ExercisePayload:
		if p.EvaluationPrompt == "" {
			return fmt.Errorf("exercise has no evaluation prompt")
		}
		return nil
	case nil:
		return fmt.Errorf("missing payload")
	default:
		return fmt.Errorf("unsupported payload %T", p)
	}
}

// ModuleCount returns the number of modules.
func (c *Catalog) ModuleCount() int {
	return len(c.modules)
}

// ModuleAt returns the module at the given zero-based position.
func (c *Catalog) ModuleAt(index int) (Module, error) {
	if index < 0 || index >= len(c.modules) {
		return Module{}, fmt.Errorf("module index %d: %w", index, apperr.ErrNotFound)
	}
	m := c.modules[index]
	m.LessonIDs = slices.Clone(m.LessonIDs)
	return m, nil
}

// Modules returns all modules in order.
func (c *Catalog) Modules() []Module {
	out := make([]Module, len(c.modules))
	for i, m := range c.modules {
		m.LessonIDs = slices.Clone(m.LessonIDs)
		out[i] = m
	}
	return out
}

// LessonByID returns the lesson with the given id.
func (c *Catalog) LessonByID(id string) (Lesson, error) {
	l, ok := c.lessons[id]
	if !ok {
		return Lesson{}, fmt.Errorf("lesson %q: %w", id, apperr.ErrNotFound)
	}
	return cloneLesson(l), nil
}

// Lessons returns every lesson in catalog order.
func (c *Catalog) Lessons() []Lesson {
	out := make([]Lesson, len(c.order))
	for i, id := range c.order {
		out[i] = cloneLesson(c.lessons[id])
	}
	return out
}

// cloneLesson copies the slices of a quiz payload so callers cannot reach
// the catalog's own questions.
func cloneLesson(l Lesson) Lesson {
	q, ok := l.Payload.(QuizPayload)
	if !ok {
		return l
	}
	questions := make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = slices.Clone(question.Options)
		questions[i] = question
	}
	l.Payload = QuizPayload{Questions: questions}
	return l
}

// LessonCount returns the total number of lessons across all modules.
func (c *Catalog) LessonCount() int {
	return len(c.order)
}

// FirstLessonID returns the first lesson of the first module.
func (c *Catalog) FirstLessonID() string {
	return c.order[0]
}

// FinalLessonID returns the last lesson of the last module.
func (c *Catalog) FinalLessonID() string {
	return c.order[len(c.order)-1]
}

// NextLessonID returns the lesson after currentID, crossing into the next
// module when currentID ends its module. It fails with ErrNotFound for an
// unknown id or the catalog's final lesson.
func (c *Catalog) NextLessonID(currentID string) (string, error) {
	pos, ok := c.position[currentID]
	if !ok {
		return "", fmt.Errorf("lesson %q: %w", currentID, apperr.ErrNotFound)
	}
	if pos == len(c.order)-1 {
		return "", fmt.Errorf("no lesson after %q: %w", currentID, apperr.ErrNotFound)
	}
	return c.order[pos+1], nil
}

// PreviousLessonID returns the lesson before currentID. It fails with
// ErrNotFound for an unknown id or the catalog's first lesson.
func (c *Catalog) PreviousLessonID(currentID string) (string, error) {
	pos, ok := c.position[currentID]
	if !ok {
		return "", fmt.Errorf("lesson %q: %w", currentID, apperr.ErrNotFound)
	}
	if pos == 0 {
		return "", fmt.Errorf("no lesson before %q: %w", currentID, apperr.ErrNotFound)
	}
	return c.order[pos-1], nil
}
