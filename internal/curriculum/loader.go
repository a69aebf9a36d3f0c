package curriculum

import (
	"cmp"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// moduleFile is the on-disk YAML shape of one module.
type moduleFile struct {
	ID          string       `yaml:"id"`
	Order       int          `yaml:"order"`
	Title       string       `yaml:"title"`
	Description string       `yaml:"description"`
	Lessons     []lessonFile `yaml:"lessons"`
}

type lessonFile struct {
	ID               string        `yaml:"id"`
	Title            string        `yaml:"title"`
	Kind             Kind          `yaml:"kind"`
	EstimatedMinutes int           `yaml:"estimated_minutes"`
	Content          *string       `yaml:"content"`
	Quiz             *quizFile     `yaml:"quiz"`
	Exercise         *exerciseFile `yaml:"exercise"`
}

type quizFile struct {
	Questions []struct {
		Question      string   `yaml:"question"`
		Options       []string `yaml:"options"`
		CorrectAnswer string   `yaml:"correct_answer"`
	} `yaml:"questions"`
}

type exerciseFile struct {
	Prompt           string `yaml:"prompt"`
	EvaluationPrompt string `yaml:"evaluation_prompt"`
	InitialCode      string `yaml:"initial_code"`
}

// LoadDir reads every module YAML file under rootDir and builds a catalog.
// Modules are ordered by their order field, then by id. Files without a
// module id are ignored.
func LoadDir(rootDir string) (*Catalog, error) {
	var files []moduleFile

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		mf, err := readModuleFile(path)
		if err != nil {
			return err
		}
		if mf.ID == "" {
			slog.Debug("skipping non-module YAML", "path", path)
			return nil
		}
		files = append(files, mf)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slices.SortStableFunc(files, func(a, b moduleFile) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})

	var (
		modules []Module
		lessons []Lesson
	)
	for _, mf := range files {
		m := Module{ID: mf.ID, Title: mf.Title, Description: mf.Description}
		for _, lf := range mf.Lessons {
			l, err := lf.toLesson()
			if err != nil {
				return nil, fmt.Errorf("module %q: %w", mf.ID, err)
			}
			m.LessonIDs = append(m.LessonIDs, l.ID)
			lessons = append(lessons, l)
		}
		modules = append(modules, m)
	}

	catalog, err := New(modules, lessons)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}

	return catalog, nil
}

func readModuleFile(path string) (moduleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return moduleFile{}, err
	}
	var mf moduleFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return moduleFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return mf, nil
}

func (lf lessonFile) toLesson() (Lesson, error) {
	l := Lesson{
		ID:               lf.ID,
		Title:            lf.Title,
		EstimatedMinutes: lf.EstimatedMinutes,
	}

	payloads := 0
	for _, set := range []bool{lf.Content != nil, lf.Quiz != nil, lf.Exercise != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return Lesson{}, fmt.Errorf("lesson %q must have exactly one payload, has %d", lf.ID, payloads)
	}

	switch lf.Kind {
	case KindContent:
		if lf.Content == nil {
			return Lesson{}, fmt.Errorf("lesson %q: kind content without content", lf.ID)
		}
		l.Payload = ContentPayload{Body: *lf.Content}
	case KindQuiz:
		if lf.Quiz == nil {
			return Lesson{}, fmt.Errorf("lesson %q: kind quiz without quiz", lf.ID)
		}
		qp := QuizPayload{Questions: make([]Question, 0, len(lf.Quiz.Questions))}
		for _, q := range lf.Quiz.Questions {
			options := make([]string, len(q.Options))
			for i, o := range q.Options {
				options[i] = norm.NFC.String(o)
			}
			qp.Questions = append(qp.Questions, Question{
				Prompt:        q.Question,
				Options:       options,
				CorrectAnswer: norm.NFC.String(q.CorrectAnswer),
			})
		}
		l.Payload = qp
	case KindExercise:
		if lf.Exercise == nil {
			return Lesson{}, fmt.Errorf("lesson %q: kind exercise without exercise", lf.ID)
		}
		l.Payload = ExercisePayload{
			Prompt:           lf.Exercise.Prompt,
			EvaluationPrompt: strings.TrimSpace(lf.Exercise.EvaluationPrompt),
			InitialCode:      lf.Exercise.InitialCode,
		}
	default:
		return Lesson{}, fmt.Errorf("lesson %q: unknown kind %q", lf.ID, lf.Kind)
	}

	return l, nil
}
