// Package curriculumtest provides a small fixed catalog for tests.
package curriculumtest

import (
	"testing"

	"github.com/p-n-ai/pai-academy/internal/curriculum"
)

// Lesson ids of the fixture, in catalog order.
const (
	Intro    = "1-1" // content
	Quiz     = "1-2" // quiz, two questions
	Exercise = "2-1" // exercise, pet JSON rubric
	Outro    = "2-2" // content, final lesson
)

// PetRubric is the evaluation prompt of the Exercise lesson.
const PetRubric = "The user is trying to create a simple JSON object for a pet with a 'name' (string) " +
	"and 'age' (number) key. The JSON must be valid. The name must be a string and the age must be a number."

// Catalog returns the fixture catalog, failing t if it cannot be built.
func Catalog(t testing.TB) *curriculum.Catalog {
	t.Helper()
	c, err := curriculum.New(Modules(), Lessons())
	if err != nil {
		t.Fatalf("building fixture catalog: %v", err)
	}
	return c
}

// Modules returns the fixture modules.
func Modules() []curriculum.Module {
	return []curriculum.Module{
		{ID: "module-1", Title: "Basics", Description: "Vending machines and arithmetic", LessonIDs: []string{Intro, Quiz}},
		{ID: "module-2", Title: "Data", Description: "Working with JSON", LessonIDs: []string{Exercise, Outro}},
	}
}

// Lessons returns the fixture lessons.
func Lessons() []curriculum.Lesson {
	return []curriculum.Lesson{
		{ID: Intro, Title: "What is a program?", EstimatedMinutes: 3,
			Payload: curriculum.ContentPayload{Body: "A program is a list of instructions."}},
		{ID: Quiz, Title: "Check yourself", EstimatedMinutes: 2,
			Payload: curriculum.QuizPayload{Questions: []curriculum.Question{
				{Prompt: "What is 2 + 2?", Options: []string{"3", "4"}, CorrectAnswer: "4"},
				{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris"},
			}}},
		{ID: Exercise, Title: "Describe a pet", EstimatedMinutes: 5,
			Payload: curriculum.ExercisePayload{
				Prompt:           "Write a JSON object for a pet with a name and an age.",
				EvaluationPrompt: PetRubric,
				InitialCode:      "{\n  \"name\": \"Fido\",\n  \"age\": 5\n}",
			}},
		{ID: Outro, Title: "Wrap up", EstimatedMinutes: 1,
			Payload: curriculum.ContentPayload{Body: "Well done."}},
	}
}
