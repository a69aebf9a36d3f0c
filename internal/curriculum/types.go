package curriculum

// Kind is the lesson kind tag. It determines the payload shape and the
// completion rule applied by the progress tracker.
type Kind string

const (
	KindContent  Kind = "content"
	KindQuiz     Kind = "quiz"
	KindExercise Kind = "exercise"
)

// Payload is the kind-specific body of a lesson. The set of implementations
// is closed: ContentPayload, QuizPayload and ExercisePayload.
type Payload interface {
	kind() Kind
}

// ContentPayload is display content. The engine never interprets it.
type ContentPayload struct {
	Body string `json:"body"`
}

// QuizPayload is an ordered list of multiple-choice questions.
type QuizPayload struct {
	Questions []Question `json:"questions"`
}

// Question is a single multiple-choice question. CorrectAnswer is always one
// of Options.
type Question struct {
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// ExercisePayload is a free-form task graded by the external evaluator.
type ExercisePayload struct {
	Prompt           string `json:"prompt"`
	EvaluationPrompt string `json:"evaluation_prompt"` // rubric sent to the evaluator
	InitialCode      string `json:"initial_code,omitempty"`
}

func (ContentPayload) kind() Kind  { return KindContent }
func (QuizPayload) kind() Kind     { return KindQuiz }
func (ExercisePayload) kind() Kind { return KindExercise }

// Lesson is one step of a module.
type Lesson struct {
	ID               string
	ModuleID         string
	Title            string
	EstimatedMinutes int
	Payload          Payload
}

// Kind returns the lesson kind derived from its payload.
func (l Lesson) Kind() Kind {
	if l.Payload == nil {
		return ""
	}
	return l.Payload.kind()
}

// Module is an ordered group of lessons.
type Module struct {
	ID          string
	Title       string
	Description string
	LessonIDs   []string
}
