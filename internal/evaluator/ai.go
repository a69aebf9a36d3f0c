package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/p-n-ai/pai-academy/internal/ai"
)

const verdictToolName = "submit_verdict"

const graderSystemPrompt = "You are a strict but friendly programming instructor grading a learner's exercise. " +
	"Judge the submission only against the rubric. Answer by calling the submit_verdict tool."

// Completer is the part of the AI gateway the evaluator needs.
// *ai.Router satisfies it.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error)
}

// AIEvaluator grades submissions with an LLM through the AI gateway, forcing
// the answer through a tool call whose arguments follow the verdict schema.
type AIEvaluator struct {
	ai        Completer
	model     string
	maxTokens int
}

// AIOption configures an AIEvaluator.
type AIOption func(*AIEvaluator)

// WithGradingModel pins the model used for grading.
func WithGradingModel(model string) AIOption {
	return func(e *AIEvaluator) {
		e.model = model
	}
}

// NewAIEvaluator creates an evaluator backed by the given AI gateway.
func NewAIEvaluator(c Completer, opts ...AIOption) *AIEvaluator {
	e := &AIEvaluator{ai: c, maxTokens: 512}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *AIEvaluator) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	resp, err := e.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: graderSystemPrompt},
			{Role: "user", Content: buildGradingPrompt(req)},
		},
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Task:      ai.TaskGrading,
		Tool: &ai.Tool{
			Name:        verdictToolName,
			Description: "Record whether the submission passes the rubric, with feedback for the learner",
			Parameters:  verdictSchema,
		},
	})
	if err != nil {
		return Verdict{}, classifyTransport(ctx, err)
	}

	v, err := parseVerdict(resp.Content)
	if err != nil {
		slog.Warn("unusable grading response",
			"model", resp.Model,
			"error", err,
		)
		return Verdict{}, err
	}
	return v, nil
}

func buildGradingPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Rubric:\n")
	sb.WriteString(req.Rubric)
	sb.WriteString("\n\nSubmission:\n")
	fmt.Fprintf(&sb, "<<<\n%s\n>>>\n", req.Submission)
	return sb.String()
}
