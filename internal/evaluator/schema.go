package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-academy/internal/apperr"
)

// verdictSchema is the contract every judge response must satisfy.
var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdict": map[string]any{
			"type":        "string",
			"enum":        []any{string(Pass), string(Fail)},
			"description": "pass when the submission satisfies every rubric criterion, otherwise fail",
		},
		"feedback": map[string]any{
			"type":        "string",
			"description": "short explanation addressed to the learner",
		},
	},
	"required": []any{"verdict"},
}

var compiledVerdictSchema = mustCompile(verdictSchema)

func mustCompile(schema map[string]any) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("compiling verdict schema: %v", err))
	}
	return s
}

// parseVerdict validates raw judge output and decodes it. Models sometimes
// wrap JSON in a markdown fence, which is stripped first.
func parseVerdict(raw string) (Verdict, error) {
	body := stripFence(raw)
	if body == "" {
		return Verdict{}, fmt.Errorf("%w: empty response", apperr.ErrGradingError)
	}

	result, err := compiledVerdictSchema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: response is not JSON: %v", apperr.ErrGradingError, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return Verdict{}, fmt.Errorf("%w: %s", apperr.ErrGradingError, strings.Join(problems, "; "))
	}

	var v Verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: decoding verdict: %v", apperr.ErrGradingError, err)
	}
	return v, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // language tag
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
