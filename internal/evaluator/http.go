package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/p-n-ai/pai-academy/internal/apperr"
)

// maxResponseBytes caps how much of a judge response is read.
const maxResponseBytes = 1 << 20

// HTTPEvaluator posts {rubric, submission} to an external grading service and
// expects {verdict, feedback} back.
type HTTPEvaluator struct {
	url    string
	client *http.Client
}

// NewHTTPEvaluator creates an evaluator for the grading service at url.
// A nil client uses http.DefaultClient. Timeouts come from the caller's context.
func NewHTTPEvaluator(url string, client *http.Client) *HTTPEvaluator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEvaluator{url: url, client: client}
}

func (e *HTTPEvaluator) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: building request: %w", apperr.ErrEvaluatorUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Verdict{}, classifyTransport(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Verdict{}, classifyTransport(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Verdict{}, fmt.Errorf("%w: status %d: %s", apperr.ErrEvaluatorUnavailable, resp.StatusCode, truncate(respBody, 200))
	}

	return parseVerdict(string(respBody))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
