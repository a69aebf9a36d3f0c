package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/p-n-ai/pai-academy/internal/apperr"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

type quizRequest struct {
	// Answers maps a question index, as a decimal string, to the chosen option.
	Answers map[string]string `json:"answers"`
}

type quizResponse struct {
	Attempt  progress.QuizAttempt `json:"attempt"`
	Progress progress.Record      `json:"progress"`
}

type exerciseRequest struct {
	Submission string `json:"submission"`
}

type exerciseResponse struct {
	Verdict  progress.ExerciseVerdict `json:"verdict"`
	Progress progress.Record          `json:"progress"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCatalogJSON(h.catalog))
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := h.nav.GetProgress(r.Context(), r.PathValue("learner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	view, err := h.nav.View(r.Context(), r.PathValue("learner"), r.PathValue("lesson"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLessonViewJSON(view))
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	rec, err := h.nav.AcknowledgeContent(r.Context(), r.PathValue("learner"), r.PathValue("lesson"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleQuiz(w http.ResponseWriter, r *http.Request) {
	var req quizRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	answers, err := parseAnswers(req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.nav.SubmitQuiz(r.Context(), r.PathValue("learner"), r.PathValue("lesson"), answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizResponse{Attempt: out.Attempt, Progress: out.Progress})
}

func (h *Handler) handleExercise(w http.ResponseWriter, r *http.Request) {
	var req exerciseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	if h.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.evalTimeout)
		defer cancel()
	}

	learner, lesson := r.PathValue("learner"), r.PathValue("lesson")
	out, err := h.nav.SubmitExercise(ctx, learner, lesson, req.Submission)
	if err != nil {
		if apperr.Retryable(err) {
			slog.Warn("exercise grading unavailable", "learner_id", learner, "lesson_id", lesson, "error", err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exerciseResponse{Verdict: out.Verdict, Progress: out.Progress})
}

// parseAnswers converts wire answer keys to question indexes. A key that is
// not a non-negative integer is an invalid answer.
func parseAnswers(in map[string]string) (map[int]string, error) {
	out := make(map[int]string, len(in))
	for k, v := range in {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("answer key %q is not a question index: %w", k, apperr.ErrInvalidAnswer)
		}
		out[i] = v
	}
	return out, nil
}
