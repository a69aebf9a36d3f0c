package httpapi

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// bearerToken extracts the credential from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (h *Handler) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.dashboard.Overview(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) handleAdminLearners(w http.ResponseWriter, r *http.Request) {
	rows, err := h.dashboard.Learners(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"learners": rows})
}

func (h *Handler) handleAdminAPIHealth(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.dashboard.APIHealth(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": statuses})
}

func (h *Handler) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	// Buffer so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.dashboard.Export(r.Context(), bearerToken(r), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="progress.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
