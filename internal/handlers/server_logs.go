package handlers

import (
	"net/http"
	"strconv"

	"github.com/manavgt54/AI-IDE/internal/logging"
)

const defaultLogLines = 200

// ServerLogs returns the tail of the gateway's own log file.
func (h *Handlers) ServerLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 10000 {
			writeError(w, http.StatusBadRequest, "Invalid lines parameter")
			return
		}
		n = parsed
	}

	tail, err := logging.ReadTail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": tail})
}
