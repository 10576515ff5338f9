package handlers

import "net/http"

// Health reports process liveness and the number of registered sessions.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.Sessions.Count(),
	})
}
