package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/manavgt54/AI-IDE/internal/database"
	"github.com/manavgt54/AI-IDE/internal/jail"
	"github.com/manavgt54/AI-IDE/internal/logutil"
	"github.com/manavgt54/AI-IDE/internal/workspace"
)

type fileMeta struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type saveFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64-encoded
}

type mkdirRequest struct {
	Path string `json:"path"`
}

// ListFiles returns the metadata of every file record for a session.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	recs, err := database.ListFilesBySession(sessionID)
	if err != nil {
		log.Printf("files: list %s: %v", logutil.SanitizeForLog(sessionID), err)
		writeError(w, http.StatusInternalServerError, "Failed to list files")
		return
	}
	files := make([]fileMeta, len(recs))
	for i, rec := range recs {
		files[i] = fileMeta{
			Path:      rec.Path,
			Size:      rec.Size,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

// ReadFile returns one file's content, base64-encoded.
func (h *Handlers) ReadFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	path := r.URL.Query().Get("path")

	content, err := database.ReadFileByName(sessionID, path)
	switch {
	case errors.Is(err, database.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "File not found")
		return
	case errors.Is(err, database.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "Invalid path")
		return
	case err != nil:
		log.Printf("files: read %s: %v", logutil.SanitizeForLog(sessionID), err)
		writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(content),
	})
}

// SaveFile upserts a file record and immediately projects it onto the
// session's on-disk workspace so an open shell sees the edit without waiting
// for the reconciliation pass.
func (h *Handlers) SaveFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req saveFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid base64 content")
		return
	}

	if err := database.SaveFile(sessionID, req.Path, content); err != nil {
		switch {
		case errors.Is(err, database.ErrInvalidPath):
			writeError(w, http.StatusBadRequest, "Invalid path")
		case errors.Is(err, database.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "File exceeds maximum size")
		case errors.Is(err, database.ErrExcludedPath):
			writeError(w, http.StatusUnprocessableEntity, "Path is excluded from persistence")
		default:
			log.Printf("files: save %s: %v", logutil.SanitizeForLog(sessionID), err)
			writeError(w, http.StatusInternalServerError, "Failed to save file")
		}
		return
	}

	if err := workspace.Propagate(sessionID, req.Path, content); err != nil {
		// Best-effort: the record is durable; disk catches up on reconcile.
		log.Printf("files: propagate %s/%s: %v",
			logutil.SanitizeForLog(sessionID), logutil.SanitizeForLog(req.Path), err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Mkdir records a folder placeholder and creates the directory on disk.
func (h *Handlers) Mkdir(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req mkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rel, ok := jail.CleanRel(req.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid path")
		return
	}

	if err := database.SaveFile(sessionID, rel+"/.folder", []byte{}); err != nil {
		log.Printf("files: mkdir %s: %v", logutil.SanitizeForLog(sessionID), err)
		writeError(w, http.StatusInternalServerError, "Failed to create folder")
		return
	}
	if err := workspace.Propagate(sessionID, rel+"/.folder", []byte{}); err != nil {
		log.Printf("files: mkdir propagate %s: %v", logutil.SanitizeForLog(sessionID), err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteFile removes a file record, or a whole folder prefix when
// recursive=true, and best-effort removes the on-disk projection.
func (h *Handlers) DeleteFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	path := r.URL.Query().Get("path")
	recursive := r.URL.Query().Get("recursive") == "true"

	rel, ok := jail.CleanRel(path)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid path")
		return
	}

	var err error
	if recursive {
		err = database.DeleteFolder(sessionID, rel)
	} else {
		err = database.DeleteFileByName(sessionID, rel)
	}
	if err != nil {
		log.Printf("files: delete %s/%s: %v",
			logutil.SanitizeForLog(sessionID), logutil.SanitizeForLog(rel), err)
		writeError(w, http.StatusInternalServerError, "Failed to delete")
		return
	}

	onDisk := filepath.Join(workspace.SessionRoot(sessionID), filepath.FromSlash(rel))
	if recursive {
		os.RemoveAll(onDisk)
	} else {
		os.Remove(onDisk)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteSession destroys the live session (killing its PTY), cascades the
// file records, and removes the on-disk workspace.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.Sessions.Destroy(sessionID); err != nil {
		log.Printf("session %s: destroy: %v", logutil.SanitizeForLog(sessionID), err)
	}
	if err := database.DeleteSession(sessionID); err != nil {
		log.Printf("session %s: cascade delete: %v", logutil.SanitizeForLog(sessionID), err)
		writeError(w, http.StatusInternalServerError, "Failed to delete session files")
		return
	}
	if err := workspace.RemoveAll(sessionID); err != nil {
		log.Printf("session %s: workspace cleanup: %v", logutil.SanitizeForLog(sessionID), err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
