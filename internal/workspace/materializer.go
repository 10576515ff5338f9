// Package workspace projects database file records onto per-session on-disk
// directory trees, and propagates shell-driven disk mutations back to the
// database through a background sync queue.
//
// The database is the source of truth. Hydration is one-way (DB to disk) and
// best-effort: a single unreadable or unwritable file is logged and skipped,
// never fatal to the pass. The disk may transiently hold files that are not
// persisted (freshly installed dependencies, build output); full
// bidirectional sync is deliberately not attempted.
package workspace

import (
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/manavgt54/AI-IDE/internal/config"
	"github.com/manavgt54/AI-IDE/internal/database"
	"github.com/manavgt54/AI-IDE/internal/jail"
	"github.com/manavgt54/AI-IDE/internal/logutil"
)

// SessionRoot returns the on-disk workspace root for a session identifier.
// The identifier is sanitized so it can never influence the directory layout;
// when sanitization changes it, a hash of the original is appended so two
// distinct identifiers can never share a workspace.
func SessionRoot(sessionID string) string {
	var b strings.Builder
	b.Grow(len(sessionID))
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name != sessionID || name == "" {
		h := fnv.New32a()
		h.Write([]byte(sessionID))
		if name != "" {
			name += "-"
		}
		name = fmt.Sprintf("%s%08x", name, h.Sum32())
	}
	return filepath.Join(config.Cfg.WorkspaceRoot, name)
}

// Hydrate materializes every file record for the session under its workspace
// root, creating parent directories as needed. Records with absent content
// are skipped. It returns the directory the session's shell should start in:
// normally the workspace root, but when the workspace contains exactly one
// top-level directory and no root-level files (the shape of an unzipped
// project upload) that directory is treated as the project root.
func Hydrate(sessionID string) (string, error) {
	root := SessionRoot(sessionID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}

	recs, err := database.ListFilesBySession(sessionID)
	if err != nil {
		return "", fmt.Errorf("list files: %w", err)
	}

	for _, rec := range recs {
		// Absent content is skipped, not failed. A nil slice with Size 0 is
		// just an empty file (sqlite can scan an empty blob back as nil).
		if rec.Content == nil && rec.Size > 0 {
			continue
		}
		if err := writeRecord(root, rec.Path, rec.Content); err != nil {
			log.Printf("workspace: hydrate %s/%s: %v",
				logutil.SanitizeForLog(sessionID), logutil.SanitizeForLog(rec.Path), err)
		}
	}

	return detectProjectRoot(root), nil
}

// Propagate writes a single file record's content to its on-disk path so the
// terminal sees edits made through the file API without waiting for the next
// reconciliation pass.
func Propagate(sessionID, relPath string, content []byte) error {
	rel, ok := jail.CleanRel(relPath)
	if !ok {
		return fmt.Errorf("%w: %q", database.ErrInvalidPath, relPath)
	}
	root := SessionRoot(sessionID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	return writeRecord(root, rel, content)
}

// Reconcile re-hydrates every listed session. Used by the low-frequency
// reconciliation pass; individual failures are logged and skipped.
func Reconcile(sessionIDs []string) {
	for _, id := range sessionIDs {
		if _, err := Hydrate(id); err != nil {
			log.Printf("workspace: reconcile %s: %v", logutil.SanitizeForLog(id), err)
		}
	}
}

// RemoveAll deletes a session's on-disk workspace tree.
func RemoveAll(sessionID string) error {
	return os.RemoveAll(SessionRoot(sessionID))
}

func writeRecord(root, rel string, content []byte) error {
	// The ".folder" placeholder marks an empty directory; materialize the
	// directory itself rather than a zero-byte file.
	if filepath.Base(rel) == ".folder" {
		return os.MkdirAll(filepath.Join(root, filepath.Dir(rel)), 0755)
	}
	dst := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	if err := os.WriteFile(dst, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// detectProjectRoot returns the single top-level directory when the workspace
// root contains exactly one directory and zero files, else the root itself.
func detectProjectRoot(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return root
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		} else {
			return root
		}
	}
	if len(dirs) == 1 {
		return filepath.Join(root, dirs[0])
	}
	return root
}
