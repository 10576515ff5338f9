// Package jail confines user-supplied paths to a session's workspace root.
//
// Every component that derives a filesystem path from terminal input or an
// API request resolves it through this package before trusting it. The check
// is a lexical prefix check after cleaning; symlinks inside the workspace are
// not canonicalized (a deliberate, documented limitation).
package jail

import (
	"path/filepath"
	"strings"
)

// Resolve resolves candidate (absolute, or relative to cwd) and checks that
// the result stays inside root. On success it returns the workspace-relative,
// forward-slash-normalized path and true. If the resolved path escapes root
// it returns "", false.
//
// Resolve is pure: it never touches the filesystem.
func Resolve(root, cwd, candidate string) (string, bool) {
	if root == "" || candidate == "" {
		return "", false
	}
	abs := candidate
	if !filepath.IsAbs(abs) {
		if cwd == "" {
			cwd = root
		}
		abs = filepath.Join(cwd, abs)
	}
	abs = filepath.Clean(abs)
	root = filepath.Clean(root)

	if abs == root {
		return ".", true
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", false
	}
	rel := strings.TrimPrefix(abs, root+string(filepath.Separator))
	return filepath.ToSlash(rel), true
}

// CleanRel validates a database-relative path: forward slashes, no leading
// slash, and no ".." segment that would climb past the workspace root.
// It returns the cleaned path and whether it is acceptable.
func CleanRel(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	p := filepath.ToSlash(path)
	p = strings.TrimPrefix(p, "./")
	if strings.HasPrefix(p, "/") {
		return "", false
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}
