package workspace

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/manavgt54/AI-IDE/internal/config"
	"github.com/manavgt54/AI-IDE/internal/database"
)

func setup(t *testing.T) {
	t.Helper()
	base := t.TempDir()
	config.Cfg = config.Settings{
		DatabasePath:  filepath.Join(base, "test.db"),
		WorkspaceRoot: filepath.Join(base, "workspaces"),
		MaxFileSize:   1 << 20,
		ExcludeDirs:   []string{"node_modules", ".git"},
	}
	if err := database.Init(); err != nil {
		t.Fatalf("database.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })
}

func TestSessionRootSanitizes(t *testing.T) {
	config.Cfg.WorkspaceRoot = "/work"

	// Identifiers that need no sanitization map verbatim.
	if got := SessionRoot("abc-123"); got != "/work/abc-123" {
		t.Errorf("SessionRoot(abc-123) = %q", got)
	}

	// Sanitized identifiers stay directly under the workspace root and
	// contain only safe characters.
	safe := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	for _, id := range []string{"../../etc", "a/b", "", "x y z"} {
		got := SessionRoot(id)
		if filepath.Dir(got) != "/work" {
			t.Errorf("SessionRoot(%q) = %q, escapes the workspace root", id, got)
		}
		if !safe.MatchString(filepath.Base(got)) {
			t.Errorf("SessionRoot(%q) = %q, unsafe characters in base name", id, got)
		}
	}

	// Distinct identifiers never collide, even when sanitization maps
	// their characters to the same replacement.
	if SessionRoot("a/b") == SessionRoot("a_b") {
		t.Error("SessionRoot(a/b) collides with SessionRoot(a_b)")
	}
	if SessionRoot("a/b") == SessionRoot("a.b") {
		t.Error("SessionRoot(a/b) collides with SessionRoot(a.b)")
	}
}

func TestHydrateWritesRecords(t *testing.T) {
	setup(t)

	files := map[string][]byte{
		"main.py":        []byte("print('hi')\n"),
		"src/util.py":    []byte("def f():\n    pass\n"),
		"data/blob.bin":  {0x00, 0xff, 0x42},
		"notes/.folder":  {},
		"root-file.txt":  []byte("keeps cwd at root"),
	}
	for p, c := range files {
		if err := database.SaveFile("sess1", p, c); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	cwd, err := Hydrate("sess1")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	root := SessionRoot("sess1")
	if cwd != root {
		t.Errorf("cwd = %q, want workspace root %q (root-level file present)", cwd, root)
	}

	for p, want := range files {
		if filepath.Base(p) == ".folder" {
			info, err := os.Stat(filepath.Join(root, filepath.Dir(p)))
			if err != nil || !info.IsDir() {
				t.Errorf("placeholder %s: expected directory, err=%v", p, err)
			}
			continue
		}
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s: content mismatch", p)
		}
	}
}

func TestHydrateSkipsAbsentContent(t *testing.T) {
	setup(t)

	// A record with null content and a non-zero size claim is unreadable;
	// hydration must skip it rather than fail the pass.
	rec := database.FileRecord{SessionID: "sess1", Path: "ghost.txt", Content: nil, Size: 10}
	if err := database.DB.Create(&rec).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := database.SaveFile("sess1", "real.txt", []byte("ok")); err != nil {
		t.Fatalf("seed real: %v", err)
	}

	if _, err := Hydrate("sess1"); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	root := SessionRoot("sess1")
	if _, err := os.Stat(filepath.Join(root, "ghost.txt")); !os.IsNotExist(err) {
		t.Errorf("ghost.txt should not exist on disk")
	}
	if _, err := os.Stat(filepath.Join(root, "real.txt")); err != nil {
		t.Errorf("real.txt missing: %v", err)
	}
}

func TestHydrateDetectsProjectRoot(t *testing.T) {
	setup(t)

	database.SaveFile("sess1", "myproj/package.json", []byte("{}"))
	database.SaveFile("sess1", "myproj/index.js", []byte("console.log(1)"))

	cwd, err := Hydrate("sess1")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	want := filepath.Join(SessionRoot("sess1"), "myproj")
	if cwd != want {
		t.Errorf("cwd = %q, want project dir %q", cwd, want)
	}
}

func TestPropagate(t *testing.T) {
	setup(t)

	if err := Propagate("sess1", "a/b/c.txt", []byte("fresh")); err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(SessionRoot("sess1"), "a", "b", "c.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "fresh" {
		t.Errorf("content = %q", got)
	}

	if err := Propagate("sess1", "../escape.txt", []byte("x")); err == nil {
		t.Error("expected error for escaping path")
	}
}

func TestReconcileRefreshesDisk(t *testing.T) {
	setup(t)

	database.SaveFile("sess1", "file.txt", []byte("v1"))
	if _, err := Hydrate("sess1"); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	database.SaveFile("sess1", "file.txt", []byte("v2"))
	Reconcile([]string{"sess1"})

	got, err := os.ReadFile(filepath.Join(SessionRoot("sess1"), "file.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("content = %q, want reconciled v2", got)
	}
}
