package database

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/manavgt54/AI-IDE/internal/config"
)

func setupDB(t *testing.T) {
	t.Helper()
	config.Cfg = config.Settings{
		DatabasePath: filepath.Join(t.TempDir(), "test.db"),
		MaxFileSize:  1 << 20,
		ExcludeDirs:  []string{"node_modules", ".git", "dist"},
	}
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { Close() })
}

func TestSaveFileRoundTrip(t *testing.T) {
	setupDB(t)

	content := []byte("hello world\x00\x01binary")
	if err := SaveFile("s1", "a/b.txt", content); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	got, err := ReadFileByName("s1", "a/b.txt")
	if err != nil {
		t.Fatalf("ReadFileByName: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}
}

func TestSaveFileUpsert(t *testing.T) {
	setupDB(t)

	if err := SaveFile("s1", "main.py", []byte("v1")); err != nil {
		t.Fatalf("SaveFile v1: %v", err)
	}
	var first FileRecord
	if err := DB.Where("session_id = ? AND path = ?", "s1", "main.py").First(&first).Error; err != nil {
		t.Fatalf("load first: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := SaveFile("s1", "main.py", []byte("v2 longer content")); err != nil {
		t.Fatalf("SaveFile v2: %v", err)
	}

	var recs []FileRecord
	if err := DB.Where("session_id = ?", "s1").Find(&recs).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record after upsert, got %d", len(recs))
	}
	if string(recs[0].Content) != "v2 longer content" {
		t.Errorf("content = %q, want overwrite", recs[0].Content)
	}
	if recs[0].Size != int64(len("v2 longer content")) {
		t.Errorf("size = %d, want %d", recs[0].Size, len("v2 longer content"))
	}
	if !recs[0].UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt not bumped: %v -> %v", first.UpdatedAt, recs[0].UpdatedAt)
	}
}

func TestReadFileNotFound(t *testing.T) {
	setupDB(t)

	_, err := ReadFileByName("s1", "missing.txt")
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestSaveFileInvalidPath(t *testing.T) {
	setupDB(t)

	for _, p := range []string{"../escape.txt", "/abs.txt", "a/../../x"} {
		if err := SaveFile("s1", p, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("SaveFile(%q): expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestSaveFileTooLarge(t *testing.T) {
	setupDB(t)
	config.Cfg.MaxFileSize = 8

	err := SaveFile("s1", "big.bin", []byte("123456789"))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestSaveFileExcludedDir(t *testing.T) {
	setupDB(t)

	err := SaveFile("s1", "proj/node_modules/pkg/index.js", []byte("x"))
	if !errors.Is(err, ErrExcludedPath) {
		t.Errorf("expected ErrExcludedPath, got %v", err)
	}
}

func TestDeleteFolder(t *testing.T) {
	setupDB(t)

	seed := map[string][]byte{
		"f/x.txt":   []byte("x"),
		"f/y/z.txt": []byte("z"),
		"f/.folder": {},
		"other.txt": []byte("keep"),
		"foo/a.txt": []byte("keep too"),
	}
	for p, c := range seed {
		if err := SaveFile("s1", p, c); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	if err := DeleteFolder("s1", "f"); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}

	recs, err := ListFilesBySession("s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 surviving records, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Path != "other.txt" && rec.Path != "foo/a.txt" {
			t.Errorf("unexpected survivor %q", rec.Path)
		}
	}
}

func TestDeleteFolderWildcardNames(t *testing.T) {
	setupDB(t)

	// "_" and "%" are LIKE metacharacters; a folder name containing them
	// must match literally, not as wildcards.
	seed := map[string][]byte{
		"my_dir/a.txt":  []byte("a"),
		"myxdir/b.txt":  []byte("b"),
		"100%/done.txt": []byte("d"),
		"100x/keep.txt": []byte("k"),
	}
	for p, c := range seed {
		if err := SaveFile("s1", p, c); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	if err := DeleteFolder("s1", "my_dir"); err != nil {
		t.Fatalf("DeleteFolder my_dir: %v", err)
	}
	if _, err := ReadFileByName("s1", "myxdir/b.txt"); err != nil {
		t.Errorf("myxdir/b.txt should survive deleting my_dir: %v", err)
	}
	if _, err := ReadFileByName("s1", "my_dir/a.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("my_dir/a.txt should be gone, got %v", err)
	}

	if err := DeleteFolder("s1", "100%"); err != nil {
		t.Fatalf("DeleteFolder 100%%: %v", err)
	}
	if _, err := ReadFileByName("s1", "100x/keep.txt"); err != nil {
		t.Errorf("100x/keep.txt should survive deleting 100%%: %v", err)
	}
}

func TestDeleteSessionCascade(t *testing.T) {
	setupDB(t)

	SaveFile("s1", "a.txt", []byte("a"))
	SaveFile("s1", "b/c.txt", []byte("c"))
	SaveFile("s2", "keep.txt", []byte("k"))

	if err := DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	recs, _ := ListFilesBySession("s1")
	if len(recs) != 0 {
		t.Errorf("expected 0 records for s1, got %d", len(recs))
	}
	recs, _ = ListFilesBySession("s2")
	if len(recs) != 1 {
		t.Errorf("expected s2 untouched, got %d records", len(recs))
	}
}

func TestSessionsIsolated(t *testing.T) {
	setupDB(t)

	SaveFile("s1", "same.txt", []byte("one"))
	SaveFile("s2", "same.txt", []byte("two"))

	got, err := ReadFileByName("s2", "same.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "two" {
		t.Errorf("cross-session bleed: got %q", got)
	}
}
