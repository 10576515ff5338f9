package session

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/manavgt54/AI-IDE/internal/config"
	"github.com/manavgt54/AI-IDE/internal/database"
	"github.com/manavgt54/AI-IDE/internal/mediator"
	"github.com/manavgt54/AI-IDE/internal/workspace"
)

// fakeTransport records everything the session pushes at it.
type fakeTransport struct {
	mu     sync.Mutex
	out    bytes.Buffer
	exited bool
	code   int
	closed bool
}

func (f *fakeTransport) Output(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out.Write(p)
	return nil
}

func (f *fakeTransport) Exit(code int, signal string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
	f.code = code
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) OutputString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	base := t.TempDir()
	config.Cfg = config.Settings{
		DatabasePath:  filepath.Join(base, "test.db"),
		WorkspaceRoot: filepath.Join(base, "workspaces"),
		ShellPath:     "/bin/sh",
		MaxFileSize:   1 << 20,
		ExcludeDirs:   []string{"node_modules", ".git"},
	}
	if err := database.Init(); err != nil {
		t.Fatalf("database.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	q := workspace.NewSyncQueue()
	t.Cleanup(q.Stop)

	med, err := mediator.New(q)
	if err != nil {
		t.Fatalf("mediator.New: %v", err)
	}

	m := NewManager(med)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCreateOrAttachSpawnsOnce(t *testing.T) {
	m := newTestManager(t)

	t1 := &fakeTransport{}
	s1, restored, _, err := m.CreateOrAttach("sess1", t1)
	if err != nil {
		t.Fatalf("CreateOrAttach: %v", err)
	}
	if restored {
		t.Error("first create reported restored")
	}
	pid := s1.Pid()
	if pid == 0 {
		t.Fatal("no pty process spawned")
	}

	t2 := &fakeTransport{}
	s2, restored, _, err := m.CreateOrAttach("sess1", t2)
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if !restored {
		t.Error("second attach should report restored")
	}
	if s2.Pid() != pid {
		t.Errorf("second attach spawned a new pty: pid %d != %d", s2.Pid(), pid)
	}
	if !t1.Closed() {
		t.Error("superseded transport should be closed")
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
}

func TestInputRoundTrip(t *testing.T) {
	m := newTestManager(t)

	ft := &fakeTransport{}
	if _, _, _, err := m.CreateOrAttach("sess1", ft); err != nil {
		t.Fatalf("CreateOrAttach: %v", err)
	}

	if err := m.Input("sess1", []byte("echo roundtrip-marker\r")); err != nil {
		t.Fatalf("Input: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(ft.OutputString(), "roundtrip-marker")
	})
}

func TestInputBlockedLine(t *testing.T) {
	m := newTestManager(t)

	ft := &fakeTransport{}
	if _, _, _, err := m.CreateOrAttach("sess1", ft); err != nil {
		t.Fatalf("CreateOrAttach: %v", err)
	}

	if err := m.Input("sess1", []byte("cd /app\r")); err != nil {
		t.Fatalf("Input: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(ft.OutputString(), "application root")
	})
}

func TestInputUnknownSession(t *testing.T) {
	m := newTestManager(t)

	err := m.Input("nope", []byte("ls\r"))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInputBeforeReady(t *testing.T) {
	m := newTestManager(t)

	// A registered session whose PTY has not finished spawning rejects
	// input with a typed error instead of writing to a nil PTY.
	s := &Session{ID: "pending", history: newScrollback(0), done: make(chan struct{})}
	m.mu.Lock()
	m.sessions["pending"] = s
	m.mu.Unlock()

	if err := m.Input("pending", []byte("ls\r")); !errors.Is(err, ErrTerminalNotReady) {
		t.Errorf("expected ErrTerminalNotReady, got %v", err)
	}
}

func TestDetachKeepsPtyAlive(t *testing.T) {
	m := newTestManager(t)

	ft := &fakeTransport{}
	s, _, _, err := m.CreateOrAttach("sess1", ft)
	if err != nil {
		t.Fatalf("CreateOrAttach: %v", err)
	}

	s.Detach(ft)
	if s.Attached() {
		t.Error("still attached after Detach")
	}

	select {
	case <-s.Done():
		t.Fatal("pty exited on detach")
	case <-time.After(100 * time.Millisecond):
	}

	ft2 := &fakeTransport{}
	s2, restored, _, err := m.CreateOrAttach("sess1", ft2)
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if !restored || s2 != s {
		t.Error("reattach should return the same live session")
	}
}

func TestReconnectReplaysScrollback(t *testing.T) {
	m := newTestManager(t)

	ft := &fakeTransport{}
	s, _, _, err := m.CreateOrAttach("sess1", ft)
	if err != nil {
		t.Fatalf("CreateOrAttach: %v", err)
	}

	if err := m.Input("sess1", []byte("echo replay-me\r")); err != nil {
		t.Fatalf("Input: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(ft.OutputString(), "replay-me")
	})
	s.Detach(ft)

	_, restored, replay, err := m.CreateOrAttach("sess1", &fakeTransport{})
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if !restored {
		t.Fatal("expected restored session")
	}
	if !strings.Contains(string(replay), "replay-me") {
		t.Error("replay buffer missing earlier output")
	}
}

func TestDestroy(t *testing.T) {
	m := newTestManager(t)

	ft := &fakeTransport{}
	s, _, _, err := m.CreateOrAttach("sess1", ft)
	if err != nil {
		t.Fatalf("CreateOrAttach: %v", err)
	}

	if err := m.Destroy("sess1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d after destroy, want 0", m.Count())
	}
	if !ft.Closed() {
		t.Error("transport should be closed on destroy")
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pty did not exit after destroy")
	}

	// Destroying an absent session is a no-op success.
	if err := m.Destroy("sess1"); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}

func TestCleanupIdle(t *testing.T) {
	m := newTestManager(t)

	ft := &fakeTransport{}
	s, _, _, err := m.CreateOrAttach("sess1", ft)
	if err != nil {
		t.Fatalf("CreateOrAttach: %v", err)
	}

	// Attached sessions are never cleaned.
	if n := m.CleanupIdle(time.Nanosecond); n != 0 {
		t.Errorf("cleaned %d attached sessions", n)
	}

	s.Detach(ft)
	time.Sleep(50 * time.Millisecond)
	if n := m.CleanupIdle(10 * time.Millisecond); n != 1 {
		t.Errorf("cleaned %d sessions, want 1", n)
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d after cleanup, want 0", m.Count())
	}
}

func TestResizeBeforeSpawn(t *testing.T) {
	s := &Session{history: newScrollback(0), done: make(chan struct{})}
	if err := s.Resize(80, 24); !errors.Is(err, ErrTerminalNotReady) {
		t.Errorf("expected ErrTerminalNotReady, got %v", err)
	}
}

func TestShutdownBounded(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, _, _, err := m.CreateOrAttach(id, &fakeTransport{}); err != nil {
			t.Fatalf("CreateOrAttach %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	if m.Count() != 0 {
		t.Errorf("Count = %d after shutdown, want 0", m.Count())
	}
}
