package session

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/manavgt54/AI-IDE/internal/config"
	"github.com/manavgt54/AI-IDE/internal/logutil"
	"github.com/manavgt54/AI-IDE/internal/mediator"
	"github.com/manavgt54/AI-IDE/internal/workspace"
)

// ptyPath is the restricted PATH exported to session shells: standard system
// binary directories only.
const ptyPath = "/usr/local/bin:/usr/bin:/bin"

// Manager is the process-wide session registry: session identifier to live
// session. It owns PTY spawn and kill, transport attach and detach, and is
// the point of truth for whether a session is alive right now. The map is
// mutated from many concurrent connection handlers; per-session state is
// serialized by the session's own lock.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	med      *mediator.Mediator
}

func NewManager(med *mediator.Mediator) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		med:      med,
	}
}

// CreateOrAttach returns the live session for id, rebinding its transport to
// t, or creates one: workspace hydrated, PTY spawned with HOME and PWD pinned
// to the workspace root and a restricted PATH. restored is true when an
// existing PTY was reattached; replay carries buffered output the new
// transport missed. Calling it twice for the same live id never spawns a
// second PTY.
func (m *Manager) CreateOrAttach(id string, t Transport) (s *Session, restored bool, replay []byte, err error) {
	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		replay = existing.attach(t)
		return existing, true, replay, nil
	}

	// Insert a placeholder before releasing the registry lock so a
	// concurrent init for the same id attaches instead of double-spawning.
	s = &Session{
		ID:            id,
		WorkspaceRoot: workspace.SessionRoot(id),
		CreatedAt:     time.Now(),
		history:       newScrollback(0),
		done:          make(chan struct{}),
	}
	s.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	defer s.mu.Unlock()

	s.transport = t
	s.lastActivity = time.Now()

	initialCwd, err := workspace.Hydrate(id)
	if err != nil {
		m.remove(id)
		return nil, false, nil, fmt.Errorf("hydrate workspace: %w", err)
	}
	s.cwd = initialCwd

	cmd := exec.Command(config.Cfg.ShellPath)
	cmd.Dir = initialCwd
	cmd.Env = []string{
		"HOME=" + s.WorkspaceRoot,
		"PWD=" + initialCwd,
		"PATH=" + ptyPath,
		"TERM=xterm-256color",
		"LANG=C.UTF-8",
	}
	ptmx, err := pty.Start(cmd)
	if err != nil {
		m.remove(id)
		return nil, false, nil, fmt.Errorf("spawn pty: %w", err)
	}
	s.cmd = cmd
	s.ptmx = ptmx
	s.ready = true
	s.lastOutput = time.Now()

	go s.pump(func(code int, signal string) {
		m.onExit(s, code, signal)
	})

	log.Printf("session %s: pty spawned (pid %d, cwd %s)",
		logutil.SanitizeForLog(id), cmd.Process.Pid, initialCwd)
	return s, false, nil, nil
}

// Get returns the live session for id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Input forwards bytes to the session's PTY after mediation.
func (m *Manager) Input(id string, data []byte) error {
	s := m.Get(id)
	if s == nil {
		return ErrSessionNotFound
	}
	return s.feed(m.med, data)
}

// Destroy kills the session's PTY, closes any attached transport, and removes
// the registry entry. Destroying an absent session is a no-op success.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.kill()
	log.Printf("session %s: destroyed", logutil.SanitizeForLog(id))
	return nil
}

// ReadyIDs returns the identifiers of every ready session, for the workspace
// reconciliation pass.
func (m *Manager) ReadyIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.Ready() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CleanupIdle destroys detached sessions idle longer than timeout. A zero
// timeout disables cleanup.
func (m *Manager) CleanupIdle(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-timeout)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.transport == nil && s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		log.Printf("session %s: idle past %s, cleaning up", logutil.SanitizeForLog(id), timeout)
		m.Destroy(id)
	}
	return len(stale)
}

// Shutdown kills every live PTY and closes every attached transport, bounded
// by ctx. Called before the listening sockets close so no child processes
// are orphaned.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, s := range all {
			s.kill()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("session shutdown timed out with %d sessions pending", len(all))
	}
}

// onExit runs when a session's PTY process terminates on its own: the exit is
// reported to the attached transport and the registry entry removed.
func (m *Manager) onExit(s *Session, code int, signal string) {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.ready = false
	t := s.transport
	s.transport = nil
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.mu.Unlock()
	close(s.done)

	m.remove(s.ID)
	if alreadyClosed {
		return
	}
	log.Printf("session %s: pty exited (code %d)", logutil.SanitizeForLog(s.ID), code)
	if t != nil {
		t.Exit(code, signal)
		t.Close()
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
