// Package session owns the process-wide registry of terminal sessions: one
// PTY process per session identifier, rooted at the session's workspace
// directory. The PTY survives transport disconnects so a client can
// reconnect to the same shell; it dies only on explicit destroy, process
// exit, or gateway shutdown.
package session

import (
	"bytes"
	"errors"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/manavgt54/AI-IDE/internal/logutil"
	"github.com/manavgt54/AI-IDE/internal/mediator"
)

// Sentinel errors reported to the transport as error events.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrTerminalNotReady = errors.New("terminal not ready")
)

// Control bytes written to the PTY during mediation.
const (
	ctrlInterrupt = 0x03 // ^C, soft watchdog nudge for hung foreground commands
	ctrlKillLine  = 0x15 // ^U, clears the shell's pending input line
)

// Session is one live terminal session. All mutable fields are guarded by mu;
// input handling, transport rebinding, and cwd updates for a single session
// are serialized through it.
type Session struct {
	ID            string
	WorkspaceRoot string
	CreatedAt     time.Time

	mu           sync.Mutex
	cwd          string
	ready        bool
	closed       bool
	transport    Transport
	ptmx         *os.File
	cmd          *exec.Cmd
	lineBuf      []byte
	history      *scrollback
	lastOutput   time.Time
	lastActivity time.Time
	watchdog     *time.Timer
	done         chan struct{}
}

// Cwd returns the session's tracked current working directory (absolute).
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Ready reports whether the PTY has finished initializing.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Attached reports whether a transport is currently bound.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// Pid returns the PTY child's process id, or 0 before spawn.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed when the PTY process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// attach rebinds the transport and returns buffered output to replay.
func (s *Session) attach(t Transport) []byte {
	s.mu.Lock()
	old := s.transport
	s.transport = t
	s.lastActivity = time.Now()
	s.mu.Unlock()
	if old != nil && old != t {
		old.Close()
	}
	return s.history.Snapshot()
}

// Detach unbinds the transport if it is still the given one. The PTY keeps
// running; a later reconnect picks it back up.
func (s *Session) Detach(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == t {
		s.transport = nil
		s.lastActivity = time.Now()
	}
}

// Resize changes the PTY dimensions.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return ErrTerminalNotReady
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// feed mediates and forwards one input message. Bytes stream to the PTY
// unchanged until a CR/LF completes a line; the completed line is then
// classified, and a blocked or redirected line is erased from the shell's
// pending input with kill-line before the substitute bytes are written.
func (s *Session) feed(med *mediator.Mediator, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrTerminalNotReady
	}

	rest := data
	for len(rest) > 0 {
		i := bytes.IndexAny(rest, "\r\n")
		if i < 0 {
			s.bufferKeystrokes(rest)
			return s.writePTY(rest)
		}

		s.bufferKeystrokes(rest[:i])
		line := string(s.lineBuf)
		s.lineBuf = s.lineBuf[:0]

		d := med.Inspect(s.ID, s.WorkspaceRoot, s.cwd, line)
		if d.NewCwd != "" {
			s.cwd = d.NewCwd
		}

		switch d.Verdict {
		case mediator.VerdictExecute:
			if err := s.writePTY(rest[:i+1]); err != nil {
				return err
			}
		case mediator.VerdictBlock:
			if err := s.writePTY([]byte{ctrlKillLine}); err != nil {
				return err
			}
			s.notifyLocked(d.Notice)
		case mediator.VerdictRedirect:
			if err := s.writePTY([]byte{ctrlKillLine}); err != nil {
				return err
			}
			s.notifyLocked(d.Notice)
			replay := "cd " + d.RedirectDir + "\r" + line + "\r"
			if err := s.writePTY([]byte(replay)); err != nil {
				return err
			}
		}

		if d.WatchTimeout > 0 {
			s.armWatchdogLocked(d.WatchTimeout)
		}

		// Swallow the LF of a CRLF pair; the line was already handled.
		term := rest[i]
		rest = rest[i+1:]
		if term == '\r' && len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}
	return nil
}

// bufferKeystrokes tracks printable input for line assembly, honoring
// backspace. Escape sequences and other control bytes are forwarded to the
// PTY but ignored here; line tracking is best-effort.
func (s *Session) bufferKeystrokes(p []byte) {
	for _, b := range p {
		switch {
		case b == 0x7f || b == 0x08:
			if n := len(s.lineBuf); n > 0 {
				s.lineBuf = s.lineBuf[:n-1]
			}
		case b >= 32, b == '\t':
			s.lineBuf = append(s.lineBuf, b)
		}
	}
}

func (s *Session) writePTY(p []byte) error {
	if s.ptmx == nil {
		return ErrTerminalNotReady
	}
	_, err := s.ptmx.Write(p)
	return err
}

// notifyLocked sends an advisory message to the attached transport, styled so
// it reads as terminal output rather than shell echo. Mediation notices are
// advisory output, not hard errors; the shell stays interactive.
func (s *Session) notifyLocked(msg string) {
	if s.transport == nil || msg == "" {
		return
	}
	s.transport.Output([]byte("\r\n\x1b[33m" + msg + "\x1b[0m\r\n"))
}

// armWatchdogLocked arms the soft watchdog: if the PTY produces no output for
// the given window, one interrupt is sent to nudge a hung foreground command.
// Output activity pushes the deadline forward. The interrupt is a best-effort
// nudge, not a guaranteed kill.
func (s *Session) armWatchdogLocked(timeout time.Duration) {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	start := time.Now()
	s.watchdog = time.AfterFunc(timeout, func() { s.watchdogFire(start, timeout) })
}

func (s *Session) watchdogFire(armedAt time.Time, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	last := s.lastOutput
	if last.Before(armedAt) {
		last = armedAt
	}
	if quiet := time.Since(last); quiet < timeout {
		// Output arrived since arming; push the deadline forward.
		s.watchdog = time.AfterFunc(timeout-quiet, func() { s.watchdogFire(armedAt, timeout) })
		return
	}
	log.Printf("session %s: no output for %s, sending interrupt", logutil.SanitizeForLog(s.ID), timeout)
	s.writePTY([]byte{ctrlInterrupt})
	s.watchdog = nil
}

// pump copies PTY output to the scrollback buffer and the attached transport
// for the lifetime of the PTY process, regardless of transport connections.
func (s *Session) pump(onExit func(code int, signal string)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.history.Write(data)
			s.mu.Lock()
			s.lastOutput = time.Now()
			t := s.transport
			s.mu.Unlock()
			if t != nil {
				if werr := t.Output(data); werr != nil {
					s.Detach(t)
				}
			}
		}
		if err != nil {
			break
		}
	}

	code, sig := 0, ""
	if err := s.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if code == -1 {
				sig = exitErr.String()
			}
		}
	}
	onExit(code, sig)
}

// kill terminates the PTY process and detaches the transport. Idempotent.
func (s *Session) kill() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.ready = false
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	cmd := s.cmd
	ptmx := s.ptmx
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	if ptmx != nil {
		ptmx.Close()
	}
	if t != nil {
		t.Close()
	}
}
