package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/manavgt54/AI-IDE/internal/logutil"
	"github.com/manavgt54/AI-IDE/internal/session"
)

// terminalRateLimit is the maximum number of messages per second accepted on
// one WebSocket connection; terminalRateBurst allows short bursts (pastes)
// before messages get dropped.
const (
	terminalRateLimit = 200
	terminalRateBurst = 200
)

// maxInputMessageSize bounds a single input message's payload.
const maxInputMessageSize = 64 * 1024

// maxResizeCols and maxResizeRows clamp resize requests.
const (
	maxResizeCols uint16 = 500
	maxResizeRows uint16 = 500
)

// wsEnvelope is the JSON message exchanged over the terminal WebSocket.
// Incoming types: init, reconnect, input, resize. Outgoing types: pty-ready,
// output, exit, error, session_restored.
type wsEnvelope struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId,omitempty"`
	Data       string `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	CurrentCwd string `json:"currentCwd,omitempty"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	Signal     string `json:"signal,omitempty"`
	Cols       uint16 `json:"cols,omitempty"`
	Rows       uint16 `json:"rows,omitempty"`
}

// Terminal handles one terminal WebSocket connection. A connection carries
// messages for the sessions it names; closing the socket detaches those
// sessions without killing their PTYs, so a later reconnect picks them up.
func (h *Handlers) Terminal(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("terminal: websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	conn.SetReadLimit(1024 * 1024)

	t := &wsTransport{conn: conn, ctx: ctx}
	attached := make(map[string]*session.Session)
	defer func() {
		for id, s := range attached {
			s.Detach(t)
			log.Printf("session %s: transport detached", logutil.SanitizeForLog(id))
		}
	}()

	limiter := newTokenBucket(terminalRateBurst, terminalRateLimit)

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.allow() {
			continue
		}

		var msg wsEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.sendError("malformed message")
			continue
		}

		switch msg.Type {
		case "init":
			h.handleInit(t, attached, msg.SessionID, false)
		case "reconnect":
			h.handleInit(t, attached, msg.SessionID, true)
		case "input":
			h.handleInput(t, msg.SessionID, msg.Data)
		case "resize":
			h.handleResize(t, msg.SessionID, msg.Cols, msg.Rows)
		default:
			t.sendError("unknown message type: " + msg.Type)
		}
	}
}

// handleInit implements both init and reconnect: reconnect against a live
// session replays buffered output and acknowledges the prior state; a
// reconnect for a session that is gone from memory falls back to init
// behavior and hydrates from the database.
func (h *Handlers) handleInit(t *wsTransport, attached map[string]*session.Session, sessionID string, reconnect bool) {
	if sessionID == "" {
		if reconnect {
			t.sendError("session id required")
			return
		}
		sessionID = uuid.New().String()
	}

	s, restored, replay, err := h.Sessions.CreateOrAttach(sessionID, t)
	if err != nil {
		log.Printf("session %s: init failed: %v", logutil.SanitizeForLog(sessionID), err)
		t.sendError("failed to initialize session")
		return
	}
	attached[sessionID] = s

	if restored {
		t.send(wsEnvelope{Type: "session_restored", SessionID: sessionID, CurrentCwd: s.Cwd()})
		if len(replay) > 0 {
			t.send(wsEnvelope{Type: "output", Data: string(replay)})
		}
		if !reconnect {
			t.send(wsEnvelope{Type: "pty-ready", SessionID: sessionID})
		}
		return
	}
	t.send(wsEnvelope{Type: "pty-ready", SessionID: sessionID})
}

func (h *Handlers) handleInput(t *wsTransport, sessionID, data string) {
	if sessionID == "" {
		t.sendError("session id required")
		return
	}
	if len(data) > maxInputMessageSize {
		t.sendError("input message too large")
		return
	}
	err := h.Sessions.Input(sessionID, []byte(data))
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		t.sendError("session not found")
	case errors.Is(err, session.ErrTerminalNotReady):
		t.sendError("terminal not ready")
	case err != nil:
		log.Printf("session %s: input: %v", logutil.SanitizeForLog(sessionID), err)
		t.sendError("failed to deliver input")
	}
}

func (h *Handlers) handleResize(t *wsTransport, sessionID string, cols, rows uint16) {
	s := h.Sessions.Get(sessionID)
	if s == nil {
		t.sendError("session not found")
		return
	}
	if cols == 0 || rows == 0 {
		return
	}
	if cols > maxResizeCols {
		cols = maxResizeCols
	}
	if rows > maxResizeRows {
		rows = maxResizeRows
	}
	if err := s.Resize(cols, rows); err != nil {
		log.Printf("session %s: resize: %v", logutil.SanitizeForLog(sessionID), err)
	}
}

// wsTransport adapts a WebSocket connection to the session.Transport
// interface. A single mutex serializes writes, since the PTY output pump and
// the message handler both write to the connection.
type wsTransport struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex
}

func (t *wsTransport) send(env wsEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(t.ctx, websocket.MessageText, payload)
}

func (t *wsTransport) sendError(message string) {
	t.send(wsEnvelope{Type: "error", Message: message})
}

func (t *wsTransport) Output(data []byte) error {
	return t.send(wsEnvelope{Type: "output", Data: string(data)})
}

func (t *wsTransport) Exit(code int, signal string) {
	t.send(wsEnvelope{Type: "exit", ExitCode: &code, Signal: signal})
}

func (t *wsTransport) Close() {
	t.conn.Close(websocket.StatusNormalClosure, "")
}

// tokenBucket rate-limits messages on one connection.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(burst, rate int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rate),
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	tb.lastRefill = now
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
