// Package handlers exposes the gateway's two surfaces: the terminal
// WebSocket (the transport adapter for the session registry) and the HTTP
// file CRUD API (thin wrappers over the file store).
package handlers

import "github.com/manavgt54/AI-IDE/internal/session"

// Handlers carries the injected dependencies for all HTTP and WebSocket
// handlers. Constructed once in main and mounted on the router.
type Handlers struct {
	Sessions *session.Manager
}

func New(sessions *session.Manager) *Handlers {
	return &Handlers{Sessions: sessions}
}
