package session

import "sync"

// defaultScrollbackSize is the default maximum scrollback buffer size (256 KB).
const defaultScrollbackSize = 256 * 1024

// scrollback is a thread-safe byte buffer holding recent PTY output so a
// reconnecting transport can replay what it missed while detached. When the
// buffer exceeds maxLen, older data is trimmed from the front.
type scrollback struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

func newScrollback(maxLen int) *scrollback {
	if maxLen <= 0 {
		maxLen = defaultScrollbackSize
	}
	return &scrollback{maxLen: maxLen}
}

// Write appends data, trimming from the front past maxLen.
func (s *scrollback) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	if len(s.data) > s.maxLen {
		s.data = s.data[len(s.data)-s.maxLen:]
	}
}

// Snapshot returns a copy of the current contents.
func (s *scrollback) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len returns the current buffer length.
func (s *scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
