package session

// Transport is the client-facing side of a session: one WebSocket connection
// at a time. A session holds zero or one transport; the handle is reassigned
// on reconnect. All methods must be safe for concurrent use, since the PTY
// output pump and the message handler write independently.
type Transport interface {
	// Output forwards raw PTY output bytes to the client.
	Output(data []byte) error
	// Exit notifies the client that the PTY process terminated.
	Exit(code int, signal string)
	// Close tears the connection down.
	Close()
}
