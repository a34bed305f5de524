package relay

import "context"

// MessageType distinguishes the two kinds of client WebSocket messages.
type MessageType int

const (
	// MessageBinary carries raw float32 little-endian PCM audio.
	MessageBinary MessageType = iota

	// MessageText carries a JSON control message.
	MessageText
)

// ClientConn abstracts the client-side WebSocket so the relay can be tested
// without a network. The server package adapts coder/websocket to this
// interface.
//
// Read may be called from one goroutine while the write methods are called
// from another; implementations must support that split. Concurrent writes
// are not required — the relay serialises all writes through one goroutine.
type ClientConn interface {
	// Read blocks until the next message from the client arrives.
	Read(ctx context.Context) (MessageType, []byte, error)

	// WriteBinary sends a binary audio message to the client.
	WriteBinary(ctx context.Context, data []byte) error

	// WriteJSON marshals v and sends it as a text message to the client.
	WriteJSON(ctx context.Context, v any) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
