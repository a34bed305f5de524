package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/tandemvoice/tandem/internal/relay"
)

// wsConn adapts a coder/websocket connection to [relay.ClientConn]. The relay
// guarantees a single writer goroutine, and coder/websocket allows one
// concurrent reader plus one concurrent writer, so no extra locking is
// needed here.
type wsConn struct {
	conn *websocket.Conn
}

var _ relay.ClientConn = (*wsConn)(nil)

func (c *wsConn) Read(ctx context.Context) (relay.MessageType, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if typ == websocket.MessageText {
		return relay.MessageText, data, nil
	}
	return relay.MessageBinary, data, nil
}

func (c *wsConn) WriteBinary(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c *wsConn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal event: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
