// ABOUTME: Websocket-backed Sender used for /ws observer connections
// ABOUTME: Wraps coder/websocket text writes behind the hub's transport interface

package hub

import (
	"context"

	"github.com/coder/websocket"
)

// WebsocketSender adapts a websocket connection to the hub's Sender
// interface.
type WebsocketSender struct {
	conn *websocket.Conn
}

// NewWebsocketSender wraps an accepted websocket connection.
func NewWebsocketSender(conn *websocket.Conn) *WebsocketSender {
	return &WebsocketSender{conn: conn}
}

// Send writes one text frame. The hub's per-send timeout arrives via ctx.
func (w *WebsocketSender) Send(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the connection with a normal status.
func (w *WebsocketSender) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
}
