package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// ReadWait is how long the monitor waits for any client frame.
	ReadWait = 2 * time.Minute
)

// WriteTyped sends a strongly-typed payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{Event: EventError, Error: errMsg})
}

// ReadJSON reads and decodes one client message with a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetReadDeadline(time.Now().Add(ReadWait))
	return conn.ReadJSON(v)
}
