package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// A stalled client must not wedge the broadcast relay goroutine.
	writeTimeout = 10 * time.Second

	// Students think between questions; the read deadline only reaps
	// connections that are actually gone.
	readTimeout = 5 * time.Minute
)

// WriteTyped sends one typed event frame with the write deadline applied.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// WriteError sends an error frame. The connection stays usable; closing
// is the caller's decision.
func WriteError(conn *websocket.Conn, msg string) error {
	return WriteTyped(conn, ErrorResponse{Event: EventError, Error: msg})
}

// ReadJSON reads the next frame into v with the read deadline applied.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	return conn.ReadJSON(v)
}
