package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
)

// ErrHandleClosed is returned when writing to a handle that was closed.
var ErrHandleClosed = errors.New("websocket: handle closed")

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Handle is a live connection handle. Writes are serialized because the
// underlying transport allows only one concurrent writer.
type Handle struct {
	ID          string
	ConnectedAt time.Time

	conn   Conn
	mu     sync.Mutex
	closed atomic.Bool
}

// NewHandle wraps conn in a Handle with a fresh ID.
func NewHandle(conn Conn) *Handle {
	return &Handle{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Open reports whether the handle has not been closed.
func (h *Handle) Open() bool {
	return !h.closed.Load()
}

// Write sends a pre-encoded text frame.
func (h *Handle) Write(data []byte) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.conn.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket: write to %s: %w", h.ID, err)
	}
	return nil
}

// WriteJSON encodes v and sends it as a text frame.
func (h *Handle) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("websocket: encode frame: %w", err)
	}
	return h.Write(data)
}

// Close closes the underlying connection once; later calls are no-ops.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.conn.Close()
}

func (h *Handle) read() (int, []byte, error) {
	return h.conn.ReadMessage()
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
