// Package websocket provides the real-time notification fabric: a registry
// holding one live connection per user, an in-band auth gate, and a
// best-effort notification dispatcher.
package websocket

import (
	"context"
	"net/http"
	"sync"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/carehub/internal/platform/metrics"
)

// Hub owns the registry, gate and dispatcher for one server instance and
// tracks the connection goroutines it starts.
type Hub struct {
	Registry   *Registry
	Dispatcher *Dispatcher

	gate   *Gate
	logger zerolog.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub wires a registry, gate and dispatcher together.
func NewHub(verifier SubjectVerifier, cfg GateConfig, logger zerolog.Logger, m *metrics.Metrics) *Hub {
	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		Registry:   registry,
		Dispatcher: NewDispatcher(registry, logger, m),
		gate:       NewGate(registry, verifier, cfg, logger, m),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Serve starts the read loop for h in its own goroutine.
func (hub *Hub) Serve(h *Handle) {
	hub.wg.Add(1)
	go func() {
		defer hub.wg.Done()
		hub.gate.Serve(hub.ctx, h)
	}()
}

// ClientCount returns the number of authenticated users.
func (hub *Hub) ClientCount() int {
	return hub.Registry.Count()
}

// Shutdown closes every connection and waits for the read loops to exit or
// for ctx to expire.
func (hub *Hub) Shutdown(ctx context.Context) error {
	hub.cancel()

	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// WebSocketHandler: Echo HTTP handler for WebSocket connections
// ---------------------------------------------------------------------------

// WebSocketHandler handles HTTP-to-WebSocket upgrades.
type WebSocketHandler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewWebSocketHandler creates a handler bound to hub. An empty origins list
// accepts any origin.
func NewWebSocketHandler(hub *Hub, origins []string) *WebSocketHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 || allowed["*"] {
					return true
				}
				return allowed[origin]
			},
		},
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (wsh *WebSocketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the request and hands the connection to the hub.
// Authentication happens in-band with an auth frame.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	h := NewHandle(&gorillaConnAdapter{ws})
	wsh.hub.logger.Debug().Str("conn_id", h.ID).Str("remote_ip", c.RealIP()).Msg("websocket: connection opened")
	wsh.hub.Serve(h)
	return nil
}
