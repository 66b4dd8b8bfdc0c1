package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/ehr/carehub/internal/platform/metrics"
)

// Dispatcher pushes notifications to live connections. Delivery is
// best-effort: an offline user is a normal false/zero result, never an error,
// and nothing is queued or retried.
type Dispatcher struct {
	registry *Registry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger, metrics: m}
}

// SendToUser delivers n to userID's live connection and reports whether a
// frame was written.
func (d *Dispatcher) SendToUser(userID string, n Notification) bool {
	data, ok := d.encode(n)
	if !ok {
		return false
	}
	return d.deliver(userID, data)
}

// SendToUsers delivers n to each user independently and returns how many
// received it. Partial delivery is expected.
func (d *Dispatcher) SendToUsers(userIDs []string, n Notification) int {
	data, ok := d.encode(n)
	if !ok {
		return 0
	}
	delivered := 0
	for _, id := range userIDs {
		if d.deliver(id, data) {
			delivered++
		}
	}
	return delivered
}

// Broadcast delivers n to every registered open connection.
func (d *Dispatcher) Broadcast(n Notification) int {
	data, ok := d.encode(n)
	if !ok {
		return 0
	}
	delivered := 0
	for _, entry := range d.registry.All() {
		if d.write(entry.UserID, entry.Handle, data) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) encode(n Notification) ([]byte, bool) {
	data, err := json.Marshal(notificationFrame{Type: FrameNotification, Data: n})
	if err != nil {
		d.logger.Error().Err(err).Msg("websocket: failed to marshal notification")
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) deliver(userID string, data []byte) bool {
	h, ok := d.registry.Lookup(userID)
	if !ok {
		d.metrics.Delivery(metrics.DeliveryOffline)
		return false
	}
	return d.write(userID, h, data)
}

// write pushes data to h. A handle that is closed or fails to write is
// orphaned, so it is dropped from the registry.
func (d *Dispatcher) write(userID string, h *Handle, data []byte) bool {
	if !h.Open() {
		d.registry.Remove(h)
		d.metrics.Delivery(metrics.DeliveryOffline)
		return false
	}
	if err := h.Write(data); err != nil {
		d.logger.Warn().Err(err).Str("user_id", userID).Msg("websocket: dropping unwritable connection")
		d.registry.Remove(h)
		_ = h.Close()
		d.metrics.Delivery(metrics.DeliveryFailed)
		d.metrics.SetConnections(d.registry.Count())
		return false
	}
	d.metrics.Delivery(metrics.DeliveryDelivered)
	return true
}
