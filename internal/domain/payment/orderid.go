package payment

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Order id prefixes by entity type.
const (
	PrefixPrescription = "RX"
	PrefixConsultation = "CONS"
)

const (
	orderTimeDigits   = 8
	orderEntityDigits = 8
)

// OrderPrefix returns the order id prefix for t.
func OrderPrefix(t EntityType) string {
	switch t {
	case EntityConsultation:
		return PrefixConsultation
	default:
		return PrefixPrescription
	}
}

// EntityTypeFromOrderID infers the entity type from an order id prefix.
func EntityTypeFromOrderID(orderID string) (EntityType, bool) {
	prefix, _, ok := strings.Cut(orderID, "-")
	if !ok {
		return "", false
	}
	switch prefix {
	case PrefixPrescription:
		return EntityPrescription, true
	case PrefixConsultation:
		return EntityConsultation, true
	default:
		return "", false
	}
}

// NewOrderID builds <prefix>-<last 8 digits of unix millis>-<first 8 hex of
// the entity id>, truncated to MaxFieldLength. Uniqueness is enforced by the
// order_id unique index, not here.
func NewOrderID(t EntityType, entityID uuid.UUID, now time.Time) string {
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > orderTimeDigits {
		millis = millis[len(millis)-orderTimeDigits:]
	}
	hexID := strings.ReplaceAll(entityID.String(), "-", "")[:orderEntityDigits]

	id := OrderPrefix(t) + "-" + millis + "-" + hexID
	if len(id) > MaxFieldLength {
		id = id[:MaxFieldLength]
	}
	return id
}
