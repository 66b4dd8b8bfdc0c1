package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IntentRepository persists payment intents keyed by order id.
type IntentRepository interface {
	// Upsert inserts the intent or refreshes its gateway token fields.
	Upsert(ctx context.Context, p *PaymentIntent) error
	GetByOrderID(ctx context.Context, orderID string) (*PaymentIntent, error)
	// ApplyStatus moves a pending intent to u.Status and reports whether a
	// row changed. Terminal intents are never rewritten, so repeated or
	// out-of-order deliveries change nothing.
	ApplyStatus(ctx context.Context, u StatusUpdate) (bool, error)
	// ListByEntity returns the entity's intents, newest first.
	ListByEntity(ctx context.Context, t EntityType, entityID uuid.UUID) ([]*PaymentIntent, error)
}

// FactsRepository reads the payable entities and payers, and marks entities
// settled.
type FactsRepository interface {
	GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error)
	GetPayer(ctx context.Context, userID uuid.UUID) (*Payer, error)
	MarkPaid(ctx context.Context, t EntityType, id uuid.UUID) error
}

// Locker serializes reconciliation of one order id across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Notifier informs a user that something happened to their payment.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, title, body string, related map[string]interface{}) error
}
