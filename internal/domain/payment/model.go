package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrIntentNotFound   = errors.New("payment intent not found")
	ErrEntityNotFound   = errors.New("payable entity not found")
	ErrLockNotAcquired  = errors.New("payment is being reconciled by another request")
	ErrNothingToCharge  = errors.New("payable amount must be positive")
	ErrAlreadyPaid      = errors.New("entity is already paid")
	ErrInvalidEntityRef = errors.New("invalid entity reference")
)

// EntityType is the kind of domain record a payment settles.
type EntityType string

const (
	EntityPrescription EntityType = "PRESCRIPTION"
	EntityConsultation EntityType = "CONSULTATION"
)

// Status is the internal payment outcome.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether s is a final outcome.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// LineItem is one charge line. Price is in the minor currency unit.
type LineItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int32  `json:"quantity"`
}

// Subtotal returns Price * Quantity.
func (li LineItem) Subtotal() int64 {
	return li.Price * int64(li.Quantity)
}

// Customer is the sanitized payer profile sent to the gateway.
type Customer struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone"`
}

// PaymentIntent maps to the payment_intents table.
type PaymentIntent struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	OrderID           string     `db:"order_id" json:"order_id"`
	EntityType        EntityType `db:"entity_type" json:"entity_type"`
	EntityID          uuid.UUID  `db:"entity_id" json:"entity_id"`
	PayerID           uuid.UUID  `db:"payer_id" json:"payer_id"`
	GrossAmount       int64      `db:"gross_amount" json:"gross_amount"`
	LineItems         []LineItem `db:"line_items" json:"line_items"`
	Customer          Customer   `db:"customer" json:"customer"`
	Status            Status     `db:"status" json:"status"`
	TransactionStatus *string    `db:"transaction_status" json:"transaction_status,omitempty"`
	PaymentType       *string    `db:"payment_type" json:"payment_type,omitempty"`
	SnapToken         *string    `db:"snap_token" json:"snap_token,omitempty"`
	RedirectURL       *string    `db:"redirect_url" json:"redirect_url,omitempty"`
	SettlementTime    *time.Time `db:"settlement_time" json:"settlement_time,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// LineTotal returns the sum of all line subtotals.
func (p *PaymentIntent) LineTotal() int64 {
	var total int64
	for _, li := range p.LineItems {
		total += li.Subtotal()
	}
	return total
}

// Prescription is the payable view of a prescription.
type Prescription struct {
	ID            uuid.UUID
	Code          string
	PatientID     uuid.UUID
	TotalAmount   int64
	PaymentStatus Status
	Items         []PrescriptionItem
}

// PrescriptionItem is one medication line on a prescription. Price is the
// unit price in the minor currency unit.
type PrescriptionItem struct {
	MedicationID string
	Name         string
	Price        int64
	Quantity     int32
}

// Consultation is the payable view of a consultation. A nil Fee means the
// configured default applies.
type Consultation struct {
	ID            uuid.UUID
	Code          string
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Fee           *int64
	PaymentStatus Status
}

// Payer is the raw profile of the user paying.
type Payer struct {
	UserID uuid.UUID
	Name   string
	Email  string
	Phone  string
}

// StatusUpdate is the reconciled state written back to an intent.
type StatusUpdate struct {
	OrderID           string
	Status            Status
	TransactionStatus string
	PaymentType       string
	SettlementTime    *time.Time
}

// ReconcileResult is the flat outcome of reconciling one gateway status.
type ReconcileResult struct {
	OrderID           string     `json:"order_id"`
	FinalStatus       Status     `json:"final_status"`
	RelatedEntityID   string     `json:"related_entity_id"`
	RelatedEntityKind EntityType `json:"related_entity_kind"`
	GrossAmount       int64      `json:"gross_amount"`
	SettlementTime    *time.Time `json:"settlement_time,omitempty"`
	PaymentType       string     `json:"payment_type,omitempty"`
	TransactionStatus string     `json:"transaction_status"`
	FraudStatus       string     `json:"fraud_status,omitempty"`
}

// WebhookOutcome reports what handling one webhook did.
type WebhookOutcome struct {
	Result  *ReconcileResult `json:"result,omitempty"`
	Known   bool             `json:"known"`
	Changed bool             `json:"changed"`
}
