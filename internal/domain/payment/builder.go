package payment

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxLineItems is the gateway's cap on item_details entries.
const DefaultMaxLineItems = 10

// BuilderConfig configures intent construction.
type BuilderConfig struct {
	// DefaultConsultationFee applies when a consultation has no declared fee.
	DefaultConsultationFee int64
	MaxLineItems           int
}

// Builder constructs gateway-ready payment intents. Every intent it returns
// satisfies sum(price*quantity) == GrossAmount.
type Builder struct {
	cfg BuilderConfig
	now func() time.Time
}

// NewBuilder creates a Builder. A non-positive MaxLineItems uses
// DefaultMaxLineItems.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.MaxLineItems <= 0 {
		cfg.MaxLineItems = DefaultMaxLineItems
	}
	return &Builder{cfg: cfg, now: time.Now}
}

// BuildPrescriptionIntent charges for the prescription's medication lines
// that have a name and a positive price, capped at MaxLineItems. When no line
// qualifies, a single line named after the prescription code carries the
// declared total.
func (b *Builder) BuildPrescriptionIntent(rx *Prescription, payer *Payer) (*PaymentIntent, error) {
	if rx == nil {
		return nil, fmt.Errorf("build prescription intent: %w", ErrEntityNotFound)
	}

	items := make([]LineItem, 0, len(rx.Items))
	var total int64
	for i, it := range rx.Items {
		if len(items) == b.cfg.MaxLineItems {
			break
		}
		name := strings.TrimSpace(it.Name)
		if name == "" || it.Price <= 0 {
			continue
		}
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		sub, ok := subtotal(it.Price, qty)
		if !ok || sub > math.MaxInt64-total {
			continue
		}
		total += sub
		id := strings.TrimSpace(it.MedicationID)
		if id == "" {
			id = fmt.Sprintf("item-%d", i+1)
		}
		items = append(items, LineItem{
			ID:       truncate(id, MaxFieldLength),
			Name:     truncate(name, MaxFieldLength),
			Price:    it.Price,
			Quantity: qty,
		})
	}

	intent := b.newIntent(EntityPrescription, rx.ID, payer)
	fallback := prescriptionFallbackName(rx.Code)

	if len(items) == 0 {
		if rx.TotalAmount <= 0 {
			return nil, fmt.Errorf("build prescription intent %s: %w", rx.ID, ErrNothingToCharge)
		}
		intent.GrossAmount = rx.TotalAmount
		intent.LineItems = []LineItem{syntheticLine(fallback, rx.TotalAmount)}
		return intent, nil
	}

	if total <= 0 {
		return nil, fmt.Errorf("build prescription intent %s: %w", rx.ID, ErrNothingToCharge)
	}
	intent.LineItems = items
	intent.GrossAmount = total
	enforceSum(intent, fallback)
	return intent, nil
}

// BuildConsultationIntent charges a single line equal to the consultation
// fee, or the configured default when the consultation has none.
func (b *Builder) BuildConsultationIntent(c *Consultation, payer *Payer) (*PaymentIntent, error) {
	if c == nil {
		return nil, fmt.Errorf("build consultation intent: %w", ErrEntityNotFound)
	}

	fee := b.cfg.DefaultConsultationFee
	if c.Fee != nil && *c.Fee > 0 {
		fee = *c.Fee
	}
	if fee <= 0 {
		return nil, fmt.Errorf("build consultation intent %s: %w", c.ID, ErrNothingToCharge)
	}

	name := "Consultation"
	if code := strings.TrimSpace(c.Code); code != "" {
		name += " " + code
	}

	intent := b.newIntent(EntityConsultation, c.ID, payer)
	intent.GrossAmount = fee
	intent.LineItems = []LineItem{{
		ID:       "consultation",
		Name:     truncate(name, MaxFieldLength),
		Price:    fee,
		Quantity: 1,
	}}
	enforceSum(intent, name)
	return intent, nil
}

// subtotal returns price*qty, or false when the product overflows int64.
func subtotal(price int64, qty int32) (int64, bool) {
	if price <= 0 || qty <= 0 {
		return 0, false
	}
	if price > math.MaxInt64/int64(qty) {
		return 0, false
	}
	return price * int64(qty), true
}

func (b *Builder) newIntent(t EntityType, entityID uuid.UUID, payer *Payer) *PaymentIntent {
	intent := &PaymentIntent{
		ID:         uuid.New(),
		OrderID:    NewOrderID(t, entityID, b.now()),
		EntityType: t,
		EntityID:   entityID,
		Customer:   SanitizeCustomer(payer),
		Status:     StatusPending,
	}
	if payer != nil {
		intent.PayerID = payer.UserID
	}
	return intent
}

// enforceSum collapses the lines into one synthetic line when they do not
// add up to the gross amount.
func enforceSum(intent *PaymentIntent, fallbackName string) {
	if intent.LineTotal() == intent.GrossAmount {
		return
	}
	intent.LineItems = []LineItem{syntheticLine(fallbackName, intent.GrossAmount)}
}

func syntheticLine(name string, amount int64) LineItem {
	name = truncate(name, MaxFieldLength)
	return LineItem{ID: name, Name: name, Price: amount, Quantity: 1}
}

func prescriptionFallbackName(code string) string {
	if code = strings.TrimSpace(code); code != "" {
		return code
	}
	return "Prescription"
}
