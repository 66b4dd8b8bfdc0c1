package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/carehub/internal/platform/gateway"
)

// settlementLayout is the provider's timestamp format, in WIB.
const settlementLayout = "2006-01-02 15:04:05"

var providerZone = time.FixedZone("WIB", 7*60*60)

// Reconciler turns provider callbacks into internal outcomes. It holds no
// state: persisting the result idempotently is the caller's job.
type Reconciler struct {
	gateway Gateway
}

// NewReconciler creates a Reconciler that authenticates callbacks through gw.
func NewReconciler(gw Gateway) *Reconciler {
	return &Reconciler{gateway: gw}
}

// Reconcile verifies raw through the gateway and classifies the verified
// status. The payload is never trusted without that verification.
func (r *Reconciler) Reconcile(ctx context.Context, raw []byte) (*ReconcileResult, error) {
	st, err := r.gateway.VerifyNotification(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return Flatten(st), nil
}

// Refresh re-queries the provider for orderID and classifies the result.
func (r *Reconciler) Refresh(ctx context.Context, orderID string) (*ReconcileResult, error) {
	st, err := r.gateway.QueryStatus(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", orderID, err)
	}
	if st.OrderID == "" {
		st.OrderID = orderID
	}
	return Flatten(st), nil
}

// Flatten classifies st and extracts the fields callers persist. The related
// entity kind falls back to the order id prefix when the provider did not
// echo it back.
func Flatten(st *gateway.StatusFields) *ReconcileResult {
	kind := EntityType(strings.ToUpper(strings.TrimSpace(st.CustomField2)))
	if kind != EntityPrescription && kind != EntityConsultation {
		kind, _ = EntityTypeFromOrderID(st.OrderID)
	}

	return &ReconcileResult{
		OrderID:           st.OrderID,
		FinalStatus:       Classify(st.TransactionStatus, st.FraudStatus),
		RelatedEntityID:   strings.TrimSpace(st.CustomField1),
		RelatedEntityKind: kind,
		GrossAmount:       parseAmount(st.GrossAmount),
		SettlementTime:    parseSettlementTime(st.SettlementTime),
		PaymentType:       st.PaymentType,
		TransactionStatus: st.TransactionStatus,
		FraudStatus:       st.FraudStatus,
	}
}

// parseAmount reads the provider's decimal string ("50000.00") as a whole
// minor-unit amount. Unparseable input yields 0.
func parseAmount(s string) int64 {
	whole, _, _ := strings.Cut(strings.TrimSpace(s), ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseSettlementTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(settlementLayout, s, providerZone)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return nil
		}
	}
	return &t
}
