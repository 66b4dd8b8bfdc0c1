package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carehub/internal/platform/metrics"
)

const (
	defaultLockTTL = 30 * time.Second
	// Snap tokens expire after 24h; reuse stops an hour before that.
	defaultReuseWindow = 23 * time.Hour
)

// TxFunc runs fn in a transaction. The default runs fn directly.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// Service orchestrates intent creation and webhook reconciliation.
type Service struct {
	intents    IntentRepository
	facts      FactsRepository
	builder    *Builder
	gateway    Gateway
	reconciler *Reconciler
	locker     Locker
	notifier   Notifier
	inTx       TxFunc
	lockTTL    time.Duration
	reuse      time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

func NewService(intents IntentRepository, facts FactsRepository, builder *Builder, gw Gateway, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		intents:    intents,
		facts:      facts,
		builder:    builder,
		gateway:    gw,
		reconciler: NewReconciler(gw),
		inTx:       noTx,
		lockTTL:    defaultLockTTL,
		reuse:      defaultReuseWindow,
		logger:     logger,
		metrics:    m,
	}
}

// SetLocker enables cross-process serialization of webhook handling per
// order id.
func (s *Service) SetLocker(l Locker, ttl time.Duration) {
	s.locker = l
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// SetNotifier attaches the payer notifier used on settlement.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetTxFunc makes status writes and entity settlement atomic.
func (s *Service) SetTxFunc(fn TxFunc) {
	if fn != nil {
		s.inTx = fn
	}
}

// CreatePrescriptionPayment builds an intent for the prescription, opens a
// gateway transaction and persists the pending intent. Nothing is persisted
// if the gateway call fails.
func (s *Service) CreatePrescriptionPayment(ctx context.Context, prescriptionID uuid.UUID) (*PaymentIntent, error) {
	rx, err := s.facts.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("load prescription %s: %w", prescriptionID, err)
	}
	if rx.PaymentStatus == StatusPaid {
		return nil, ErrAlreadyPaid
	}
	payer, err := s.facts.GetPayer(ctx, rx.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load payer %s: %w", rx.PatientID, err)
	}
	intent, err := s.builder.BuildPrescriptionIntent(rx, payer)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, intent)
}

// CreateConsultationPayment is CreatePrescriptionPayment for consultations.
func (s *Service) CreateConsultationPayment(ctx context.Context, consultationID uuid.UUID) (*PaymentIntent, error) {
	c, err := s.facts.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("load consultation %s: %w", consultationID, err)
	}
	if c.PaymentStatus == StatusPaid {
		return nil, ErrAlreadyPaid
	}
	payer, err := s.facts.GetPayer(ctx, c.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load payer %s: %w", c.PatientID, err)
	}
	intent, err := s.builder.BuildConsultationIntent(c, payer)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, intent)
}

// open returns a still-valid pending intent for the same entity and amount
// when one exists, so repeated checkout clicks share one gateway
// transaction. Otherwise it opens a new one.
func (s *Service) open(ctx context.Context, intent *PaymentIntent) (*PaymentIntent, error) {
	if existing := s.reusable(ctx, intent); existing != nil {
		s.logger.Debug().Str("order_id", existing.OrderID).Msg("reusing pending payment intent")
		return existing, nil
	}

	resp, err := s.gateway.CreateTransaction(ctx, intent.TransactionRequest())
	if err != nil {
		return nil, err
	}
	intent.SnapToken = &resp.Token
	intent.RedirectURL = &resp.RedirectURL

	if err := s.intents.Upsert(ctx, intent); err != nil {
		return nil, fmt.Errorf("save payment intent %s: %w", intent.OrderID, err)
	}
	s.logger.Info().Str("order_id", intent.OrderID).Str("entity_type", string(intent.EntityType)).
		Str("entity_id", intent.EntityID.String()).Int64("gross_amount", intent.GrossAmount).
		Msg("payment intent created")
	return intent, nil
}

func (s *Service) reusable(ctx context.Context, intent *PaymentIntent) *PaymentIntent {
	if s.reuse <= 0 {
		return nil
	}
	existing, err := s.intents.ListByEntity(ctx, intent.EntityType, intent.EntityID)
	if err != nil {
		s.logger.Warn().Err(err).Str("entity_id", intent.EntityID.String()).Msg("list payment intents failed")
		return nil
	}
	for _, p := range existing {
		if p.Status != StatusPending || p.SnapToken == nil || *p.SnapToken == "" {
			continue
		}
		if p.GrossAmount != intent.GrossAmount || time.Since(p.CreatedAt) >= s.reuse {
			continue
		}
		return p
	}
	return nil
}

// GetIntent returns the stored intent for orderID.
func (s *Service) GetIntent(ctx context.Context, orderID string) (*PaymentIntent, error) {
	return s.intents.GetByOrderID(ctx, orderID)
}

// HandleWebhook authenticates and reconciles one provider callback. Unknown
// order ids are acknowledged without error so the provider stops retrying.
// Settlement side effects run only on the first transition to PAID.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte) (*WebhookOutcome, error) {
	result, err := s.reconciler.Reconcile(ctx, raw)
	if err != nil {
		s.metrics.Webhook("rejected")
		return nil, err
	}
	outcome, err := s.apply(ctx, result)
	if err != nil {
		s.metrics.Webhook("error")
		return nil, err
	}
	if !outcome.Known {
		s.metrics.Webhook("unknown_order")
	} else if outcome.Changed {
		s.metrics.Webhook("applied")
	} else {
		s.metrics.Webhook("duplicate")
	}
	return outcome, nil
}

// RefreshStatus re-queries the provider for orderID and applies the result
// the same way a webhook would.
func (s *Service) RefreshStatus(ctx context.Context, orderID string) (*PaymentIntent, error) {
	if _, err := s.intents.GetByOrderID(ctx, orderID); err != nil {
		return nil, err
	}
	result, err := s.reconciler.Refresh(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.apply(ctx, result); err != nil {
		return nil, err
	}
	return s.intents.GetByOrderID(ctx, orderID)
}

func (s *Service) apply(ctx context.Context, result *ReconcileResult) (*WebhookOutcome, error) {
	log := s.logger.With().Str("order_id", result.OrderID).Str("final_status", string(result.FinalStatus)).Logger()
	outcome := &WebhookOutcome{Result: result}

	if s.locker != nil {
		key := "payment:reconcile:" + result.OrderID
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", result.OrderID, err)
		}
		if !ok {
			return nil, ErrLockNotAcquired
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn().Err(err).Msg("failed to release reconcile lock")
			}
		}()
	}

	intent, err := s.intents.GetByOrderID(ctx, result.OrderID)
	if errors.Is(err, ErrIntentNotFound) {
		log.Warn().Msg("webhook for unknown order id acknowledged")
		return outcome, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load intent %s: %w", result.OrderID, err)
	}
	outcome.Known = true
	if result.RelatedEntityID == "" {
		result.RelatedEntityID = intent.EntityID.String()
	}
	if result.RelatedEntityKind == "" {
		result.RelatedEntityKind = intent.EntityType
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		changed, err := s.intents.ApplyStatus(ctx, StatusUpdate{
			OrderID:           result.OrderID,
			Status:            result.FinalStatus,
			TransactionStatus: result.TransactionStatus,
			PaymentType:       result.PaymentType,
			SettlementTime:    result.SettlementTime,
		})
		if err != nil {
			return fmt.Errorf("apply status %s: %w", result.OrderID, err)
		}
		outcome.Changed = changed
		if changed && result.FinalStatus == StatusPaid {
			if err := s.facts.MarkPaid(ctx, intent.EntityType, intent.EntityID); err != nil {
				return fmt.Errorf("mark %s %s paid: %w", intent.EntityType, intent.EntityID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Changed {
		s.metrics.Reconciled(string(result.FinalStatus))
		log.Info().Str("transaction_status", result.TransactionStatus).Msg("payment status reconciled")
		s.notifyPayer(ctx, intent, result)
	}
	return outcome, nil
}

func (s *Service) notifyPayer(ctx context.Context, intent *PaymentIntent, result *ReconcileResult) {
	if s.notifier == nil || intent.PayerID == uuid.Nil {
		return
	}

	var title, body string
	switch result.FinalStatus {
	case StatusPaid:
		title = "Payment received"
		body = fmt.Sprintf("Your payment for order %s has been received.", intent.OrderID)
	case StatusFailed:
		title = "Payment failed"
		body = fmt.Sprintf("Your payment for order %s did not complete.", intent.OrderID)
	default:
		return
	}

	related := map[string]interface{}{
		"orderId":    intent.OrderID,
		"entityType": string(intent.EntityType),
		"entityId":   intent.EntityID.String(),
		"status":     string(result.FinalStatus),
	}
	if err := s.notifier.NotifyUser(ctx, intent.PayerID.String(), title, body, related); err != nil {
		s.logger.Warn().Err(err).Str("order_id", intent.OrderID).Msg("failed to notify payer")
	}
}
