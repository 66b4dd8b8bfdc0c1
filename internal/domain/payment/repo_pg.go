package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carehub/internal/platform/db"
)

// =========== Intent Repository ===========

type intentRepoPG struct{ pool *pgxpool.Pool }

func NewIntentRepoPG(pool *pgxpool.Pool) IntentRepository { return &intentRepoPG{pool: pool} }

func (r *intentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const intentCols = `id, order_id, entity_type, entity_id, payer_id, gross_amount,
	line_items, customer, status, transaction_status, payment_type,
	snap_token, redirect_url, settlement_time, created_at, updated_at`

func (r *intentRepoPG) scanIntent(row pgx.Row) (*PaymentIntent, error) {
	var p PaymentIntent
	var lineItems, customer []byte
	err := row.Scan(&p.ID, &p.OrderID, &p.EntityType, &p.EntityID, &p.PayerID, &p.GrossAmount,
		&lineItems, &customer, &p.Status, &p.TransactionStatus, &p.PaymentType,
		&p.SnapToken, &p.RedirectURL, &p.SettlementTime, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &p.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items: %w", err)
		}
	}
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &p.Customer); err != nil {
			return nil, fmt.Errorf("decode customer: %w", err)
		}
	}
	return &p, nil
}

func (r *intentRepoPG) Upsert(ctx context.Context, p *PaymentIntent) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	lineItems, err := json.Marshal(p.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	customer, err := json.Marshal(p.Customer)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}

	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment_intents (id, order_id, entity_type, entity_id, payer_id, gross_amount,
			line_items, customer, status, snap_token, redirect_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (order_id) DO UPDATE SET
			snap_token = EXCLUDED.snap_token,
			redirect_url = EXCLUDED.redirect_url,
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at`,
		p.ID, p.OrderID, p.EntityType, p.EntityID, p.PayerID, p.GrossAmount,
		lineItems, customer, p.Status, p.SnapToken, p.RedirectURL,
	).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
}

func (r *intentRepoPG) GetByOrderID(ctx context.Context, orderID string) (*PaymentIntent, error) {
	p, err := r.scanIntent(r.conn(ctx).QueryRow(ctx, `SELECT `+intentCols+` FROM payment_intents WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	return p, err
}

// ApplyStatus only moves rows out of PENDING; terminal rows are left alone so
// duplicate or late callbacks are no-ops.
func (r *intentRepoPG) ApplyStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_intents SET
			status = $2,
			transaction_status = NULLIF($3, ''),
			payment_type = COALESCE(NULLIF($4, ''), payment_type),
			settlement_time = COALESCE($5, settlement_time),
			updated_at = NOW()
		WHERE order_id = $1 AND status = 'PENDING'
			AND (status IS DISTINCT FROM $2 OR transaction_status IS DISTINCT FROM NULLIF($3, ''))`,
		u.OrderID, u.Status, u.TransactionStatus, u.PaymentType, u.SettlementTime)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return u.Status != StatusPending, nil
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_intents WHERE order_id = $1)`, u.OrderID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrIntentNotFound
	}
	return false, nil
}

func (r *intentRepoPG) ListByEntity(ctx context.Context, t EntityType, entityID uuid.UUID) ([]*PaymentIntent, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+intentCols+` FROM payment_intents WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at DESC`, t, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PaymentIntent
	for rows.Next() {
		p, err := r.scanIntent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== Facts Repository ===========

type factsRepoPG struct{ pool *pgxpool.Pool }

func NewFactsRepoPG(pool *pgxpool.Pool) FactsRepository { return &factsRepoPG{pool: pool} }

func (r *factsRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *factsRepoPG) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	var rx Prescription
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, patient_id, total_amount, payment_status
		FROM prescriptions WHERE id = $1`, id,
	).Scan(&rx.ID, &rx.Code, &rx.PatientID, &rx.TotalAmount, &rx.PaymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT COALESCE(pi.medication_id::text, ''), COALESCE(m.name, pi.name, ''),
			COALESCE(m.price, pi.price, 0), pi.quantity
		FROM prescription_items pi
		LEFT JOIN medications m ON m.id = pi.medication_id
		WHERE pi.prescription_id = $1
		ORDER BY pi.position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it PrescriptionItem
		if err := rows.Scan(&it.MedicationID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return nil, err
		}
		rx.Items = append(rx.Items, it)
	}
	return &rx, rows.Err()
}

func (r *factsRepoPG) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	var c Consultation
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, patient_id, doctor_id, fee, payment_status
		FROM consultations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Code, &c.PatientID, &c.DoctorID, &c.Fee, &c.PaymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *factsRepoPG) GetPayer(ctx context.Context, userID uuid.UUID) (*Payer, error) {
	var p Payer
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM users WHERE id = $1`, userID,
	).Scan(&p.UserID, &p.Name, &p.Email, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *factsRepoPG) MarkPaid(ctx context.Context, t EntityType, id uuid.UUID) error {
	var table string
	switch t {
	case EntityPrescription:
		table = "prescriptions"
	case EntityConsultation:
		table = "consultations"
	default:
		return fmt.Errorf("mark paid: %w: %s", ErrInvalidEntityRef, t)
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE `+table+` SET payment_status = 'PAID', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}
