package notification

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const cols = `id, audience, user_ids, title, body, priority, action_url, related_data, source, delivered, created_at`

func (r *repoPG) scanRow(row pgx.Row) (*Notification, error) {
	var n Notification
	var related []byte
	err := row.Scan(&n.ID, &n.Audience, &n.UserIDs, &n.Title, &n.Body, &n.Priority,
		&n.ActionURL, &related, &n.Source, &n.Delivered, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(related) > 0 {
		if err := json.Unmarshal(related, &n.RelatedData); err != nil {
			return nil, fmt.Errorf("decode related data: %w", err)
		}
	}
	return &n, nil
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	var related []byte
	if n.RelatedData != nil {
		var err error
		if related, err = json.Marshal(n.RelatedData); err != nil {
			return fmt.Errorf("encode related data: %w", err)
		}
	}
	userIDs := n.UserIDs
	if userIDs == nil {
		userIDs = []string{}
	}

	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (id, audience, user_ids, title, body, priority, action_url, related_data, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		n.ID, n.Audience, userIDs, n.Title, n.Body, n.Priority, n.ActionURL, related, n.Source,
	).Scan(&n.CreatedAt)
}

func (r *repoPG) SetDelivered(ctx context.Context, id uuid.UUID, delivered int) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE notifications SET delivered = $2 WHERE id = $1`, id, delivered)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (r *repoPG) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cols+` FROM notifications
		WHERE audience = 'all' OR $1 = ANY(user_ids)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
