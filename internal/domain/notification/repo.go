package notification

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores sent notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	SetDelivered(ctx context.Context, id uuid.UUID, delivered int) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// ListForUser returns notifications addressed to userID directly or by
	// broadcast, newest first.
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error)
}
