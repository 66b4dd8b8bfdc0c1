package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carehub/internal/platform/websocket"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Dispatcher pushes frames to live connections. *websocket.Dispatcher
// implements it.
type Dispatcher interface {
	SendToUser(userID string, n websocket.Notification) bool
	SendToUsers(userIDs []string, n websocket.Notification) int
	Broadcast(n websocket.Notification) int
}

// Service records notifications and pushes them to whoever is connected.
// Offline recipients are not retried; the stored record is what they see
// when they next list their notifications.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewService(repo Repository, dispatcher Dispatcher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, dispatcher: dispatcher, logger: logger}
}

// Send validates n, stores it, then dispatches it to its audience. It returns
// how many live connections received the frame. Nothing is dispatched if the
// record cannot be stored.
func (s *Service) Send(ctx context.Context, n *Notification) (int, error) {
	n.Normalize()
	if err := n.Validate(); err != nil {
		return 0, err
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return 0, fmt.Errorf("store notification: %w", err)
	}

	frame := websocket.Notification{
		Title:       n.Title,
		Body:        n.Body,
		Priority:    n.Priority,
		RelatedData: n.RelatedData,
	}
	if n.ActionURL != nil {
		frame.ActionURL = *n.ActionURL
	}

	var delivered int
	switch n.Audience {
	case AudienceUser:
		if s.dispatcher.SendToUser(n.UserIDs[0], frame) {
			delivered = 1
		}
	case AudienceUsers:
		delivered = s.dispatcher.SendToUsers(n.UserIDs, frame)
	case AudienceAll:
		delivered = s.dispatcher.Broadcast(frame)
	}

	n.Delivered = delivered
	if err := s.repo.SetDelivered(ctx, n.ID, delivered); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("failed to record delivery count")
	}
	s.logger.Debug().
		Str("notification_id", n.ID.String()).
		Str("audience", string(n.Audience)).
		Int("recipients", len(n.UserIDs)).
		Int("delivered", delivered).
		Msg("notification dispatched")
	return delivered, nil
}

// NotifyUser sends a high-priority notification to a single user.
func (s *Service) NotifyUser(ctx context.Context, userID, title, body string, related map[string]interface{}) error {
	_, err := s.Send(ctx, &Notification{
		Audience:    AudienceUser,
		UserIDs:     []string{userID},
		Title:       title,
		Body:        body,
		Priority:    PriorityHigh,
		RelatedData: related,
		Source:      "payment",
	})
	return err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// ListForUser pages through userID's notifications. limit is clamped to
// [1, 100] and defaults to 20.
func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListForUser(ctx, userID, limit, offset)
}
