package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/carehub/internal/platform/events"
)

// HandleEvent delivers a notification event consumed from Kafka. Events that
// fail validation are reported as malformed so the consumer skips them.
func (s *Service) HandleEvent(ctx context.Context, ev events.NotificationEvent) error {
	n := &Notification{
		Audience:    Audience(strings.ToLower(strings.TrimSpace(ev.Audience))),
		UserIDs:     ev.UserIDs,
		Title:       ev.Title,
		Body:        ev.Body,
		Priority:    ev.Priority,
		RelatedData: ev.RelatedData,
		Source:      "event:" + ev.EventType,
	}
	if ev.ActionURL != "" {
		url := ev.ActionURL
		n.ActionURL = &url
	}
	if ev.EventType == "" {
		n.Source = "event"
	}

	_, err := s.Send(ctx, n)
	if errors.Is(err, ErrInvalidNotification) {
		return fmt.Errorf("%w: %v", events.ErrMalformedEvent, err)
	}
	return err
}
