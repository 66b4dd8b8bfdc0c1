package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidNotification = errors.New("invalid notification")
	ErrNotFound            = errors.New("notification not found")
)

// Audience selects who a notification is addressed to.
type Audience string

const (
	AudienceUser  Audience = "user"
	AudienceUsers Audience = "users"
	AudienceAll   Audience = "all"
)

// Priority levels understood by clients.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// MaxTitleLength bounds titles shown in client toasts.
const MaxTitleLength = 200

// Notification maps to the notifications table.
type Notification struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	Audience    Audience               `db:"audience" json:"audience"`
	UserIDs     []string               `db:"user_ids" json:"userIds,omitempty"`
	Title       string                 `db:"title" json:"title"`
	Body        string                 `db:"body" json:"body"`
	Priority    string                 `db:"priority" json:"priority"`
	ActionURL   *string                `db:"action_url" json:"actionUrl,omitempty"`
	RelatedData map[string]interface{} `db:"related_data" json:"relatedData,omitempty"`
	Source      string                 `db:"source" json:"source,omitempty"`
	Delivered   int                    `db:"delivered" json:"delivered"`
	CreatedAt   time.Time              `db:"created_at" json:"createdAt"`
}

// Normalize trims text fields, defaults the priority and drops blank or
// repeated recipients.
func (n *Notification) Normalize() {
	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)
	n.Priority = strings.ToLower(strings.TrimSpace(n.Priority))
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if n.ActionURL != nil && strings.TrimSpace(*n.ActionURL) == "" {
		n.ActionURL = nil
	}

	if n.UserIDs == nil {
		return
	}
	seen := make(map[string]bool, len(n.UserIDs))
	ids := make([]string, 0, len(n.UserIDs))
	for _, id := range n.UserIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	n.UserIDs = ids
}

// Validate checks a normalized notification.
func (n *Notification) Validate() error {
	if n.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	if len(n.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidNotification, MaxTitleLength)
	}
	switch n.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, n.Priority)
	}
	switch n.Audience {
	case AudienceUser:
		if len(n.UserIDs) != 1 {
			return fmt.Errorf("%w: audience user takes exactly one user id", ErrInvalidNotification)
		}
	case AudienceUsers:
		if len(n.UserIDs) == 0 {
			return fmt.Errorf("%w: audience users needs at least one user id", ErrInvalidNotification)
		}
	case AudienceAll:
		if len(n.UserIDs) != 0 {
			return fmt.Errorf("%w: audience all takes no user ids", ErrInvalidNotification)
		}
	default:
		return fmt.Errorf("%w: unknown audience %q", ErrInvalidNotification, n.Audience)
	}
	return nil
}
