package audit

import (
	"context"
	"time"

	"meshgate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so stores
// can apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers account lifecycle changes.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers rejected calls and failed logins.
	CategorySecurity EventCategory = "security"
)

// Action names the audited action.
type Action string

const (
	ActionAuthRejected Action = "auth_rejected"
	ActionLoginFailed  Action = "login_failed"
	ActionUserCreated  Action = "user_created"
	ActionUserUpdated  Action = "user_updated"
	ActionUserRemoved  Action = "user_removed"
)

var actionCategories = map[Action]EventCategory{
	ActionAuthRejected: CategorySecurity,
	ActionLoginFailed:  CategorySecurity,
	ActionUserCreated:  CategoryCompliance,
	ActionUserUpdated:  CategoryCompliance,
	ActionUserRemoved:  CategoryCompliance,
}

// Category returns the category for a; unknown actions are security events.
func (a Action) Category() EventCategory {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategorySecurity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the persisted audit record.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    domain.UserID
	Subject   string
	Action    Action
	Reason    string
	IP        string
	Device    string
	RequestID string
	Severity  Severity
}

// SecurityEvent captures security-relevant actions. Emission never blocks the
// request path; events are buffered and drained to the store.
type SecurityEvent struct {
	Timestamp time.Time
	UserID    domain.UserID // zero when no identity was resolved
	Subject   string        // route/action or login attempted
	Action    Action
	Reason    string
	IP        string
	Device    string
	RequestID string
	Severity  Severity
}

// ToEvent converts to the persisted form.
func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Subject:   e.Subject,
		Action:    e.Action,
		Reason:    e.Reason,
		IP:        e.IP,
		Device:    e.Device,
		RequestID: e.RequestID,
		Severity:  e.Severity,
	}
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID domain.UserID) ([]Event, error)
}
