package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"meshgate/pkg/domain"
	audit "meshgate/pkg/platform/audit"
)

// Store implements audit.Store on the audit_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	var userID any
	if !event.UserID.IsNil() {
		userID = event.UserID.String()
	}
	category := event.Category
	if category == "" {
		category = event.Action.Category()
	}
	severity := event.Severity
	if severity == "" {
		severity = audit.SeverityInfo
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, category, timestamp, user_id, subject, action, reason, ip, device, request_id, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.New(),
		string(category),
		event.Timestamp,
		userID,
		event.Subject,
		string(event.Action),
		event.Reason,
		event.IP,
		event.Device,
		event.RequestID,
		string(severity),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID domain.UserID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, timestamp, user_id, subject, action, reason, ip, device, request_id, severity
		FROM audit_events
		WHERE user_id = $1
		ORDER BY timestamp ASC
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			category string
			action   string
			severity string
			uid      sql.NullString
		)
		if err := rows.Scan(&category, &e.Timestamp, &uid, &e.Subject, &action, &e.Reason, &e.IP, &e.Device, &e.RequestID, &severity); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		e.Action = audit.Action(action)
		e.Severity = audit.Severity(severity)
		if uid.Valid {
			parsed, err := domain.ParseUserID(uid.String)
			if err != nil {
				return nil, fmt.Errorf("parse audit user id: %w", err)
			}
			e.UserID = parsed
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
