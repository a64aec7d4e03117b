package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/google/uuid"
)

type SecurityEventRepository struct {
	db *sql.DB
}

func NewSecurityEventRepository(db *sql.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Create appends one event. Events are never updated or deleted afterwards.
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
	}

	var userID interface{}
	if event.UserID != "" {
		userID = event.UserID
	}

	query := `INSERT INTO security_events (id, user_id, ip_address, user_agent, event_type, severity, description, metadata, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, event.ID, userID, event.IPAddress, event.UserAgent,
		event.EventType, event.Severity, event.Description, metadata, event.CreatedAt)
	return err
}

// CountByIPSince counts events of one type for an IP within a lookback window.
func (r *SecurityEventRepository) CountByIPSince(ctx context.Context, eventType models.EventType, ip string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM security_events WHERE event_type = $1 AND ip_address = $2 AND created_at > $3`
	err := r.db.QueryRowContext(ctx, query, eventType, ip, since).Scan(&count)
	return count, err
}

// CountByUserSince counts events of one type for a user within a lookback window.
func (r *SecurityEventRepository) CountByUserSince(ctx context.Context, eventType models.EventType, userID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM security_events WHERE event_type = $1 AND user_id = $2 AND created_at > $3`
	err := r.db.QueryRowContext(ctx, query, eventType, userID, since).Scan(&count)
	return count, err
}

// IPEventCounter presents the per-IP event count the IP ban manager scans.
type IPEventCounter struct {
	Repo *SecurityEventRepository
}

func (c IPEventCounter) Count(ctx context.Context, eventType models.EventType, subject string, since time.Time) (int, error) {
	return c.Repo.CountByIPSince(ctx, eventType, subject, since)
}

// UserEventCounter presents the per-user event count the user ban manager scans.
type UserEventCounter struct {
	Repo *SecurityEventRepository
}

func (c UserEventCounter) Count(ctx context.Context, eventType models.EventType, subject string, since time.Time) (int, error) {
	return c.Repo.CountByUserSince(ctx, eventType, subject, since)
}

// ListRecent returns the newest events, optionally filtered by type.
func (r *SecurityEventRepository) ListRecent(ctx context.Context, eventType models.EventType, limit int) ([]*models.SecurityEvent, error) {
	query := `SELECT id, user_id, ip_address, user_agent, event_type, severity, description, metadata, created_at
			  FROM security_events ORDER BY created_at DESC LIMIT $1`
	args := []interface{}{limit}
	if eventType != "" {
		query = `SELECT id, user_id, ip_address, user_agent, event_type, severity, description, metadata, created_at
				 FROM security_events WHERE event_type = $1 ORDER BY created_at DESC LIMIT $2`
		args = []interface{}{eventType, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.SecurityEvent
	for rows.Next() {
		event := &models.SecurityEvent{}
		var userID, userAgent, description sql.NullString
		var metadata []byte
		if err := rows.Scan(&event.ID, &userID, &event.IPAddress, &userAgent,
			&event.EventType, &event.Severity, &description, &metadata, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.UserID = userID.String
		event.UserAgent = userAgent.String
		event.Description = description.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
