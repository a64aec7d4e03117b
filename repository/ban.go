package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrActiveBanExists is returned when an insert collides with the partial
// unique index that allows at most one active ban per subject.
var ErrActiveBanExists = errors.New("active ban already exists for subject")

// BanRepository serves both ip_bans and user_bans; the two tables share a
// shape and differ only in the subject column.
type BanRepository struct {
	db         *sql.DB
	table      string
	subjectCol string
}

func NewIPBanRepository(db *sql.DB) *BanRepository {
	return &BanRepository{db: db, table: "ip_bans", subjectCol: "ip_address"}
}

func NewUserBanRepository(db *sql.DB) *BanRepository {
	return &BanRepository{db: db, table: "user_bans", subjectCol: "user_id"}
}

func (r *BanRepository) Insert(ctx context.Context, ban *models.Ban) error {
	if ban.ID == uuid.Nil {
		ban.ID = uuid.New()
	}
	if ban.BannedAt.IsZero() {
		ban.BannedAt = time.Now()
	}

	var bannedBy interface{}
	if ban.BannedBy != "" {
		bannedBy = ban.BannedBy
	}

	query := `INSERT INTO ` + r.table + ` (id, ` + r.subjectCol + `, reason, severity, ban_type, is_active, banned_at, expires_at, banned_by)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, ban.ID, ban.Subject, ban.Reason, ban.Severity,
		ban.BanType, ban.IsActive, ban.BannedAt, ban.ExpiresAt, bannedBy)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrActiveBanExists
	}
	return err
}

// GetActive returns the ban currently in force for a subject, or nil. The
// expiry predicate here matches the list queries and the sweeper exactly.
func (r *BanRepository) GetActive(ctx context.Context, subject string) (*models.Ban, error) {
	query := `SELECT id, ` + r.subjectCol + `, reason, severity, ban_type, is_active, banned_at, expires_at, banned_by, unbanned_at, unban_reason
			  FROM ` + r.table + `
			  WHERE ` + r.subjectCol + ` = $1 AND is_active AND (expires_at IS NULL OR expires_at > now())`
	ban, err := r.scanBan(r.db.QueryRowContext(ctx, query, subject))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ban, nil
}

// Deactivate lifts the active ban for a subject, recording when and why.
// Returns false when no ban was in force.
func (r *BanRepository) Deactivate(ctx context.Context, subject, reason string) (bool, error) {
	query := `UPDATE ` + r.table + `
			  SET is_active = false, unbanned_at = $1, unban_reason = $2
			  WHERE ` + r.subjectCol + ` = $3 AND is_active AND (expires_at IS NULL OR expires_at > now())`
	res, err := r.db.ExecContext(ctx, query, time.Now(), reason, subject)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SweepExpired flips is_active on bans whose expiry has passed, so later
// reads and the unique index see a consistent picture.
func (r *BanRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `UPDATE ` + r.table + `
			  SET is_active = false, unbanned_at = now(), unban_reason = 'expired'
			  WHERE is_active AND expires_at IS NOT NULL AND expires_at <= now()`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns bans newest first. With activeOnly set, only bans currently
// in force are returned, using the same predicate as GetActive.
func (r *BanRepository) List(ctx context.Context, activeOnly bool, limit int) ([]*models.Ban, error) {
	query := `SELECT id, ` + r.subjectCol + `, reason, severity, ban_type, is_active, banned_at, expires_at, banned_by, unbanned_at, unban_reason
			  FROM ` + r.table
	if activeOnly {
		query += ` WHERE is_active AND (expires_at IS NULL OR expires_at > now())`
	}
	query += ` ORDER BY banned_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []*models.Ban
	for rows.Next() {
		ban, err := r.scanBan(rows)
		if err != nil {
			return nil, err
		}
		bans = append(bans, ban)
	}
	return bans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *BanRepository) scanBan(row rowScanner) (*models.Ban, error) {
	ban := &models.Ban{}
	var expiresAt, unbannedAt sql.NullTime
	var bannedBy, unbanReason sql.NullString
	err := row.Scan(&ban.ID, &ban.Subject, &ban.Reason, &ban.Severity, &ban.BanType,
		&ban.IsActive, &ban.BannedAt, &expiresAt, &bannedBy, &unbannedAt, &unbanReason)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		ban.ExpiresAt = &expiresAt.Time
	}
	if unbannedAt.Valid {
		ban.UnbannedAt = &unbannedAt.Time
	}
	ban.BannedBy = bannedBy.String
	ban.UnbanReason = unbanReason.String
	return ban, nil
}
