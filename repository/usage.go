package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
)

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// CheckAndIncrement runs the check_and_increment_usage stored function: the
// limit comparison and the increment happen in one statement under a row
// lock, so two concurrent calls cannot both pass on a stale count.
func (r *UsageRepository) CheckAndIncrement(ctx context.Context, userID string, usageType models.UsageType, day time.Time, limit int) (bool, int, error) {
	var allowed bool
	var newCount int
	query := `SELECT allowed, new_count FROM check_and_increment_usage($1, $2, $3, $4)`
	err := r.db.QueryRowContext(ctx, query, userID, usageType, day.Format("2006-01-02"), limit).Scan(&allowed, &newCount)
	if err != nil {
		return false, 0, err
	}
	return allowed, newCount, nil
}

// Rollback decrements a previously charged counter, floored at zero.
func (r *UsageRepository) Rollback(ctx context.Context, userID string, usageType models.UsageType, day time.Time) (int, error) {
	var newCount int
	query := `SELECT rollback_usage($1, $2, $3)`
	err := r.db.QueryRowContext(ctx, query, userID, usageType, day.Format("2006-01-02")).Scan(&newCount)
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// GetCount returns the consumed quota for a user and day.
func (r *UsageRepository) GetCount(ctx context.Context, userID string, usageType models.UsageType, day time.Time) (int, error) {
	var count int
	query := `SELECT used_count FROM daily_usage WHERE user_id = $1 AND usage_type = $2 AND usage_date = $3`
	err := r.db.QueryRowContext(ctx, query, userID, usageType, day.Format("2006-01-02")).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}
