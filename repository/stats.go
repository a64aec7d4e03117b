package repository

import (
	"context"
	"database/sql"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
)

type StatsRepository struct {
	db *sql.DB
}

func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// GetAbuseStats calls the abuse_statistics stored function for aggregate
// ban and violation counts.
func (r *StatsRepository) GetAbuseStats(ctx context.Context) (*models.AbuseStats, error) {
	stats := &models.AbuseStats{}
	query := `SELECT active_ip_bans, active_user_bans, events_last_hour, events_last_24h, rate_limit_events FROM abuse_statistics()`
	err := r.db.QueryRowContext(ctx, query).Scan(&stats.ActiveIPBans, &stats.ActiveUserBans,
		&stats.EventsLastHour, &stats.EventsLast24h, &stats.RateLimitEvents)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
