package usage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
)

// Store provides the atomic quota primitives. CheckAndIncrement must
// compare and increment in one indivisible step; an in-process lock is not
// enough because instances share the store.
type Store interface {
	CheckAndIncrement(ctx context.Context, userID string, usageType models.UsageType, day time.Time, limit int) (bool, int, error)
	Rollback(ctx context.Context, userID string, usageType models.UsageType, day time.Time) (int, error)
}

// Manager gates quota-consuming operations by trust level. Quota windows
// are local calendar days; any store failure denies the request (the quota
// invariant is "never exceed the limit", so errors fail closed).
type Manager struct {
	store  Store
	levels *models.TrustLevelTable
	log    *log.Logger
}

func NewManager(store Store, levels *models.TrustLevelTable, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{store: store, levels: levels, log: logger}
}

// CheckAndRecordUsage charges one unit of quota if the user is under their
// daily limit. The check and the increment happen atomically in the store,
// so concurrent calls cannot overshoot.
func (m *Manager) CheckAndRecordUsage(ctx context.Context, userID string, trustLevel int, usageType models.UsageType) *models.UsageResult {
	limit := m.levels.LimitFor(trustLevel, usageType)
	if limit <= 0 {
		return &models.UsageResult{
			Limit: limit,
			Error: fmt.Sprintf("trust level %d has no %s quota", trustLevel, usageType),
		}
	}

	allowed, newCount, err := m.store.CheckAndIncrement(ctx, userID, usageType, today(), limit)
	if err != nil {
		m.log.Printf("usage check failed for user %s (%s): %v", userID, usageType, err)
		return &models.UsageResult{Limit: limit, Error: "usage store failure"}
	}

	return &models.UsageResult{Allowed: allowed, NewCount: newCount, Limit: limit}
}

// RollbackUsage refunds one unit after a downstream failure that happened
// after the quota was already charged.
func (m *Manager) RollbackUsage(ctx context.Context, userID string, usageType models.UsageType) error {
	_, err := m.store.Rollback(ctx, userID, usageType, today())
	if err != nil {
		m.log.Printf("usage rollback failed for user %s (%s): %v", userID, usageType, err)
	}
	return err
}

// NextResetTime is the next local midnight, when daily counters start over.
func (m *Manager) NextResetTime() time.Time {
	return nextMidnight(time.Now())
}

func today() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
