package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUsageStore mirrors the stored function: compare and increment under
// one lock, never past the limit.
type fakeUsageStore struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{counts: make(map[string]int)}
}

func usageKey(userID string, usageType models.UsageType, day time.Time) string {
	return userID + "|" + string(usageType) + "|" + day.Format("2006-01-02")
}

func (s *fakeUsageStore) CheckAndIncrement(ctx context.Context, userID string, usageType models.UsageType, day time.Time, limit int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, 0, s.err
	}
	key := usageKey(userID, usageType, day)
	if s.counts[key] >= limit {
		return false, s.counts[key], nil
	}
	s.counts[key]++
	return true, s.counts[key], nil
}

func (s *fakeUsageStore) Rollback(ctx context.Context, userID string, usageType models.UsageType, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	key := usageKey(userID, usageType, day)
	if s.counts[key] > 0 {
		s.counts[key]--
	}
	return s.counts[key], nil
}

func TestCheckAndRecordUsage(t *testing.T) {
	ctx := context.Background()
	levels := models.DefaultTrustLevels()

	t.Run("charges up to the limit then denies", func(t *testing.T) {
		store := newFakeUsageStore()
		m := NewManager(store, levels, nil)

		limit := levels.LimitFor(1, models.UsageConversation)
		require.Equal(t, 40, limit)

		for i := 1; i <= limit; i++ {
			result := m.CheckAndRecordUsage(ctx, "user-1", 1, models.UsageConversation)
			require.True(t, result.Allowed, "request %d should be within quota", i)
			assert.Equal(t, i, result.NewCount)
		}

		result := m.CheckAndRecordUsage(ctx, "user-1", 1, models.UsageConversation)
		assert.False(t, result.Allowed)
		assert.Equal(t, limit, result.NewCount, "denied request must not increment")
	})

	t.Run("usage types are independent", func(t *testing.T) {
		store := newFakeUsageStore()
		m := NewManager(store, levels, nil)

		for i := 0; i < 5; i++ {
			require.True(t, m.CheckAndRecordUsage(ctx, "user-2", 1, models.UsageImage).Allowed)
		}
		assert.False(t, m.CheckAndRecordUsage(ctx, "user-2", 1, models.UsageImage).Allowed)
		assert.True(t, m.CheckAndRecordUsage(ctx, "user-2", 1, models.UsageConversation).Allowed)
	})

	t.Run("trust level zero is denied without touching the store", func(t *testing.T) {
		store := newFakeUsageStore()
		m := NewManager(store, levels, nil)

		result := m.CheckAndRecordUsage(ctx, "user-3", 0, models.UsageConversation)
		assert.False(t, result.Allowed)
		assert.Equal(t, 0, result.Limit)
		assert.NotEmpty(t, result.Error)
		assert.Empty(t, store.counts)
	})

	t.Run("unknown trust level is denied", func(t *testing.T) {
		store := newFakeUsageStore()
		m := NewManager(store, levels, nil)

		result := m.CheckAndRecordUsage(ctx, "user-4", 99, models.UsageConversation)
		assert.False(t, result.Allowed)
	})

	t.Run("store failure denies", func(t *testing.T) {
		store := newFakeUsageStore()
		store.err = errors.New("connection reset")
		m := NewManager(store, levels, nil)

		result := m.CheckAndRecordUsage(ctx, "user-5", 4, models.UsageConversation)
		assert.False(t, result.Allowed)
		assert.Equal(t, "usage store failure", result.Error)
	})

	t.Run("concurrent calls never overshoot", func(t *testing.T) {
		store := newFakeUsageStore()
		m := NewManager(store, levels, nil)

		limit := levels.LimitFor(2, models.UsageImage)
		require.Equal(t, 10, limit)

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if m.CheckAndRecordUsage(ctx, "user-6", 2, models.UsageImage).Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, limit, allowed)
		assert.Equal(t, limit, store.counts[usageKey("user-6", models.UsageImage, todayKeyDay())])
	})
}

func todayKeyDay() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func TestRollbackUsage(t *testing.T) {
	ctx := context.Background()
	levels := models.DefaultTrustLevels()
	store := newFakeUsageStore()
	m := NewManager(store, levels, nil)

	require.True(t, m.CheckAndRecordUsage(ctx, "user-7", 1, models.UsageConversation).Allowed)
	require.NoError(t, m.RollbackUsage(ctx, "user-7", models.UsageConversation))
	assert.Equal(t, 0, store.counts[usageKey("user-7", models.UsageConversation, todayKeyDay())])

	// Rolling back at zero stays at zero.
	require.NoError(t, m.RollbackUsage(ctx, "user-7", models.UsageConversation))
	assert.Equal(t, 0, store.counts[usageKey("user-7", models.UsageConversation, todayKeyDay())])
}

func TestNextResetTime(t *testing.T) {
	m := NewManager(newFakeUsageStore(), models.DefaultTrustLevels(), nil)

	reset := m.NextResetTime()
	now := time.Now()
	assert.True(t, reset.After(now))
	assert.LessOrEqual(t, reset.Sub(now), 24*time.Hour)
	assert.Equal(t, 0, reset.Hour())
	assert.Equal(t, 0, reset.Minute())
	assert.Equal(t, 0, reset.Second())
}

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2024, 3, 15, 23, 59, 30, 0, loc)
	got := nextMidnight(now)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, loc), got)

	early := time.Date(2024, 3, 15, 0, 0, 1, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, loc), nextMidnight(early))
}
