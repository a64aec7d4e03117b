package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
)

// Window is one sliding interval with its cap. Thresholds are "at most
// Limit per Duration": the Nth request in a window is still allowed, the
// (N+1)th is not.
type Window struct {
	Name     string
	Duration time.Duration
	Limit    int
}

// Decision is a store's verdict for one subject. Window names the first
// exceeded interval when denied.
type Decision struct {
	Allowed    bool
	Window     string
	RetryAfter int
}

// CounterStore tracks request timestamps per subject. Take purges stale
// entries, checks every window in order, and records the request only when
// all windows pass; a denial must not count toward future limits.
//
// MemoryStore keeps counters process-local (per-instance limits under
// horizontal scaling); RedisStore shares them across instances.
type CounterStore interface {
	Take(ctx context.Context, subject string, now time.Time, windows []Window) (*Decision, error)
	Reset(ctx context.Context, subject string, windows []Window) error
	Close() error
}

// UserWindows are the per-user thresholds, checked second -> minute -> hour.
func UserWindows() []Window {
	return []Window{
		{Name: "second", Duration: time.Second, Limit: 1},
		{Name: "minute", Duration: time.Minute, Limit: 30},
		{Name: "hour", Duration: time.Hour, Limit: 300},
	}
}

// IPWindows are the per-IP thresholds.
func IPWindows() []Window {
	return []Window{
		{Name: "minute", Duration: time.Minute, Limit: 100},
		{Name: "hour", Duration: time.Hour, Limit: 1000},
	}
}

type SlidingLimiter struct {
	store       CounterStore
	userWindows []Window
	ipWindows   []Window
}

func New(store CounterStore) *SlidingLimiter {
	return &SlidingLimiter{
		store:       store,
		userWindows: UserWindows(),
		ipWindows:   IPWindows(),
	}
}

// CheckSyncLimit evaluates the user's windows, then the IP's. The first
// exceeded window determines the rejection reason, limit type and
// retry-after. Either subject may be empty and is then skipped.
func (l *SlidingLimiter) CheckSyncLimit(ctx context.Context, userID, ip string) (*models.RateLimitResult, error) {
	now := time.Now()

	if userID != "" {
		decision, err := l.store.Take(ctx, "user:"+userID, now, l.userWindows)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return denied("user", decision), nil
		}
	}

	if ip != "" {
		decision, err := l.store.Take(ctx, "ip:"+ip, now, l.ipWindows)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return denied("ip", decision), nil
		}
	}

	return &models.RateLimitResult{Allowed: true}, nil
}

// ResetUserLimits clears every window for a user. Administrative escape
// hatch, also used by tests.
func (l *SlidingLimiter) ResetUserLimits(ctx context.Context, userID string) error {
	return l.store.Reset(ctx, "user:"+userID, l.userWindows)
}

// ResetIPLimits clears every window for an IP.
func (l *SlidingLimiter) ResetIPLimits(ctx context.Context, ip string) error {
	return l.store.Reset(ctx, "ip:"+ip, l.ipWindows)
}

func (l *SlidingLimiter) Close() error {
	return l.store.Close()
}

func denied(kind string, decision *Decision) *models.RateLimitResult {
	return &models.RateLimitResult{
		Allowed:    false,
		Reason:     fmt.Sprintf("%s rate limit exceeded for %s window", kind, decision.Window),
		LimitType:  kind + "_" + decision.Window,
		RetryAfter: decision.RetryAfter,
	}
}
