package bans

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/repository"
)

var (
	ErrAlreadyBanned = errors.New("subject already has an active ban")
	ErrNotBanned     = errors.New("subject has no active ban")
)

// Store is the slice of a ban table the manager needs.
type Store interface {
	Insert(ctx context.Context, ban *models.Ban) error
	GetActive(ctx context.Context, subject string) (*models.Ban, error)
	Deactivate(ctx context.Context, subject, reason string) (bool, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// EventCounter counts recent security events for a subject.
type EventCounter interface {
	Count(ctx context.Context, eventType models.EventType, subject string, since time.Time) (int, error)
}

// Policy fixes the automatic-ban rule for one subject kind.
type Policy struct {
	Kind             string
	AutoBanLookback  time.Duration
	AutoBanThreshold int
	AutoBanDuration  time.Duration
}

func IPPolicy() Policy {
	return Policy{Kind: "ip", AutoBanLookback: 10 * time.Minute, AutoBanThreshold: 5, AutoBanDuration: 30 * time.Minute}
}

func UserPolicy() Policy {
	return Policy{Kind: "user", AutoBanLookback: 15 * time.Minute, AutoBanThreshold: 3, AutoBanDuration: 60 * time.Minute}
}

// Manager runs the UNBANNED -> BANNED -> UNBANNED state machine for one
// subject kind. Bans do not nest: a second ban while one is active is a
// conflict, not an overwrite.
type Manager struct {
	store  Store
	events EventCounter
	policy Policy
	log    *log.Logger
}

func NewIPManager(store Store, events EventCounter, logger *log.Logger) *Manager {
	return newManager(store, events, IPPolicy(), logger)
}

func NewUserManager(store Store, events EventCounter, logger *log.Logger) *Manager {
	return newManager(store, events, UserPolicy(), logger)
}

func newManager(store Store, events EventCounter, policy Policy, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{store: store, events: events, policy: policy, log: logger}
}

// IsBanned reports whether an active, non-expired ban exists. A store
// failure is logged and treated as not banned so a flaky store cannot lock
// everyone out.
func (m *Manager) IsBanned(ctx context.Context, subject string) bool {
	ban, err := m.store.GetActive(ctx, subject)
	if err != nil {
		m.log.Printf("ban lookup failed for %s %s: %v", m.policy.Kind, subject, err)
		return false
	}
	return ban != nil
}

// Ban creates a ban record. durationMinutes of zero means permanent.
// The ban is manual when actorID names the administrator, automatic
// otherwise.
func (m *Manager) Ban(ctx context.Context, subject, reason string, durationMinutes int, severity models.Severity, actorID string) *models.BanResult {
	existing, err := m.store.GetActive(ctx, subject)
	if err != nil {
		return storeFailure(err)
	}
	if existing != nil {
		return &models.BanResult{Conflict: true, Ban: existing, Error: ErrAlreadyBanned.Error()}
	}

	if severity == "" {
		severity = models.SeverityMedium
	}
	banType := models.BanTypeAutomatic
	if actorID != "" {
		banType = models.BanTypeManual
	}

	ban := &models.Ban{
		Subject:  subject,
		Reason:   reason,
		Severity: severity,
		BanType:  banType,
		IsActive: true,
		BannedAt: time.Now(),
		BannedBy: actorID,
	}
	if durationMinutes > 0 {
		expires := ban.BannedAt.Add(time.Duration(durationMinutes) * time.Minute)
		ban.ExpiresAt = &expires
	}

	if err := m.store.Insert(ctx, ban); err != nil {
		// Lost the race against a concurrent ban of the same subject.
		if errors.Is(err, repository.ErrActiveBanExists) {
			return &models.BanResult{Conflict: true, Error: ErrAlreadyBanned.Error()}
		}
		return storeFailure(err)
	}

	m.log.Printf("%s %s banned (%s): %s", m.policy.Kind, subject, banType, reason)
	return &models.BanResult{Success: true, Ban: ban}
}

// Unban lifts the active ban, stamping when and why. Unbanning a subject
// without an active ban is a conflict.
func (m *Manager) Unban(ctx context.Context, subject, reason string) *models.BanResult {
	ok, err := m.store.Deactivate(ctx, subject, reason)
	if err != nil {
		return storeFailure(err)
	}
	if !ok {
		return &models.BanResult{Conflict: true, Error: ErrNotBanned.Error()}
	}

	m.log.Printf("%s %s unbanned: %s", m.policy.Kind, subject, reason)
	return &models.BanResult{Success: true}
}

// CheckAndAutoBan counts recent rate-limit violations for the subject and
// bans it once the policy threshold is reached. Already-banned subjects are
// left alone.
func (m *Manager) CheckAndAutoBan(ctx context.Context, subject string) {
	since := time.Now().Add(-m.policy.AutoBanLookback)
	count, err := m.events.Count(ctx, models.EventRateLimitExceeded, subject, since)
	if err != nil {
		m.log.Printf("auto-ban event count failed for %s %s: %v", m.policy.Kind, subject, err)
		return
	}
	if count < m.policy.AutoBanThreshold {
		return
	}

	reason := fmt.Sprintf("automatic ban: %d rate limit violations within %s", count, m.policy.AutoBanLookback)
	duration := int(m.policy.AutoBanDuration / time.Minute)
	result := m.Ban(ctx, subject, reason, duration, models.SeverityMedium, "")
	if !result.Success && !result.Conflict {
		m.log.Printf("auto-ban failed for %s %s: %s", m.policy.Kind, subject, result.Error)
	}
}

// BanDetails returns the ban currently in force, or nil.
func (m *Manager) BanDetails(ctx context.Context, subject string) (*models.Ban, error) {
	return m.store.GetActive(ctx, subject)
}

func storeFailure(err error) *models.BanResult {
	return &models.BanResult{Error: "ban store failure: " + err.Error()}
}
