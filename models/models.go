package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventInvalidInput       EventType = "invalid_input"
	EventSystemMaintenance  EventType = "system_maintenance"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventQuotaExceeded      EventType = "quota_exceeded"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an append-only record of a security-relevant occurrence.
// Events are immutable once written.
type SecurityEvent struct {
	ID          uuid.UUID              `json:"id"`
	UserID      string                 `json:"user_id,omitempty"`
	IPAddress   string                 `json:"ip_address"`
	UserAgent   string                 `json:"user_agent,omitempty"`
	EventType   EventType              `json:"event_type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

type BanType string

const (
	BanTypeManual    BanType = "manual"
	BanTypeAutomatic BanType = "automatic"
)

// Ban covers both IP and user bans; Subject holds the IP address or user ID
// depending on which table the record lives in.
type Ban struct {
	ID          uuid.UUID  `json:"id"`
	Subject     string     `json:"subject"`
	Reason      string     `json:"reason"`
	Severity    Severity   `json:"severity"`
	BanType     BanType    `json:"ban_type"`
	IsActive    bool       `json:"is_active"`
	BannedAt    time.Time  `json:"banned_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	BannedBy    string     `json:"banned_by,omitempty"`
	UnbannedAt  *time.Time `json:"unbanned_at,omitempty"`
	UnbanReason string     `json:"unban_reason,omitempty"`
}

// Active reports whether the ban is in force at the given instant. Every
// read path uses this one definition: the is_active flag alone is not
// enough once expires_at has passed.
func (b *Ban) Active(now time.Time) bool {
	if !b.IsActive {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

type UsageType string

const (
	UsageConversation UsageType = "conversation_count"
	UsageImage        UsageType = "image_count"
)

// UsageRecord is the per-user per-day counter for one usage type.
type UsageRecord struct {
	UserID    string    `json:"user_id"`
	UsageType UsageType `json:"usage_type"`
	UsageDate time.Time `json:"usage_date"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RateLimitResult is the outcome of a sliding-window check.
type RateLimitResult struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	LimitType  string `json:"limit_type,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// BanResult is returned across the ban-manager boundary; store failures are
// folded into Error rather than surfaced as raw errors. Conflict marks a
// double ban or double unban as opposed to a store failure.
type BanResult struct {
	Success  bool   `json:"success"`
	Conflict bool   `json:"conflict,omitempty"`
	Ban      *Ban   `json:"ban,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UsageResult is the outcome of an atomic quota check-and-increment.
type UsageResult struct {
	Allowed  bool   `json:"allowed"`
	NewCount int    `json:"new_count"`
	Limit    int    `json:"limit"`
	Error    string `json:"error,omitempty"`
}

// AbuseStats is the aggregate returned by the abuse_statistics stored
// function.
type AbuseStats struct {
	ActiveIPBans    int `json:"active_ip_bans"`
	ActiveUserBans  int `json:"active_user_bans"`
	EventsLastHour  int `json:"events_last_hour"`
	EventsLast24h   int `json:"events_last_24h"`
	RateLimitEvents int `json:"rate_limit_events_last_24h"`
}
