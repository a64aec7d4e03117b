package kafka

import (
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/google/uuid"
)

// SecurityEventMessage is the wire form of a security event on the topic.
type SecurityEventMessage struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id,omitempty"`
	IPAddress   string                 `json:"ip_address"`
	UserAgent   string                 `json:"user_agent,omitempty"`
	EventType   string                 `json:"event_type"`
	Severity    string                 `json:"severity"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

func NewSecurityEventMessage(event *models.SecurityEvent) *SecurityEventMessage {
	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &SecurityEventMessage{
		ID:          id.String(),
		UserID:      event.UserID,
		IPAddress:   event.IPAddress,
		UserAgent:   event.UserAgent,
		EventType:   string(event.EventType),
		Severity:    string(event.Severity),
		Description: event.Description,
		Metadata:    event.Metadata,
		CreatedAt:   createdAt,
	}
}
