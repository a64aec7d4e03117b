package audit

import (
	"context"
	"log"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
)

// Store is the append-only sink for security events.
type Store interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
}

// Publisher pushes events onto the stream consumed by the auto-ban
// evaluator. Optional.
type Publisher interface {
	Publish(ctx context.Context, event *models.SecurityEvent) error
}

// Logger appends security events as an evidentiary trail. Logging is
// fire-and-forget: store or publish failures are logged locally and never
// propagated, so the trail cannot break the request it observes.
type Logger struct {
	store     Store
	publisher Publisher
	log       *log.Logger
}

func NewLogger(store Store, publisher Publisher, logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.Default()
	}
	return &Logger{store: store, publisher: publisher, log: logger}
}

func (l *Logger) Log(ctx context.Context, event *models.SecurityEvent) {
	if l.store != nil {
		if err := l.store.Create(ctx, event); err != nil {
			l.log.Printf("failed to persist security event %s: %v", event.EventType, err)
		}
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, event); err != nil {
			l.log.Printf("failed to publish security event %s: %v", event.EventType, err)
		}
	}
}

// LogRateLimitExceeded records a rate-limit violation for later threshold
// evaluation by the ban managers.
func (l *Logger) LogRateLimitExceeded(ctx context.Context, userID, ip, userAgent, limitType string) {
	l.Log(ctx, &models.SecurityEvent{
		UserID:      userID,
		IPAddress:   ip,
		UserAgent:   userAgent,
		EventType:   models.EventRateLimitExceeded,
		Severity:    models.SeverityMedium,
		Description: "request rejected by sliding-window rate limiter",
		Metadata:    map[string]interface{}{"limit_type": limitType},
	})
}

// LogUnauthorizedAccess records a request rejected by the ban check or the
// authentication collaborator.
func (l *Logger) LogUnauthorizedAccess(ctx context.Context, userID, ip, userAgent, description string) {
	l.Log(ctx, &models.SecurityEvent{
		UserID:      userID,
		IPAddress:   ip,
		UserAgent:   userAgent,
		EventType:   models.EventUnauthorizedAccess,
		Severity:    models.SeverityHigh,
		Description: description,
	})
}

// LogInvalidInput records a request rejected by input validation, including
// blocked upstream URLs.
func (l *Logger) LogInvalidInput(ctx context.Context, userID, ip, userAgent, description string, metadata map[string]interface{}) {
	l.Log(ctx, &models.SecurityEvent{
		UserID:      userID,
		IPAddress:   ip,
		UserAgent:   userAgent,
		EventType:   models.EventInvalidInput,
		Severity:    models.SeverityLow,
		Description: description,
		Metadata:    metadata,
	})
}
