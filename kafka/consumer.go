package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/bans"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader  *kafka.Reader
	handler EventHandler
}

type EventHandler interface {
	HandleSecurityEvent(ctx context.Context, msg *SecurityEventMessage) error
}

func NewConsumer(brokers []string, topic string, groupID string, handler EventHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader:  reader,
		handler: handler,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				msg, err := c.reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("error reading message: %v", err)
					continue
				}

				var event SecurityEventMessage
				if err := json.Unmarshal(msg.Value, &event); err != nil {
					log.Printf("error unmarshaling event: %v", err)
					continue
				}

				if err := c.handler.HandleSecurityEvent(ctx, &event); err != nil {
					log.Printf("error handling event: %v", err)
				}
			}
		}
	}()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// AutoBanHandler reacts to rate-limit violations on the stream by asking
// the matching ban manager to evaluate its threshold rule. This keeps ban
// evaluation off the request path.
type AutoBanHandler struct {
	IPManager   *bans.Manager
	UserManager *bans.Manager
}

func (h *AutoBanHandler) HandleSecurityEvent(ctx context.Context, msg *SecurityEventMessage) error {
	if msg.EventType != string(models.EventRateLimitExceeded) {
		return nil
	}

	if msg.IPAddress != "" && h.IPManager != nil {
		h.IPManager.CheckAndAutoBan(ctx, msg.IPAddress)
	}
	if msg.UserID != "" && h.UserManager != nil {
		h.UserManager.CheckAndAutoBan(ctx, msg.UserID)
	}
	return nil
}
