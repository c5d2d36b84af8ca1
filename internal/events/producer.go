// Package events publishes lifecycle events for downstream collaborators
// (notifications, analytics). Publishing is best effort and never gates a
// lifecycle mutation; the database is the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/SuperGrowthServices/parts-market/internal/config"
)

const (
	TypeBidAccepted       = "bid.accepted"
	TypeOrderPaid         = "order.paid"
	TypePartStatusChanged = "part.status_changed"
)

type Event struct {
	EventID   string                 `json:"event_id"`
	Type      string                 `json:"type"`
	OrderID   int64                  `json:"order_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type Producer struct {
	writer *kafka.Writer
}

// NewProducer returns nil when events are disabled; a nil *Producer is safe
// to publish to and does nothing.
func NewProducer(cfg *config.EventsConfig) *Producer {
	if !cfg.Enabled {
		return nil
	}

	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish emits one lifecycle event keyed by order id, so events for the
// same order stay ordered within a partition.
func (p *Producer) Publish(ctx context.Context, eventType string, orderID int64, payload map[string]interface{}) error {
	if p == nil {
		return nil
	}

	event := Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		OrderID:   orderID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("ORDER#%d", orderID)),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
