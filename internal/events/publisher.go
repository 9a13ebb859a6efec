// Package events publishes circulation domain events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypeLoanCreated   = "LoanCreated"
	TypeLoanClosed    = "LoanClosed"
	TypeRequestPlaced = "RequestPlaced"
)

// Envelope is the message value written for every event.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Subject    uuid.UUID       `json:"subject"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

type Publisher struct {
	producer Producer
	topic    string
	logger   *zap.Logger
	now      func() time.Time
}

func NewPublisher(producer Producer, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		now:      time.Now,
	}
}

// Publish sends data as an event about subject, keyed by subject so events
// about the same loan or request stay ordered.
func (p *Publisher) Publish(ctx context.Context, eventType string, subject uuid.UUID, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	value, err := json.Marshal(Envelope{
		ID:         uuid.New(),
		Type:       eventType,
		Subject:    subject,
		OccurredAt: p.now().UTC(),
		Data:       raw,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.producer.SendMessage(ctx, p.topic, []byte(subject.String()), value,
		map[string]string{"event-type": eventType}); err != nil {
		return fmt.Errorf("publish %s for %s: %w", eventType, subject, err)
	}
	p.logger.Debug("event published",
		zap.String("type", eventType),
		zap.String("subject", subject.String()),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
