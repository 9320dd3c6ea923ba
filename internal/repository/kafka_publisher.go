package repository

import (
	"context"
	"fmt"

	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
)

// MessageWriter is the part of the kafka producer the publisher needs.
type MessageWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher ships engine events to a topic keyed by symbol, so
// one symbol's events stay ordered.
type KafkaEventPublisher struct {
	writer MessageWriter
	topic  string
}

func NewKafkaEventPublisher(writer MessageWriter, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, e models.Event) error {
	key := e.Symbol
	if key == "" {
		key = "engine"
	}
	if err := p.writer.Publish(ctx, p.topic, []byte(key), e); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Handle lets the publisher subscribe to the event bus.
func (p *KafkaEventPublisher) Handle(ctx context.Context, e models.Event) error {
	return p.Publish(ctx, e)
}

func (p *KafkaEventPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
