package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// EventPublisher publishes checkout lifecycle events
type EventPublisher interface {
	// Publish sends an event. Delivery is asynchronous; failures are logged.
	Publish(ctx context.Context, event *domain.CheckoutEvent) error

	// Close flushes pending events and closes the publisher
	Close() error
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	client      *kgo.Client
	topic       string
	serviceName string
	log         *logger.Logger
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "checkout-events"
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "checkout-bff"
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "checkout-bff-producer"
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}

	return &KafkaEventPublisher{
		client:      client,
		topic:       topic,
		serviceName: serviceName,
		log:         logger.Get(),
	}, nil
}

// Publish implements EventPublisher
func (p *KafkaEventPublisher) Publish(ctx context.Context, event *domain.CheckoutEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "source", Value: []byte(p.serviceName)},
			{Key: "content_type", Value: []byte("application/json")},
		},
		Timestamp: event.OccurredAt,
	}

	p.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			p.log.Warn("failed to publish checkout event",
				zap.String("type", string(event.Type)),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	})
	return nil
}

// Close implements EventPublisher
func (p *KafkaEventPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}

// NoOpEventPublisher is used when Kafka is disabled
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// Publish is a no-op
func (p *NoOpEventPublisher) Publish(ctx context.Context, event *domain.CheckoutEvent) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}

// publish builds and sends an event, logging failures
func publish(ctx context.Context, p EventPublisher, eventType domain.CheckoutEventType, userID, eventID string, fill func(e *domain.CheckoutEvent)) {
	event := domain.NewCheckoutEvent(uuid.New().String(), eventType, userID, eventID)
	if fill != nil {
		fill(event)
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Get().Warn("failed to publish checkout event",
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
