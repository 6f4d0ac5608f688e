package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Thalos_Prime/backend/go/internal/models"
	"Thalos_Prime/backend/go/pkg/circuitbreaker"
	"Thalos_Prime/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher publishes task lifecycle events to a Kafka topic, keyed by task id
// so that every event of one task lands on the same partition in order.
type EventPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	breaker      *circuitbreaker.Breaker
	logger       *logger.Logger
}

// NewEventPublisher creates an EventPublisher writing to topic on brokers.
func NewEventPublisher(brokers []string, topic string, writeTimeout time.Duration, breaker circuitbreaker.Settings, log *logger.Logger) *EventPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newEventPublisher(writer, topic, writeTimeout, breaker, log)
}

func newEventPublisher(writer messageWriter, topic string, writeTimeout time.Duration, settings circuitbreaker.Settings, log *logger.Logger) *EventPublisher {
	p := &EventPublisher{
		writer:       writer,
		topic:        topic,
		writeTimeout: writeTimeout,
		logger:       log,
	}
	settings.OnStateChange = func(from, to circuitbreaker.State) {
		p.logger.WithPayload(map[string]interface{}{
			"topic": p.topic,
			"from":  from.String(),
			"to":    to.String(),
		}).Warn("Kafka event publisher circuit breaker changed state")
	}
	p.breaker = circuitbreaker.New(settings)
	return p
}

// Notify publishes event. While the breaker is open the event is dropped and
// circuitbreaker.ErrCircuitOpen is returned.
func (p *EventPublisher) Notify(ctx context.Context, event models.TaskEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.TaskID),
		Value: msgBytes,
		Time:  event.Timestamp,
	}

	return p.breaker.Do(func() error {
		writeCtx := ctx
		if p.writeTimeout > 0 {
			var cancel context.CancelFunc
			writeCtx, cancel = context.WithTimeout(ctx, p.writeTimeout)
			defer cancel()
		}
		if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
			return fmt.Errorf("write to topic %s: %w", p.topic, err)
		}
		return nil
	})
}

// Close closes the underlying Kafka writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
