package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"Thalos_Prime/backend/go/internal/models"
	"Thalos_Prime/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// IntentMessage is the payload accepted on the intake topic.
type IntentMessage struct {
	Intent   string            `json:"intent"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Submitter accepts intents; *service.Coordinator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, intent string, metadata map[string]string) (models.Task, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// IntentConsumer reads intents from Kafka and submits them as tasks.
type IntentConsumer struct {
	reader    messageReader
	submitter Submitter
	logger    *logger.Logger
	wg        sync.WaitGroup
}

// NewIntentConsumer creates a new IntentConsumer.
func NewIntentConsumer(brokers []string, topic, groupID string, submitter Submitter, log *logger.Logger) *IntentConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,    // intents are small, deliver immediately
		MaxBytes: 10e6, // 10MB
	})
	return &IntentConsumer{reader: reader, submitter: submitter, logger: log}
}

// Start begins consuming messages until ctx is done.
func (c *IntentConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Info("Stopping Kafka intent consumer...")
					return
				}
				if errors.Is(err, io.EOF) {
					return // reader closed
				}
				c.logger.WithError(models.NewErrorInfo(err)).Error("Error fetching message from Kafka")
				continue
			}

			if err := c.HandleMessage(ctx, msg); err != nil {
				c.logger.WithError(models.NewErrorInfo(err)).WithPayload(map[string]interface{}{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Error("Error handling Kafka message")
			}

			// Malformed or rejected intents are committed too; redelivery would fail the same way.
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.WithError(models.NewErrorInfo(err)).Error("Failed to commit Kafka message")
			}
		}
	}()
}

// HandleMessage decodes one intake message and submits it.
func (c *IntentConsumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var in IntentMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return fmt.Errorf("decode intent message: %w", err)
	}
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	if _, ok := in.Metadata["source"]; !ok {
		in.Metadata["source"] = "kafka"
	}

	task, err := c.submitter.Submit(ctx, in.Intent, in.Metadata)
	if err != nil {
		return fmt.Errorf("submit intent: %w", err)
	}
	c.logger.WithTrace(task.ID).WithPayload(map[string]interface{}{
		"offset": msg.Offset,
	}).Info("Intent received from Kafka")
	return nil
}

// Close closes the underlying Kafka reader and waits for the consume loop to exit.
func (c *IntentConsumer) Close() error {
	err := c.reader.Close()
	c.wg.Wait()
	return err
}
