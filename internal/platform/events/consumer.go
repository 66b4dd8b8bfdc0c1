// Package events consumes domain events from Kafka. Other subsystems (queue
// calls, lab results, appointment reminders) publish notification events
// that are fed to a Sink.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ErrMalformedEvent marks an event that can never be delivered. Sinks wrap
// it so the consumer skips the message instead of retrying.
var ErrMalformedEvent = errors.New("events: malformed event")

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
)

// NotificationEvent is the message published on the notification topic.
type NotificationEvent struct {
	EventType   string                 `json:"eventType"`
	Audience    string                 `json:"audience"`
	UserIDs     []string               `json:"userIds,omitempty"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Priority    string                 `json:"priority,omitempty"`
	ActionURL   string                 `json:"actionUrl,omitempty"`
	RelatedData map[string]interface{} `json:"relatedData,omitempty"`
}

// Sink receives decoded events.
type Sink interface {
	HandleEvent(ctx context.Context, ev NotificationEvent) error
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig configures the Kafka reader.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads notification events and hands them to a Sink. Offsets are
// committed after each message is handled or skipped.
type Consumer struct {
	reader      MessageReader
	sink        Sink
	logger      zerolog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg ConsumerConfig, sink Sink, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newConsumer(reader, sink, logger.With().Str("topic", cfg.Topic).Logger())
}

func newConsumer(reader MessageReader, sink Sink, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader:      reader,
		sink:        sink,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// Run consumes until ctx is cancelled, which is a clean exit. A fetch or
// commit failure is returned.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("event consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("event consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	log := c.logger.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	var ev NotificationEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.Warn().Err(err).Msg("skipping undecodable event")
		return
	}

	for attempt := 1; ; attempt++ {
		err := c.sink.HandleEvent(ctx, ev)
		if err == nil {
			log.Debug().Str("event_type", ev.EventType).Msg("event handled")
			return
		}
		if errors.Is(err, ErrMalformedEvent) {
			log.Warn().Err(err).Str("event_type", ev.EventType).Msg("skipping malformed event")
			return
		}
		if attempt >= c.maxAttempts {
			log.Error().Err(err).Int("attempts", attempt).Str("event_type", ev.EventType).Msg("dropping event after retries")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
}
