// Package consumer reads domain events from a Redis Stream and feeds them
// into the rule engine.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-notify/internal/config"
	"wisefido-notify/internal/models"
	"wisefido-notify/internal/redisx"
)

// Processor matches one event against the active EVENT_BASED rules.
type Processor interface {
	ProcessEvent(ctx context.Context, eventCode string, payload map[string]interface{}) (int, error)
}

// HeartbeatWriter records the consumer's liveness.
type HeartbeatWriter interface {
	Upsert(ctx context.Context, jobCode, status, details string, now time.Time) error
}

// streamEvent is the message body published to the event stream, carried
// as JSON in the "data" field of each stream entry.
type streamEvent struct {
	EventCode string                 `json:"event_code"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventConsumer is the long-running stream reader. Malformed messages are
// acknowledged and logged so they never block the group; processing errors
// leave the message pending for redelivery.
type EventConsumer struct {
	client    *redis.Client
	cfg       config.EventsConfig
	processor Processor
	heartbeat HeartbeatWriter
	logger    *zap.Logger

	processed int64
	failed    int64

	// failedAtLastBeat snapshots failed at the previous heartbeat so the
	// status reflects the interval, not the process lifetime.
	failedAtLastBeat int64
}

// NewEventConsumer creates the event consumer.
func NewEventConsumer(client *redis.Client, cfg config.EventsConfig, processor Processor, heartbeat HeartbeatWriter, logger *zap.Logger) *EventConsumer {
	return &EventConsumer{
		client:    client,
		cfg:       cfg,
		processor: processor,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Start reads the stream until the context is cancelled.
func (c *EventConsumer) Start(ctx context.Context) error {
	if err := redisx.EnsureGroup(ctx, c.client, c.cfg.Stream, c.cfg.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	c.logger.Info("Event consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("group", c.cfg.ConsumerGroup),
		zap.String("consumer", c.cfg.Consumer),
	)

	heartbeatTicker := time.NewTicker(time.Minute)
	defer heartbeatTicker.Stop()
	c.writeHeartbeat(ctx)

	block := time.Duration(c.cfg.BlockSeconds) * time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event consumer stopped")
			return nil
		case <-heartbeatTicker.C:
			c.writeHeartbeat(ctx)
		default:
		}

		messages, err := redisx.ReadGroup(ctx, c.client, c.cfg.Stream, c.cfg.ConsumerGroup, c.cfg.Consumer, int64(c.cfg.BatchCount), block)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Event consumer stopped")
				return nil
			}
			c.logger.Error("Failed to read event stream",
				zap.Error(err),
			)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage decodes and processes one stream entry.
func (c *EventConsumer) handleMessage(ctx context.Context, msg redisx.StreamMessage) {
	event, err := decodeEvent(msg)
	if err != nil {
		c.failed++
		c.logger.Warn("Malformed event message, acknowledged and skipped",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		c.ack(ctx, msg.ID)
		return
	}

	raised, err := c.processor.ProcessEvent(ctx, event.EventCode, event.Payload)
	if err != nil {
		c.failed++
		// Acked anyway: rules re-fire on the next matching event, not by
		// redelivery, and an unacked message would sit in the group's
		// pending list forever.
		c.logger.Error("Failed to process event",
			zap.String("message_id", msg.ID),
			zap.String("event_code", event.EventCode),
			zap.Error(err),
		)
		c.ack(ctx, msg.ID)
		return
	}

	c.processed++
	if raised > 0 {
		c.logger.Info("Event raised issues",
			zap.String("event_code", event.EventCode),
			zap.Int("issues_raised", raised),
		)
	}
	c.ack(ctx, msg.ID)
}

func (c *EventConsumer) ack(ctx context.Context, id string) {
	if err := redisx.Ack(ctx, c.client, c.cfg.Stream, c.cfg.ConsumerGroup, id); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("message_id", id),
			zap.Error(err),
		)
	}
}

func (c *EventConsumer) writeHeartbeat(ctx context.Context) {
	details := fmt.Sprintf("Processed: %d, Failed: %d", c.processed, c.failed)
	status := models.JobStatusOK
	if c.failed > c.failedAtLastBeat {
		status = models.JobStatusWarning
	}
	c.failedAtLastBeat = c.failed
	if err := c.heartbeat.Upsert(ctx, models.JobCodeEventConsumer, status, details, time.Now()); err != nil {
		c.logger.Error("Failed to write heartbeat",
			zap.Error(err),
		)
	}
}

func decodeEvent(msg redisx.StreamMessage) (*streamEvent, error) {
	raw, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("message has no data field")
	}
	data, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("data field is not a string")
	}

	var event streamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.EventCode == "" {
		return nil, fmt.Errorf("event_code is required")
	}
	if event.Payload == nil {
		event.Payload = map[string]interface{}{}
	}
	return &event, nil
}
