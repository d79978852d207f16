package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tourtastic/tourtastic/pkg/logger"
)

// NotificationHandler processes one decoded booking notification.
type NotificationHandler func(ctx context.Context, event BookingNotification) error

// Consumer reads booking notifications off the notifications topic and hands
// them to the worker already decoded. A payload that does not decode is logged
// and skipped so one bad message cannot wedge the consumer group.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, groupID, topic string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Consume delivers notifications to handler until the context is canceled or
// the handler fails.
func (c *Consumer) Consume(ctx context.Context, handler NotificationHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}

		if err := dispatch(ctx, msg, handler); err != nil {
			return err
		}
	}
}

func dispatch(ctx context.Context, msg kafka.Message, handler NotificationHandler) error {
	var event BookingNotification
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Warn("skipping undecodable notification",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}
	return handler(ctx, event)
}
