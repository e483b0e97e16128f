package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/segmentio/kafka-go"
)

// CacheInvalidator drops a cached order.
type CacheInvalidator interface {
	Delete(ctx context.Context, id string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConsumer reads the orders topic and evicts cached orders whose
// status changed on another instance, so status polls never serve a stale
// pending_payment.
type KafkaConsumer struct {
	reader messageReader
	cache  CacheInvalidator
	logger *logging.Logger
	stopCh chan struct{}
}

// NewKafkaConsumer creates a new Kafka-based event consumer.
func NewKafkaConsumer(cfg config.KafkaConfig, cache CacheInvalidator, logger *logging.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.OrdersTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	return &KafkaConsumer{
		reader: reader,
		cache:  cache,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled or Stop is called.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
				continue
			}

			c.handleMessage(ctx, msg)
		}
	}
}

// Stop stops the consumer.
func (c *KafkaConsumer) Stop() {
	close(c.stopCh)
	_ = c.reader.Close()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{"error": err.Error()})
		return
	}

	switch event.Type {
	case EventTypeOrderStatusChanged:
		if err := c.cache.Delete(ctx, event.OrderID); err != nil {
			c.logger.Warn("Failed to evict cached order", logging.Fields{
				"order_id": event.OrderID,
				"error":    err.Error(),
			})
		}
	default:
		c.logger.Debug("Ignoring event type", logging.Fields{"type": event.Type})
	}
}
