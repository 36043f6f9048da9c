package intentQueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaProducer publishes with a kafka-go Writer. Messages with the same key go to the same partition.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a producer for brokers. The topic is chosen per Publish call.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaProducer{writer: writer}
}

// Publish writes one message and waits for all in-sync replicas to acknowledge it.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumerConfig configures a KafkaConsumer.
type KafkaConsumerConfig struct {
	Brokers []string
	GroupID string
	// RetryDelay is the pause after a failed fetch.
	RetryDelay time.Duration
}

// KafkaConsumer reads a topic as part of a consumer group. Offsets are committed by Ack.
//
// Kafka tracks one offset per partition, so acknowledging a message also acknowledges every
// earlier message of its partition.
type KafkaConsumer struct {
	config *KafkaConsumerConfig
	logger *zap.Logger
	reader *kafka.Reader
}

// NewKafkaConsumer validates cfg. No connection is made until Subscribe.
func NewKafkaConsumer(cfg *KafkaConsumerConfig, logger *zap.Logger) (*KafkaConsumer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 || cfg.GroupID == "" {
		return nil, errors.New("kafka consumer requires brokers and a group id")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &KafkaConsumer{config: cfg, logger: logger}, nil
}

// Subscribe fetches messages from topic until ctx is done.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler Handler) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.config.Brokers,
		GroupID:     c.config.GroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	c.logger.Sugar().Infow("Subscribed to kafka topic",
		zap.String("topic", topic),
		zap.String("group", c.config.GroupID),
	)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Sugar().Warnw("Failed to fetch kafka message", zap.String("topic", topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.config.RetryDelay):
			}
			continue
		}

		fetched := m
		msg := &Message{
			ID:      kafkaMessageID(fetched),
			Topic:   topic,
			Key:     string(fetched.Key),
			Payload: fetched.Value,
			ack: func(ctx context.Context) error {
				if err := c.reader.CommitMessages(ctx, fetched); err != nil {
					return fmt.Errorf("failed to commit offset %d: %w", fetched.Offset, err)
				}
				return nil
			},
		}
		if err := handler(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handler failed for %s: %w", msg.ID, err)
		}
	}
}

// kafkaMessageID is stable across redeliveries of the same message.
func kafkaMessageID(m kafka.Message) string {
	return m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
