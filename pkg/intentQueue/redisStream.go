package intentQueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const payloadField = "payload"

// RedisProducer publishes to Redis streams with XADD.
type RedisProducer struct {
	client *redis.Client
	// MaxLen trims the stream approximately to this many entries. Zero keeps everything.
	MaxLen int64
}

// NewRedisProducer creates a producer on client.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// Publish appends payload to the topic stream. key is stored alongside it.
func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			payloadField: payload,
			"key":        key,
		},
	}
	if p.MaxLen > 0 {
		args.MaxLen = p.MaxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying client.
func (p *RedisProducer) Close() error {
	return p.client.Close()
}

// RedisConsumerConfig configures a RedisConsumer.
type RedisConsumerConfig struct {
	// Group is the consumer group shared by all workers.
	Group string
	// Name identifies this consumer within the group. Its unacknowledged messages are
	// delivered again when a consumer with the same name restarts.
	Name string
	// Block is how long one XREADGROUP waits for new entries.
	Block time.Duration
	// Count is the maximum number of entries per read.
	Count int64
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
}

// DefaultRedisConsumerConfig returns a config for the given group and consumer name.
func DefaultRedisConsumerConfig(group, name string) *RedisConsumerConfig {
	return &RedisConsumerConfig{
		Group:      group,
		Name:       name,
		Block:      2 * time.Second,
		Count:      10,
		RetryDelay: time.Second,
	}
}

// RedisConsumer reads a Redis stream through a consumer group.
type RedisConsumer struct {
	client *redis.Client
	config *RedisConsumerConfig
	logger *zap.Logger
}

// NewRedisConsumer creates a consumer on client.
func NewRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig, logger *zap.Logger) (*RedisConsumer, error) {
	if cfg == nil || cfg.Group == "" || cfg.Name == "" {
		return nil, errors.New("redis consumer requires a group and a name")
	}
	return &RedisConsumer{client: client, config: cfg, logger: logger}, nil
}

// Subscribe creates the consumer group if needed, redelivers this consumer's pending entries,
// then reads new entries until ctx is done.
func (c *RedisConsumer) Subscribe(ctx context.Context, topic string, handler Handler) error {
	err := c.client.XGroupCreateMkStream(ctx, topic, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", c.config.Group, topic, err)
	}
	c.logger.Sugar().Infow("Subscribed to stream",
		zap.String("stream", topic),
		zap.String("group", c.config.Group),
		zap.String("consumer", c.config.Name),
	)

	// An explicit ID reads entries after it that were delivered to this consumer but never
	// acknowledged; ">" reads new ones.
	start := "0"
	for {
		if ctx.Err() != nil {
			return nil
		}
		block := c.config.Block
		if start != ">" {
			block = -1
		}
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.Name,
			Streams:  []string{topic, start},
			Count:    c.config.Count,
			Block:    block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			start = ">"
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Sugar().Warnw("Failed to read stream", zap.String("stream", topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.config.RetryDelay):
			}
			continue
		}

		delivered := 0
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				delivered++
				if start != ">" {
					start = entry.ID
				}
				if err := c.deliver(ctx, topic, entry, handler); err != nil {
					return err
				}
			}
		}
		if delivered == 0 {
			start = ">"
		}
	}
}

func (c *RedisConsumer) deliver(ctx context.Context, topic string, entry redis.XMessage, handler Handler) error {
	id := entry.ID
	ack := func(ctx context.Context) error {
		if err := c.client.XAck(ctx, topic, c.config.Group, id).Err(); err != nil {
			return fmt.Errorf("failed to ack %s on %s: %w", id, topic, err)
		}
		return nil
	}

	payload, ok := entry.Values[payloadField].(string)
	if !ok {
		c.logger.Sugar().Warnw("Dropping stream entry without payload", zap.String("stream", topic), zap.String("id", id))
		return ack(ctx)
	}
	key, _ := entry.Values["key"].(string)

	msg := &Message{ID: id, Topic: topic, Key: key, Payload: []byte(payload), ack: ack}
	if err := handler(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("handler failed for %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisConsumer) Close() error {
	return c.client.Close()
}
