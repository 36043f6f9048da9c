// Package intentQueue feeds transaction intents from a message queue into a transaction manager
// and publishes the outcome of each one.
//
// Redis streams and Kafka are supported. Messages are acknowledged only after their outcome is
// published, so a crash redelivers them; the message ID is used as the idempotency key.
package intentQueue

import (
	"context"
	"errors"
)

var (
	// ErrInvalidMessage means a message payload cannot be decoded into an intent.
	ErrInvalidMessage = errors.New("intentQueue: invalid message")
)

// Message is a queue message independent of the broker it came from.
type Message struct {
	// ID identifies the message within its topic (Redis stream entry ID, or Kafka partition/offset).
	ID      string
	Topic   string
	Key     string
	Payload []byte

	ack func(ctx context.Context) error
}

// Ack marks the message as processed so it is not redelivered.
func (m *Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Handler receives messages. Handlers may return before the message is processed, in which case
// they own the call to Ack.
type Handler func(ctx context.Context, msg *Message) error

// Consumer delivers messages from one topic.
type Consumer interface {
	// Subscribe blocks, calling handler for each message, until ctx is done.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	Close() error
}

// Producer publishes messages.
type Producer interface {
	// Publish sends payload to topic. key selects the partition where the broker has partitions.
	Publish(ctx context.Context, topic string, key string, payload []byte) error

	Close() error
}
