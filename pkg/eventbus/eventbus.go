// Package eventbus is the Event Bus Adapter: a publish/subscribe
// abstraction over a durable, at-least-once message bus with manual
// ack/nack, queue groups, bounded in-flight delivery, and
// reconnect-with-backoff. The public surface generalizes the teacher's
// pkg/events in-memory Broker (subscribe returns a handle, Stop drains
// cleanly) onto a durable backend.
package eventbus

import "context"

// Handler is given a message payload and a per-message context with a
// deadline; returning nil acks the message, returning an error nacks
// it for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// Drain stops accepting new deliveries and waits for in-flight
	// handler invocations to finish before returning.
	Drain(ctx context.Context) error
}

// Bus is the capability set every bus implementation must provide.
type Bus interface {
	// Publish delivers payload to subject. msgID is used by the bus to
	// deduplicate redundant publishes (e.g. retries of the same
	// logical event).
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error

	// Subscribe registers handler as a queue-group member on subject:
	// exactly one member of group receives each message, modulo
	// redelivery.
	Subscribe(subject, group string, handler Handler) (Subscription, error)

	// Close drains all subscriptions and closes the underlying
	// connection.
	Close(ctx context.Context) error
}
