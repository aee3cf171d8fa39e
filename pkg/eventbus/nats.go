package eventbus

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/meshforge/listings/pkg/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// MaxInFlight bounds the number of unacknowledged messages delivered
// concurrently to a single subscription, per the back-pressure
// requirement in the concurrency model.
const MaxInFlight = 10

// MessageDeadline is the per-message handler deadline.
const MessageDeadline = 30 * time.Second

// NATSBus is a JetStream-backed Bus: one durable stream per subject
// namespace, durable pull consumers per queue group, explicit ack.
type NATSBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger

	mu   sync.Mutex
	subs []*natsSubscription
}

// Dial connects to endpoint with infinite reconnect attempts and
// bounded backoff, exiting the process on permanent closure so a
// supervisor restarts with a fresh connection, as the concurrency
// model requires.
func Dial(endpoint string, maxReconnectWait time.Duration, logger zerolog.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(endpoint,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(maxReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("event bus disconnected, reconnecting")
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info().Msg("event bus reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Error().Msg("event bus connection permanently closed, exiting for supervisor restart")
			os.Exit(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: jetstream: %w", err)
	}

	return &NATSBus{conn: conn, js: js, logger: logger}, nil
}

// EnsureStream creates or updates a durable stream covering the given
// subjects, so consumers see messages published while they were down.
func (b *NATSBus) EnsureStream(ctx context.Context, name string, subjects []string) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("eventbus: ensure stream %s: %w", name, err)
	}
	return nil
}

// Publish delivers payload to subject, deduplicating on msgID.
func (b *NATSBus) Publish(ctx context.Context, subject string, payload []byte, msgID string) error {
	_, err := b.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    payload,
		Header:  nats.Header{"Nats-Msg-Id": []string{msgID}},
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("eventbus: publish %s: %w", subject, err)
	}
	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
	return nil
}

// Subscribe creates (or reuses) a durable pull consumer named group on
// subject and starts delivering messages to handler with bounded
// in-flight and a per-message deadline.
func (b *NATSBus) Subscribe(subject, group string, handler Handler) (Subscription, error) {
	ctx := context.Background()

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamNameFor(subject), jetstream.ConsumerConfig{
		Durable:       group,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: MaxInFlight,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: create consumer %s/%s: %w", subject, group, err)
	}

	sub := &natsSubscription{logger: b.logger, done: make(chan struct{})}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		sub.wg.Add(1)
		defer sub.wg.Done()

		hctx, cancel := context.WithTimeout(context.Background(), MessageDeadline)
		defer cancel()

		if err := handler(hctx, msg.Data()); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("handler nacked message")
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: consume %s/%s: %w", subject, group, err)
	}
	sub.consumeCtx = consumeCtx

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Close drains every subscription and closes the connection.
func (b *NATSBus) Close(ctx context.Context) error {
	b.mu.Lock()
	subs := append([]*natsSubscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("error draining subscription")
		}
	}
	b.conn.Close()
	return nil
}

// streamNameFor derives a stable stream name from a subject's first
// token, upper-cased (e.g. "validate.image.start" -> "VALIDATE"). A
// subject with no '.' is returned unchanged.
func streamNameFor(subject string) string {
	for i, r := range subject {
		if r == '.' {
			return strings.ToUpper(subject[:i])
		}
	}
	return subject
}

type natsSubscription struct {
	consumeCtx jetstream.ConsumeContext
	wg         sync.WaitGroup
	logger     zerolog.Logger
	done       chan struct{}
}

// Drain stops new deliveries and waits for in-flight handlers.
func (s *natsSubscription) Drain(ctx context.Context) error {
	if s.consumeCtx != nil {
		s.consumeCtx.Stop()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
