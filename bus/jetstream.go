package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/0rooe/chat/contract"
	"github.com/0rooe/chat/domain/event"
	cherrors "github.com/0rooe/chat/errors"
)

const (
	streamName = "CHAT_EVENTS"
	eventTTL   = 7 * 24 * time.Hour
)

// JetStream is the durable bus. Publish returns once the server has
// acknowledged the append; durable consumers with explicit acks give
// at-least-once delivery, and a Nak sends the event around again.
type JetStream struct {
	js  jetstream.JetStream
	log *slog.Logger
}

// NewJetStream creates the stream if it does not exist yet and returns
// the bus handle.
func NewJetStream(ctx context.Context, nc *nats.Conn, log *slog.Logger) (*JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  StreamSubjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    eventTTL,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", streamName, err)
	}
	return &JetStream{js: js, log: log}, nil
}

func (b *JetStream) Publish(ctx context.Context, subject string, evt event.DeliveryEvent) error {
	data, err := Marshal(evt)
	if err != nil {
		return fmt.Errorf("%w: %v", cherrors.ErrPublish, err)
	}
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("%w: %v", cherrors.ErrPublish, err)
	}
	return nil
}

// Consume runs a durable consumer until ctx is done. Handler errors
// Nak the message for redelivery; undecodable payloads are acked away
// so they cannot poison the queue.
func (b *JetStream) Consume(ctx context.Context, durable string, subjects []string, h contract.EventHandler) error {
	stream, err := b.js.Stream(ctx, streamName)
	if err != nil {
		return err
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        durable,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: subjects,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		evt, err := Unmarshal(msg.Data())
		if err != nil {
			b.log.Error("Undecodable event acked away", "queue", durable, "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		if err := h(ctx, evt); err != nil {
			b.log.Warn("Handler failed, requesting redelivery", "queue", durable, "subject", msg.Subject(), "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return err
	}
	defer cc.Stop()

	<-ctx.Done()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
