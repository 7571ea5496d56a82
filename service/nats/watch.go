package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// WatchPayment streams the events of one payment request to handle until
// a terminal event arrives, handle returns an error, or ctx is done. The
// consumer is ephemeral and replays from the start of the stream, so events
// published before the call are delivered too.
func WatchPayment(ctx context.Context, natsURL, requestID string, logger *slog.Logger, handle func(*PaymentEvent) error) (*PaymentEvent, error) {
	nc, err := Connect(natsURL, "soltax-watch")
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: RequestSubject(requestID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgs := make(chan jetstream.Msg, 16)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-msgs:
			var ev PaymentEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				logger.WarnContext(ctx, "skipping malformed payment event", "subject", msg.Subject(), "error", err)
				_ = msg.Ack()
				continue
			}
			_ = msg.Ack()
			if err := handle(&ev); err != nil {
				return &ev, err
			}
			if ev.Terminal() {
				return &ev, nil
			}
		}
	}
}
