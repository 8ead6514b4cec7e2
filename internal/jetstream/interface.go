package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the slice of JetStream the consumers and publishers use.
type ClientInterface interface {
	SetupStream(ctx context.Context, cfg *nats.StreamConfig) error
	SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error

	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)
	SubscribePull(stream, subject, consumer string) (*nats.Subscription, error)

	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error

	// Ping reports whether the server answers.
	Ping(ctx context.Context) error
	Close()
}
