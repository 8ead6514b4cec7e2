package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"github.com/kailera/acertaia-api/internal/jetstream"
)

// ClientMock stands in for the JetStream client.
type ClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*ClientMock)(nil)

func (m *ClientMock) SetupStream(ctx context.Context, cfg *nats.StreamConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *ClientMock) SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error {
	return m.Called(ctx, stream, cfg).Error(0)
}

func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *ClientMock) SubscribePull(stream, subject, consumer string) (*nats.Subscription, error) {
	args := m.Called(stream, subject, consumer)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

// Publish records the call without its context.
func (m *ClientMock) Publish(_ context.Context, subject string, data []byte, headers map[string]string) error {
	return m.Called(subject, data, headers).Error(0)
}

func (m *ClientMock) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *ClientMock) Close() {
	m.Called()
}

// Published returns the payloads passed to Publish for subject.
func (m *ClientMock) Published(subject string) [][]byte {
	var out [][]byte
	for _, call := range m.Calls {
		if call.Method == "Publish" && call.Arguments.String(0) == subject {
			out = append(out, call.Arguments.Get(1).([]byte))
		}
	}
	return out
}
