package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/pkg/utils"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultPingTimeout    = 2 * time.Second
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	nc             *nats.Conn
	js             nats.JetStreamContext
	log            *zap.Logger
	publishTimeout time.Duration
	reconnectWait  time.Duration
}

var _ ClientInterface = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for connection events. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithPublishTimeout bounds a publish whose context has no deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Client) { c.publishTimeout = d }
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) { c.reconnectWait = d }
}

// NewClient connects to NATS and opens a JetStream context. name identifies
// the connection in the server's monitoring endpoints. The client keeps
// reconnecting forever once connected.
func NewClient(url, name string, opts ...Option) (*Client, error) {
	c := &Client{
		log:            zap.NewNop(),
		publishTimeout: defaultPublishTimeout,
		reconnectWait:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	log := c.log.With(zap.String("connection", name))

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("NATS async error", fields...)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", apperrors.ErrNATS, url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream context: %w", apperrors.ErrNATS, err)
	}

	c.nc, c.js = nc, js
	return c, nil
}

// SetupStream creates the stream, or updates it when its config drifted.
func (c *Client) SetupStream(ctx context.Context, cfg *nats.StreamConfig) error {
	log := c.log.With(zap.String("stream", cfg.Name))

	info, err := c.js.StreamInfo(cfg.Name, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := c.js.AddStream(cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("add stream %s: %w", cfg.Name, err)
		}
		log.Info("Created stream", zap.Strings("subjects", cfg.Subjects))
		return nil
	case err != nil:
		return fmt.Errorf("stream info %s: %w", cfg.Name, err)
	}

	if utils.StreamConfigEqual(info.Config, *cfg) {
		return nil
	}
	if _, err := c.js.UpdateStream(cfg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("update stream %s: %w", cfg.Name, err)
	}
	log.Info("Updated stream", zap.Strings("subjects", cfg.Subjects))
	return nil
}

// SetupConsumer creates the durable consumer on stream. Most consumer fields
// are immutable, so a consumer whose config drifted is deleted and re-added.
func (c *Client) SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error {
	log := c.log.With(zap.String("stream", stream), zap.String("consumer", cfg.Durable))

	info, err := c.js.ConsumerInfo(stream, cfg.Durable, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
		if _, err := c.js.AddConsumer(stream, cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("add consumer %s on %s: %w", cfg.Durable, stream, err)
		}
		log.Info("Created consumer",
			zap.String("deliver_subject", cfg.DeliverSubject),
			zap.String("queue_group", cfg.DeliverGroup),
			zap.Int("max_deliver", cfg.MaxDeliver),
		)
		return nil
	case err != nil:
		return fmt.Errorf("consumer info %s on %s: %w", cfg.Durable, stream, err)
	}

	if utils.ConsumerConfigEqual(info.Config, *cfg) {
		return nil
	}

	log.Warn("Consumer config drifted, recreating",
		zap.Any("wanted", cfg),
		zap.Any("current", info.Config),
	)
	if err := c.js.DeleteConsumer(stream, cfg.Durable, nats.Context(ctx)); err != nil {
		return fmt.Errorf("delete consumer %s on %s: %w", cfg.Durable, stream, err)
	}
	if _, err := c.js.AddConsumer(stream, cfg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("re-add consumer %s on %s: %w", cfg.Durable, stream, err)
	}
	return nil
}

// SubscribePush binds a manual-ack queue subscription to an existing push consumer.
func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(subject, group, handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s as %s: %w", apperrors.ErrNATS, subject, consumer, err)
	}
	return sub, nil
}

// SubscribePull binds a pull subscription to an existing consumer.
func (c *Client) SubscribePull(stream, subject, consumer string) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(subject, consumer, nats.Bind(stream, consumer))
	if err != nil {
		return nil, fmt.Errorf("%w: pull subscribe %s on %s: %w", apperrors.ErrNATS, consumer, stream, err)
	}
	return sub, nil
}

// Publish publishes to a stream subject and waits for the JetStream ack.
// A Nats-Msg-Id header lets the stream drop duplicates.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.publishTimeout)
		defer cancel()
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	ack, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("%w: publish %s: %w", apperrors.ErrNATS, subject, err)
	}
	if ack.Duplicate {
		c.log.Debug("Duplicate publish dropped by stream",
			zap.String("subject", subject), zap.String("stream", ack.Stream))
	}
	return nil
}

// Ping round-trips to the server.
func (c *Client) Ping(ctx context.Context) error {
	if c.nc == nil || !c.nc.IsConnected() {
		return fmt.Errorf("%w: not connected", apperrors.ErrNATS)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPingTimeout)
		defer cancel()
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush: %w", apperrors.ErrNATS, err)
	}
	return nil
}

// Close drains nothing; in-flight subscriptions are stopped by their owners first.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
