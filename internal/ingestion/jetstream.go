package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/jetstream"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

const consumerType = "webhook"

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // processed, ACK
	ActionNakDelay                     // retryable error, NAK with backoff
	ActionDLQ                          // fatal error or out of deliveries, publish to DLQ then ACK
)

// determineAckNakAction decides the fate of a message from the processing
// result and its delivery count.
func determineAckNakAction(
	processingErr error,
	numDelivered uint64,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	if numDelivered >= uint64(maxDeliver) || !apperrors.IsRetryable(processingErr) {
		return ActionDLQ, 0
	}

	delay = nakBaseDelay
	if numDelivered > 1 {
		delay = nakBaseDelay * (1 << (numDelivered - 1))
	}
	if delay > nakMaxDelay || delay <= 0 {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// WebhookConsumer consumes raw gateway webhooks published to
// v1.wa.webhook.<instance> and routes them like the HTTP endpoint does.
type WebhookConsumer struct {
	client     jetstream.ClientInterface
	router     Dispatcher
	cfg        config.ConsumerNatsConfig
	dlqSubject string
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWebhookConsumer creates the consumer. Failed messages end up on
// <dlqSubject>.<instance>.
func NewWebhookConsumer(client jetstream.ClientInterface, router Dispatcher, cfg config.ConsumerNatsConfig, dlqSubject string) *WebhookConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.Named("webhook_consumer"))
	return &WebhookConsumer{
		client:     client,
		router:     router,
		cfg:        cfg,
		dlqSubject: dlqSubject,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// StreamConfig is the stream the gateway publishes into.
func (c *WebhookConsumer) StreamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
}

// ConsumerConfig is the durable push consumer shared by every replica
// through the queue group.
func (c *WebhookConsumer) ConsumerConfig() *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        90 * time.Second, // agent calls can take up to a minute
		MaxAckPending:  500,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
}

// Setup configures the stream and consumer
func (c *WebhookConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up webhook consumer", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	if err := c.client.SetupStream(c.ctx, c.StreamConfig()); err != nil {
		return fmt.Errorf("failed to setup webhook stream '%s': %w", c.cfg.Stream, err)
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, c.ConsumerConfig()); err != nil {
		return fmt.Errorf("failed to setup webhook consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("Webhook consumer setup complete")
	return nil
}

// Start subscribes to the stream
func (c *WebhookConsumer) Start() error {
	log := logger.FromContext(c.ctx)

	subject := ""
	if len(c.cfg.SubjectList) > 0 {
		subject = c.cfg.SubjectList[0]
	}
	sub, err := c.client.SubscribePush(subject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe webhook consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe webhook consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("Webhook consumer subscribed", zap.String("subject", subject))
	return nil
}

// Stop drains the subscription and cancels in-flight handlers
func (c *WebhookConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining webhook subscription", zap.Error(err))
		}
	}
	c.cancel()
	log.Info("Webhook consumer stopped")
}

func (c *WebhookConsumer) handleMessage(msg *nats.Msg) {
	start := utils.Now()
	log := logger.FromContext(c.ctx)

	defer func() {
		observer.ObserveEventProcessingDuration(string(model.EventMessagesUpsert), consumerType, time.Since(start))
		if r := recover(); r != nil {
			log.Error("[panic] Recovered from panic in webhook handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Stack("stack"),
			)
			observer.IncEventProcessingAction("", consumerType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	meta, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err), zap.String("subject", msg.Subject))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction("", consumerType, "nak_metadata_error", "metadata")
		return
	}

	metadata := MetadataFor(msg, meta)
	observer.IncEventsReceived(string(model.EventMessagesUpsert), consumerType)

	msgCtx := logger.WithLogger(c.ctx, log.With(
		zap.String("nats_message_id", metadata.MessageID),
		zap.Uint64("stream_sequence", metadata.StreamSequence),
		zap.Uint64("num_delivered", metadata.NumDelivered),
	))
	processingErr := c.router.Route(msgCtx, metadata, msg.Data)

	c.settle(msgCtx, msg, metadata, processingErr)
}

// MetadataFor converts JetStream delivery metadata for the router.
func MetadataFor(msg *nats.Msg, meta *nats.MsgMetadata) *model.MessageMetadata {
	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get(nats.MsgIdHdr)
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", meta.Sequence.Stream)
	}
	return &model.MessageMetadata{
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		NumDelivered:     meta.NumDelivered,
		NumPending:       meta.NumPending,
		Timestamp:        meta.Timestamp,
		Stream:           meta.Stream,
		Consumer:         meta.Consumer,
		MessageID:        msgID,
		MessageSubject:   msg.Subject,
		Instance:         InstanceFromSubject(msg.Subject),
	}
}

// settle acks, naks or dead letters the message.
func (c *WebhookConsumer) settle(ctx context.Context, msg *nats.Msg, metadata *model.MessageMetadata, processingErr error) {
	log := logger.FromContext(ctx)
	event := string(model.EventMessagesUpsert)

	errorType := errorLabel(processingErr)

	action, delay := determineAckNakAction(processingErr, metadata.NumDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	switch action {
	case ActionAck:
		observer.IncEventProcessingAction(event, consumerType, "ack_success", errorType)
		if err := msg.Ack(); err != nil {
			log.Error("Failed to ACK message", zap.Error(err))
		}

	case ActionNakDelay:
		log.Info("NAKing message with delay for redelivery",
			zap.Error(processingErr),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", delay),
		)
		observer.IncEventProcessingAction(event, consumerType, "nak_retry", errorType)
		if err := msg.NakWithDelay(delay); err != nil {
			log.Error("Failed to NAK message with delay", zap.Error(err))
		}

	case ActionDLQ:
		if err := c.publishDLQ(ctx, metadata, msg.Data, processingErr); err != nil {
			log.Error("Failed to publish message to DLQ, NAKing original", zap.Error(err))
			observer.IncEventProcessingAction(event, consumerType, "nak_dlq_publish_fail", "dlq_publish_fail")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
			}
			return
		}
		log.Warn("Message sent to DLQ", zap.Error(processingErr), zap.Int("max_deliver", c.cfg.MaxDeliver))
		observer.IncEventProcessingAction(event, consumerType, "dlq_published_ack_success", errorType)
		if err := msg.Ack(); err != nil {
			log.Error("Failed to ACK message after DLQ publish", zap.Error(err))
		}
	}
}

// errorLabel keeps the metric and DLQ error_type bounded to three values.
func errorLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case apperrors.IsRetryable(err):
		return "retryable"
	default:
		return "fatal"
	}
}

func (c *WebhookConsumer) publishDLQ(ctx context.Context, metadata *model.MessageMetadata, data []byte, processingErr error) error {
	errorType := errorLabel(processingErr)

	payload := model.DLQPayload{
		SourceSubject:   metadata.MessageSubject,
		Instance:        metadata.Instance,
		OriginalPayload: json.RawMessage(data),
		Error:           processingErr.Error(),
		ErrorType:       errorType,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       time.Now().UTC(),
	}
	if !json.Valid(data) {
		// RawMessage must hold valid JSON, keep the bytes as a string instead
		quoted, _ := json.Marshal(string(data))
		payload.OriginalPayload = quoted
	}
	dlqData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	return c.client.Publish(ctx, fmt.Sprintf("%s.%s", c.dlqSubject, metadata.Instance), dlqData,
		map[string]string{"Original-Nats-Msg-Id": metadata.MessageID})
}
