package ingestion

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/ingress"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/tenant"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// EventHandler processes one parsed webhook
type EventHandler func(ctx context.Context, hook *model.Webhook, metadata *model.MessageMetadata) error

// Router routes webhooks to the handler registered for their event
type Router struct {
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Register registers a handler for an event type
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[model.NormalizeEventType(string(eventType))] = handler
}

// RegisterDefault registers a default handler for unknown event types
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// InstanceFromSubject returns the last token of a webhook subject,
// v1.wa.webhook.<instance>.
func InstanceFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// Route parses the delivery and dispatches it. A payload that cannot be
// parsed is fatal, it will never succeed on redelivery.
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	if metadata.Instance == "" {
		metadata.Instance = InstanceFromSubject(metadata.MessageSubject)
	}

	ctx = tenant.WithInstance(ctx, metadata.Instance)
	ctx = logger.WithLogger(ctx, logger.FromContextOr(ctx, logger.Log).With(
		zap.String("subject", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
	))
	log := logger.FromContext(ctx)

	hook, err := ingress.ParseWebhook(rawEvent, metadata.Instance)
	if err != nil {
		return apperrors.NewFatal(err, "parse webhook")
	}

	log.Info("Event received",
		zap.String("event", string(hook.Event)),
		zap.Int("items", len(hook.Items)),
		zap.Int("payload_bytes", len(rawEvent)),
	)

	handler, ok := r.handlers[hook.Event]
	if !ok && r.defaultHandler != nil {
		log.Debug("No specific handler for event type, using default")
		return r.defaultHandler(ctx, hook, metadata)
	} else if !ok {
		log.Debug("Ignoring event without handler", zap.String("event", string(hook.Event)))
		return nil
	}

	return handler(ctx, hook, metadata)
}

// WebhookEventHandler adapts a WebhookHandler to the router. Storage and
// broker failures are retryable; everything else goes to the DLQ.
func WebhookEventHandler(h WebhookHandler) EventHandler {
	return func(ctx context.Context, hook *model.Webhook, metadata *model.MessageMetadata) error {
		result, err := h.Handle(ctx, hook)
		if err != nil {
			return apperrors.Classify(err, "handle webhook")
		}
		logger.FromContext(ctx).Info("Webhook handled",
			zap.Int("count", result.Count),
			zap.Int("replies", len(result.Replies)),
		)
		return nil
	}
}
