package ingestion

import (
	"context"

	"github.com/kailera/acertaia-api/internal/model"
)

// WebhookHandler answers one parsed gateway delivery.
type WebhookHandler interface {
	Handle(ctx context.Context, w *model.Webhook) (*model.WebhookResult, error)
}

// Dispatcher hands a raw gateway delivery to its handler. The live consumer
// and the dead-letter replay share one.
type Dispatcher interface {
	Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error
}

// ConsumerInterface is the lifecycle of a JetStream consumer.
type ConsumerInterface interface {
	Setup() error
	Start() error
	Stop()
}

var (
	_ Dispatcher        = (*Router)(nil)
	_ ConsumerInterface = (*WebhookConsumer)(nil)
)
