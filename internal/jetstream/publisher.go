package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
)

// RoutingPublisher publishes routing events to <subject>.<outcome>.
type RoutingPublisher struct {
	client  ClientInterface
	subject string
}

// NewRoutingPublisher creates a publisher rooted at subject, e.g. v1.routing.resolved.
func NewRoutingPublisher(client ClientInterface, subject string) *RoutingPublisher {
	return &RoutingPublisher{client: client, subject: subject}
}

// StreamConfig is the stream that captures the published routing events.
func (p *RoutingPublisher) StreamConfig(name string, maxAgeDays int64) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      name,
		Subjects:  []string{p.subject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(maxAgeDays*24) * time.Hour,
	}
}

// PublishRoutingEvent publishes one event. The conversation id doubles as
// Nats-Msg-Id prefix so a replayed resolution is deduplicated by the stream.
func (p *RoutingPublisher) PublishRoutingEvent(ctx context.Context, event *model.RoutingEvent) error {
	if event == nil {
		return fmt.Errorf("%w: nil routing event", apperrors.ErrBadRequest)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal routing event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.subject, event.Outcome)
	headers := map[string]string{
		nats.MsgIdHdr: fmt.Sprintf("%s-%d", event.ConversationID, event.ResolvedAt.UnixNano()),
	}
	return p.client.Publish(ctx, subject, data, headers)
}
