package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/ingress"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/internal/tenant"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// Ingestor persists webhook deliveries. *ingress.Adapter implements it.
type Ingestor interface {
	Ingest(ctx context.Context, w *model.Webhook) (ingress.IngestResult, error)
}

// WebhookService answers WhatsApp gateway deliveries.
type WebhookService struct {
	ingestor Ingestor
	owners   storage.OwnerRepo
	resolver ResolverInterface
	delivery IDeliveryWorker
}

// NewWebhookService creates a new webhook service. delivery may be nil, in
// which case replies are only returned to the caller.
func NewWebhookService(ingestor Ingestor, owners storage.OwnerRepo, resolver ResolverInterface, delivery IDeliveryWorker) *WebhookService {
	return &WebhookService{ingestor: ingestor, owners: owners, resolver: resolver, delivery: delivery}
}

type turnOutcome struct {
	reply model.WebhookReply
	err   error
}

// Handle stores the delivery, routes one turn per contact and queues the
// replies for sending. Count is the number of messages written by this call,
// answered or not; a redelivery or a delivery without chat messages counts
// zero. Turns that failed are reported in the joined error while the others
// are still answered.
func (s *WebhookService) Handle(ctx context.Context, w *model.Webhook) (*model.WebhookResult, error) {
	result := &model.WebhookResult{Replies: []model.WebhookReply{}}
	if w.Empty() || !w.CarriesMessages() {
		logger.FromContext(ctx).Debug("Webhook carries no chat message, ignoring",
			zap.String("event", string(webhookEvent(w))))
		return result, nil
	}
	ctx = tenant.WithInstance(ctx, w.Instance)
	log := logger.FromContext(ctx)

	ingested, err := s.ingestor.Ingest(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("failed to store webhook messages: %w", err)
	}
	result.Count = ingested.Inserted

	turns := ingress.Group(ingested.Fresh)
	if len(turns) == 0 {
		log.Debug("No new inbound message to answer",
			zap.Int("duplicates", ingested.Duplicates),
			zap.Int("skipped", ingested.Skipped))
		return result, nil
	}

	owner, err := s.owners.FindOwnerByInstance(ctx, w.Instance)
	switch {
	case err == nil:
		ctx = tenant.WithOwnerID(ctx, owner)
	case errors.Is(err, apperrors.ErrNotFound):
		// resolver reports NoOwner for every turn
	default:
		return nil, fmt.Errorf("failed to resolve instance owner: %w", err)
	}

	outcomes := iter.Map(turns, func(t *model.Turn) turnOutcome {
		msg := model.CanonicalMessage{
			ConversationID: t.ConversationID,
			UserID:         t.UserID,
			OwnerID:        owner,
			Channel:        model.ChannelWhatsApp,
			Instance:       w.Instance,
			Text:           t.Text,
		}
		res, err := s.resolver.Resolve(ctx, msg)
		if err != nil {
			return turnOutcome{err: fmt.Errorf("conversation %s: %w", t.ConversationID, err)}
		}
		return turnOutcome{reply: model.WebhookReply{
			ConversationID: res.ConversationID,
			RemoteJID:      t.UserID,
			AgentID:        res.AgentID,
			Outcome:        res.Outcome,
			Reply:          res.Reply,
		}}
	})

	var errs []error
	for _, out := range outcomes {
		if out.err != nil {
			log.Warn("Failed to answer WhatsApp turn", zap.Error(out.err))
			errs = append(errs, out.err)
			continue
		}
		result.Replies = append(result.Replies, out.reply)
		s.deliver(ctx, w.Instance, out.reply)
	}

	return result, errors.Join(errs...)
}

func (s *WebhookService) deliver(ctx context.Context, instance string, reply model.WebhookReply) {
	if s.delivery == nil || reply.Reply == "" || reply.Outcome == model.OutcomeNoOwner {
		return
	}
	task := DeliveryTaskData{
		Ctx:            context.WithoutCancel(ctx),
		Instance:       instance,
		RemoteJID:      reply.RemoteJID,
		ConversationID: reply.ConversationID,
		Text:           reply.Reply,
	}
	if err := s.delivery.SubmitTask(task); err != nil {
		logger.FromContext(ctx).Error("Reply not queued for delivery",
			zap.String("conversation_id", reply.ConversationID),
			zap.Error(err))
	}
}

func webhookEvent(w *model.Webhook) model.EventType {
	if w == nil {
		return ""
	}
	return w.Event
}
