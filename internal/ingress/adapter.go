package ingress

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/cache"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// Adapter persists webhook items into the message log exactly once per
// (instance, messageId).
type Adapter struct {
	messages storage.InboundMessageRepo
	seen     *cache.SeenMessageCache
}

// NewAdapter creates an adapter; seen may be nil.
func NewAdapter(messages storage.InboundMessageRepo, seen *cache.SeenMessageCache) *Adapter {
	return &Adapter{messages: messages, seen: seen}
}

// IngestResult tells which items were written by this call.
type IngestResult struct {
	Inserted   int
	Duplicates int
	Skipped    int
	// Fresh holds the items that still need an answer: the ones written by
	// this call plus those without a message id, which cannot be deduplicated.
	Fresh []model.WebhookItem
}

// Ingest stores every item of w. Redeliveries are detected and not written
// again; a failed write aborts the delivery so the gateway can retry it.
func (a *Adapter) Ingest(ctx context.Context, w *model.Webhook) (IngestResult, error) {
	var res IngestResult
	if w.Empty() {
		return res, nil
	}
	log := logger.FromContext(ctx).With(zap.String("instance", w.Instance))

	for _, it := range w.Items {
		if it.MessageID == "" || it.RemoteJID == "" {
			res.Skipped++
			observer.IncInboundMessage("skipped")
			log.Debug("Skipping webhook item without identity", zap.String("remote_jid", it.RemoteJID))
			if it.RemoteJID != "" {
				res.Fresh = append(res.Fresh, it)
			}
			continue
		}

		inserted, err := a.save(ctx, w.Instance, it)
		if err != nil {
			observer.IncInboundMessage("error")
			log.Error("Failed to persist inbound message",
				zap.String("message_id", it.MessageID), zap.Error(err))
			return res, err
		}
		if inserted {
			res.Inserted++
			res.Fresh = append(res.Fresh, it)
			observer.IncInboundMessage("inserted")
		} else {
			res.Duplicates++
			observer.IncInboundMessage("duplicate")
			log.Debug("Duplicate inbound message", zap.String("message_id", it.MessageID))
		}
	}
	return res, nil
}

func (a *Adapter) save(ctx context.Context, instance string, it model.WebhookItem) (bool, error) {
	msg := toInboundMessage(instance, it)

	if a.seen == nil {
		return a.messages.SaveIfAbsent(ctx, msg)
	}

	var (
		inserted bool
		err      error
	)
	switch a.seen.Check(instance, it.MessageID) {
	case cache.StatusNotSeen:
		inserted, err = a.messages.Insert(ctx, msg)
	default:
		inserted, err = a.messages.SaveIfAbsent(ctx, msg)
		if err == nil && inserted {
			a.seen.RecordFalsePositive()
		}
	}
	if err != nil {
		return false, err
	}
	a.seen.MarkSeen(instance, it.MessageID)
	return inserted, nil
}

func toInboundMessage(instance string, it model.WebhookItem) *model.InboundMessage {
	direction := model.MessageFlowIncoming
	if it.FromMe {
		direction = model.MessageFlowOutgoing
	}
	sentAt := it.SentAt
	if sentAt.IsZero() {
		sentAt = utils.Now()
	}
	return &model.InboundMessage{
		ID:        uuid.NewString(),
		Instance:  instance,
		MessageID: it.MessageID,
		RemoteJID: it.RemoteJID,
		PushName:  it.PushName,
		Body:      it.Body,
		FromMe:    it.FromMe,
		Direction: direction,
		SentAt:    sentAt,
		Raw:       []byte(it.Raw),
	}
}
