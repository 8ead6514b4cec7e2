package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/evolution"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/internal/validator"
	"github.com/kailera/acertaia-api/pkg/logger"
)

const (
	chatScanSize        = 500
	defaultChatLimit    = 20
	maxChatLimit        = 100
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// InstanceService exposes the message log of a WhatsApp instance to the
// user that registered it.
type InstanceService struct {
	owners   storage.OwnerRepo
	messages storage.InboundMessageRepo
	sender   evolution.Sender
}

// NewInstanceService creates a new instance service
func NewInstanceService(owners storage.OwnerRepo, messages storage.InboundMessageRepo, sender evolution.Sender) *InstanceService {
	return &InstanceService{owners: owners, messages: messages, sender: sender}
}

func (s *InstanceService) authorize(ctx context.Context, userID, instance string) error {
	if userID == "" {
		return apperrors.ErrUnauthorized
	}
	owns, err := s.owners.OwnsInstance(ctx, userID, instance)
	if err != nil {
		return err
	}
	if !owns {
		return fmt.Errorf("%w: instance %s is not registered to this user", apperrors.ErrForbidden, instance)
	}
	return nil
}

// Verify reports whether userID owns instance and whether it has traffic.
// Lookup failures read as "does not belong".
func (s *InstanceService) Verify(ctx context.Context, userID, instance string) (*model.InstanceStatus, error) {
	if err := s.authorize(ctx, userID, instance); err != nil {
		logger.FromContext(ctx).Debug("Instance verification failed",
			zap.String("instance", instance), zap.Error(err))
		return &model.InstanceStatus{Belongs: false}, nil
	}

	status := &model.InstanceStatus{Belongs: true, UserID: userID}
	latest, err := s.messages.ListRecent(ctx, instance, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		status.HasMessages = true
		at := latest[0].SentAt
		status.LastMessageAt = &at
	}
	return status, nil
}

// ListChats folds the most recent messages of the instance into one entry
// per contact, newest first. q filters on contact name or JID.
func (s *InstanceService) ListChats(ctx context.Context, userID, instance, q string, limit, offset int) (*model.ChatPage, error) {
	if err := s.authorize(ctx, userID, instance); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultChatLimit, maxChatLimit)
	offset = max(offset, 0)

	recent, err := s.messages.ListRecent(ctx, instance, chatScanSize)
	if err != nil {
		return nil, err
	}

	q = strings.ToLower(strings.TrimSpace(q))
	seen := make(map[string]struct{}, len(recent))
	chats := make([]model.ChatSummary, 0)
	for _, m := range recent {
		if _, ok := seen[m.RemoteJID]; ok {
			continue
		}
		seen[m.RemoteJID] = struct{}{}

		if q != "" &&
			!strings.Contains(strings.ToLower(m.PushName), q) &&
			!strings.Contains(strings.ToLower(m.RemoteJID), q) {
			continue
		}
		name := m.PushName
		if name == "" {
			name = m.RemoteJID
		}
		chats = append(chats, model.ChatSummary{
			ID:          m.RemoteJID,
			Name:        name,
			LastMessage: model.LastMessage{Body: m.Body, Timestamp: m.SentAt},
		})
	}

	page := &model.ChatPage{Total: len(chats), Chats: []model.ChatSummary{}}
	if offset < len(chats) {
		page.Chats = chats[offset:min(offset+limit, len(chats))]
	}
	return page, nil
}

// ListMessages returns the history of one chat, newest first.
func (s *InstanceService) ListMessages(ctx context.Context, userID, instance, jid string, limit, offset int) ([]model.MessageView, error) {
	if jid == "" {
		return nil, fmt.Errorf("%w: missing jid", apperrors.ErrBadRequest)
	}
	if err := s.authorize(ctx, userID, instance); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultMessageLimit, maxMessageLimit)

	rows, err := s.messages.ListByJID(ctx, instance, jid, limit, max(offset, 0))
	if err != nil {
		return nil, err
	}
	views := make([]model.MessageView, len(rows))
	for i, m := range rows {
		views[i] = model.MessageView{
			ID:        m.ID,
			Key:       model.MessageKey{FromMe: m.FromMe},
			Body:      m.Body,
			Timestamp: m.SentAt,
			MessageID: m.MessageID,
		}
	}
	return views, nil
}

// LastContact returns the push name last seen for jid.
func (s *InstanceService) LastContact(ctx context.Context, userID, instance, jid string) (*model.ContactInfo, error) {
	if jid == "" {
		return nil, fmt.Errorf("%w: missing jid", apperrors.ErrBadRequest)
	}
	if err := s.authorize(ctx, userID, instance); err != nil {
		return nil, err
	}
	rows, err := s.messages.ListByJID(ctx, instance, jid, 1, 0)
	if err != nil {
		return nil, err
	}
	info := &model.ContactInfo{JID: jid}
	if len(rows) > 0 {
		info.Name = rows[0].PushName
		info.PushName = rows[0].PushName
	}
	return info, nil
}

// Send delivers a text typed by the user and records it as outbound.
// Gateway failures surface as apperrors.ErrUpstream.
func (s *InstanceService) Send(ctx context.Context, userID, instance string, req model.SendTextRequest) (*model.SentMessage, error) {
	to, text := req.Destination(), req.Content()
	if to == "" || text == "" {
		return nil, fmt.Errorf("%w: missing to or text", apperrors.ErrBadRequest)
	}
	if err := validator.ValidateVar(text, "max=4096"); err != nil {
		return nil, fmt.Errorf("%w: text must not exceed 4096 characters", apperrors.ErrBadRequest)
	}
	if err := s.authorize(ctx, userID, instance); err != nil {
		return nil, err
	}

	result, err := s.sender.SendText(ctx, instance, to, text)
	if err != nil {
		return nil, err
	}

	record := OutboundRecord(instance, to, "", text, result)
	if _, err := s.messages.Insert(ctx, record); err != nil {
		logger.FromContext(ctx).Error("Message sent but not stored",
			zap.String("instance", instance),
			zap.String("message_id", record.MessageID),
			zap.Error(err))
	}

	sent := &model.SentMessage{MessageID: record.MessageID, To: to, Text: text}
	if result != nil {
		sent.Gateway = result.Raw
	}
	return sent, nil
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}
