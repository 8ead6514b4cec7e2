// Package ingress turns channel payloads into canonical messages: web chat
// requests directly, WhatsApp webhook deliveries through parse, persist and
// group steps.
package ingress

import (
	"strings"

	"github.com/google/uuid"

	"github.com/kailera/acertaia-api/internal/model"
)

// NewWebChat canonicalises a web chat request. An empty conversation id
// starts a new conversation; the caller owns the agents it talks to.
func NewWebChat(req model.ChatRequest) model.CanonicalMessage {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return model.CanonicalMessage{
		ConversationID: conversationID,
		UserID:         req.UserID,
		OwnerID:        req.UserID,
		Channel:        model.ChannelWeb,
		Text:           req.Input,
	}
}
