package storage

import (
	"context"

	"github.com/kailera/acertaia-api/internal/model"
)

// BindingRepo stores the conversation to agent affinity.
type BindingRepo interface {
	Lookup(ctx context.Context, conversationID string) (*model.ConversationBinding, error)
	Bind(ctx context.Context, conversationID, agentID string) error
	Unbind(ctx context.Context, conversationID string) error
}

// InboundMessageRepo defines WhatsApp message log operations
type InboundMessageRepo interface {
	// SaveIfAbsent reports false when (instance, messageId) was already stored.
	SaveIfAbsent(ctx context.Context, msg *model.InboundMessage) (bool, error)
	// Insert writes without the preliminary read; duplicates are still ignored.
	Insert(ctx context.Context, msg *model.InboundMessage) (bool, error)
	FindByMessageID(ctx context.Context, instance, messageID string) (*model.InboundMessage, error)
	ListRecent(ctx context.Context, instance string, limit int) ([]model.InboundMessage, error)
	ListByJID(ctx context.Context, instance, remoteJID string, limit, offset int) ([]model.InboundMessage, error)
}

// AgentRepo defines the read-only agent catalog lookups used for routing
type AgentRepo interface {
	FindByID(ctx context.Context, agentID string) (*model.Agent, error)
	FindPrimaryForChannel(ctx context.Context, ownerID string, channel model.Channel) (*model.Agent, error)
	FindByTypeForOwner(ctx context.Context, ownerID string, agentType model.AgentType) (*model.Agent, error)
}

// OwnerRepo maps WhatsApp instances to the users that registered them
type OwnerRepo interface {
	FindOwnerByInstance(ctx context.Context, instance string) (string, error)
	OwnsInstance(ctx context.Context, userID, instance string) (bool, error)
}

// ExhaustedWebhookRepo stores webhooks the dead letter worker gave up on
type ExhaustedWebhookRepo interface {
	Save(ctx context.Context, event model.ExhaustedWebhook) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
