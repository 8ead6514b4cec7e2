package storage

import (
	"context"

	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
)

// BindingRepoAdapter adapts the PostgresRepo to the BindingRepo interface
type BindingRepoAdapter struct {
	postgres *PostgresRepo
}

// NewBindingRepoAdapter creates a new binding repository adapter
func NewBindingRepoAdapter(postgres *PostgresRepo) BindingRepo {
	return &BindingRepoAdapter{postgres: postgres}
}

// Lookup finds the binding of a conversation
func (a *BindingRepoAdapter) Lookup(ctx context.Context, conversationID string) (*model.ConversationBinding, error) {
	return a.postgres.FindBinding(ctx, conversationID)
}

// Bind upserts the binding of a conversation
func (a *BindingRepoAdapter) Bind(ctx context.Context, conversationID, agentID string) error {
	err := a.postgres.UpsertBinding(ctx, conversationID, agentID)
	observer.IncBindingWrite("bind", err)
	return err
}

// Unbind removes the binding of a conversation
func (a *BindingRepoAdapter) Unbind(ctx context.Context, conversationID string) error {
	err := a.postgres.DeleteBinding(ctx, conversationID)
	observer.IncBindingWrite("unbind", err)
	return err
}

// InboundMessageRepoAdapter adapts the PostgresRepo to the InboundMessageRepo interface
type InboundMessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewInboundMessageRepoAdapter creates a new message log adapter
func NewInboundMessageRepoAdapter(postgres *PostgresRepo) InboundMessageRepo {
	return &InboundMessageRepoAdapter{postgres: postgres}
}

func (a *InboundMessageRepoAdapter) SaveIfAbsent(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	return a.postgres.SaveInboundMessageIfAbsent(ctx, msg)
}

func (a *InboundMessageRepoAdapter) Insert(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	return a.postgres.InsertInboundMessage(ctx, msg)
}

func (a *InboundMessageRepoAdapter) FindByMessageID(ctx context.Context, instance, messageID string) (*model.InboundMessage, error) {
	return a.postgres.FindInboundMessage(ctx, instance, messageID)
}

func (a *InboundMessageRepoAdapter) ListRecent(ctx context.Context, instance string, limit int) ([]model.InboundMessage, error) {
	return a.postgres.ListRecentMessages(ctx, instance, limit)
}

func (a *InboundMessageRepoAdapter) ListByJID(ctx context.Context, instance, remoteJID string, limit, offset int) ([]model.InboundMessage, error) {
	return a.postgres.ListMessagesByJID(ctx, instance, remoteJID, limit, offset)
}

// AgentRepoAdapter adapts the PostgresRepo to the AgentRepo interface
type AgentRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAgentRepoAdapter creates a new agent repository adapter
func NewAgentRepoAdapter(postgres *PostgresRepo) AgentRepo {
	return &AgentRepoAdapter{postgres: postgres}
}

// FindByID finds an agent by id
func (a *AgentRepoAdapter) FindByID(ctx context.Context, agentID string) (*model.Agent, error) {
	return a.postgres.FindAgentByID(ctx, agentID)
}

// FindPrimaryForChannel finds the owner's primary active agent on a channel
func (a *AgentRepoAdapter) FindPrimaryForChannel(ctx context.Context, ownerID string, channel model.Channel) (*model.Agent, error) {
	return a.postgres.FindPrimaryAgentForChannel(ctx, ownerID, channel)
}

// FindByTypeForOwner finds the owner's agent of a role
func (a *AgentRepoAdapter) FindByTypeForOwner(ctx context.Context, ownerID string, agentType model.AgentType) (*model.Agent, error) {
	return a.postgres.FindAgentByTypeForOwner(ctx, ownerID, agentType)
}

// OwnerRepoAdapter adapts the PostgresRepo to the OwnerRepo interface
type OwnerRepoAdapter struct {
	postgres *PostgresRepo
}

// NewOwnerRepoAdapter creates a new owner repository adapter
func NewOwnerRepoAdapter(postgres *PostgresRepo) OwnerRepo {
	return &OwnerRepoAdapter{postgres: postgres}
}

func (a *OwnerRepoAdapter) FindOwnerByInstance(ctx context.Context, instance string) (string, error) {
	return a.postgres.FindOwnerByInstance(ctx, instance)
}

func (a *OwnerRepoAdapter) OwnsInstance(ctx context.Context, userID, instance string) (bool, error) {
	return a.postgres.OwnsInstance(ctx, userID, instance)
}

// ExhaustedWebhookRepoAdapter adapts the PostgresRepo to the ExhaustedWebhookRepo interface
type ExhaustedWebhookRepoAdapter struct {
	postgres *PostgresRepo
}

// NewExhaustedWebhookRepoAdapter creates a new exhausted webhook repository adapter
func NewExhaustedWebhookRepoAdapter(postgres *PostgresRepo) ExhaustedWebhookRepo {
	return &ExhaustedWebhookRepoAdapter{postgres: postgres}
}

// Save stores an exhausted webhook
func (a *ExhaustedWebhookRepoAdapter) Save(ctx context.Context, event model.ExhaustedWebhook) error {
	return a.postgres.SaveExhaustedWebhook(ctx, event)
}

// Ensure adapters implement the interfaces
var _ BindingRepo = (*BindingRepoAdapter)(nil)
var _ InboundMessageRepo = (*InboundMessageRepoAdapter)(nil)
var _ AgentRepo = (*AgentRepoAdapter)(nil)
var _ OwnerRepo = (*OwnerRepoAdapter)(nil)
var _ ExhaustedWebhookRepo = (*ExhaustedWebhookRepoAdapter)(nil)
var _ Pinger = (*PostgresRepo)(nil)
