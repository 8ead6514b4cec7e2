package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kailera/acertaia-api/internal/model"
)

// --- BindingRepo Mock ---

// BindingRepoMock mocks the BindingRepo interface
type BindingRepoMock struct {
	mock.Mock
}

// Lookup mocks the Lookup method
func (m *BindingRepoMock) Lookup(ctx context.Context, conversationID string) (*model.ConversationBinding, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationBinding), args.Error(1)
}

// Bind mocks the Bind method
func (m *BindingRepoMock) Bind(ctx context.Context, conversationID, agentID string) error {
	args := m.Called(ctx, conversationID, agentID)
	return args.Error(0)
}

// Unbind mocks the Unbind method
func (m *BindingRepoMock) Unbind(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

// --- InboundMessageRepo Mock ---

// InboundMessageRepoMock mocks the InboundMessageRepo interface
type InboundMessageRepoMock struct {
	mock.Mock
}

// SaveIfAbsent mocks the SaveIfAbsent method
func (m *InboundMessageRepoMock) SaveIfAbsent(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

// Insert mocks the Insert method
func (m *InboundMessageRepoMock) Insert(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

// FindByMessageID mocks the FindByMessageID method
func (m *InboundMessageRepoMock) FindByMessageID(ctx context.Context, instance, messageID string) (*model.InboundMessage, error) {
	args := m.Called(ctx, instance, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundMessage), args.Error(1)
}

// ListRecent mocks the ListRecent method
func (m *InboundMessageRepoMock) ListRecent(ctx context.Context, instance string, limit int) ([]model.InboundMessage, error) {
	args := m.Called(ctx, instance, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundMessage), args.Error(1)
}

// ListByJID mocks the ListByJID method
func (m *InboundMessageRepoMock) ListByJID(ctx context.Context, instance, remoteJID string, limit, offset int) ([]model.InboundMessage, error) {
	args := m.Called(ctx, instance, remoteJID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundMessage), args.Error(1)
}

// --- AgentRepo Mock ---

// AgentRepoMock mocks the AgentRepo interface
type AgentRepoMock struct {
	mock.Mock
}

// FindByID mocks the FindByID method
func (m *AgentRepoMock) FindByID(ctx context.Context, agentID string) (*model.Agent, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}

// FindPrimaryForChannel mocks the FindPrimaryForChannel method
func (m *AgentRepoMock) FindPrimaryForChannel(ctx context.Context, ownerID string, channel model.Channel) (*model.Agent, error) {
	args := m.Called(ctx, ownerID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}

// FindByTypeForOwner mocks the FindByTypeForOwner method
func (m *AgentRepoMock) FindByTypeForOwner(ctx context.Context, ownerID string, agentType model.AgentType) (*model.Agent, error) {
	args := m.Called(ctx, ownerID, agentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}

// --- OwnerRepo Mock ---

// OwnerRepoMock mocks the OwnerRepo interface
type OwnerRepoMock struct {
	mock.Mock
}

// FindOwnerByInstance mocks the FindOwnerByInstance method
func (m *OwnerRepoMock) FindOwnerByInstance(ctx context.Context, instance string) (string, error) {
	args := m.Called(ctx, instance)
	return args.String(0), args.Error(1)
}

// OwnsInstance mocks the OwnsInstance method
func (m *OwnerRepoMock) OwnsInstance(ctx context.Context, userID, instance string) (bool, error) {
	args := m.Called(ctx, userID, instance)
	return args.Bool(0), args.Error(1)
}

// --- ExhaustedWebhookRepo Mock ---

// ExhaustedWebhookRepoMock mocks the ExhaustedWebhookRepo interface
type ExhaustedWebhookRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ExhaustedWebhookRepoMock) Save(ctx context.Context, event model.ExhaustedWebhook) error {
	return m.Called(ctx, event).Error(0)
}
