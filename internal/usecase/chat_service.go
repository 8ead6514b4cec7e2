package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/agent"
	"github.com/kailera/acertaia-api/internal/ingress"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/tenant"
	"github.com/kailera/acertaia-api/internal/validator"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// RoleFactory builds the built-in executor of a role.
type RoleFactory interface {
	ForRole(t model.AgentType) (agent.Executor, error)
}

// ChatService answers web chat messages.
type ChatService struct {
	resolver ResolverInterface
	roles    RoleFactory
}

// NewChatService creates a new chat service
func NewChatService(resolver ResolverInterface, roles RoleFactory) *ChatService {
	return &ChatService{resolver: resolver, roles: roles}
}

// Chat routes a web chat message. The conversation id is returned even when
// resolution fails so the client can retry within the same conversation.
func (s *ChatService) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatReply, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	msg := ingress.NewWebChat(req)
	ctx = tenant.WithOwnerID(ctx, msg.OwnerID)

	res, err := s.resolver.Resolve(ctx, msg)
	if err != nil {
		logger.FromContext(ctx).Warn("Web chat resolution failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err))
		return &model.ChatReply{ConversationID: msg.ConversationID}, err
	}

	return &model.ChatReply{
		Reply:          res.Reply,
		ConversationID: res.ConversationID,
		AgentID:        res.AgentID,
		Tier:           res.Tier,
	}, nil
}

// RoleChat talks to the built-in agent of a role directly. Nothing is routed
// or bound.
func (s *ChatService) RoleChat(ctx context.Context, role model.AgentType, req model.ChatRequest) (*model.ChatReply, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	exec, err := s.roles.ForRole(role)
	if err != nil {
		return nil, err
	}

	msg := ingress.NewWebChat(req)
	reply, err := s.resolver.Generate(ctx, exec, msg, model.TierRole)
	if err != nil {
		return &model.ChatReply{ConversationID: msg.ConversationID}, err
	}
	return &model.ChatReply{Reply: reply, ConversationID: msg.ConversationID, Tier: model.TierRole}, nil
}
