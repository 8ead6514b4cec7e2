package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// BindingService lets an owner inspect and hand off their conversations.
type BindingService struct {
	bindings storage.BindingRepo
	agents   storage.AgentRepo
}

// NewBindingService creates a new binding service
func NewBindingService(bindings storage.BindingRepo, agents storage.AgentRepo) *BindingService {
	return &BindingService{bindings: bindings, agents: agents}
}

// Get returns the binding of a conversation answered by one of owner's agents.
func (s *BindingService) Get(ctx context.Context, ownerID, conversationID string) (*model.ConversationBinding, error) {
	binding, err := s.bindings.Lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkBoundAgent(ctx, ownerID, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// Rebind hands a conversation over to agentID. The agent must be one of the
// owner's active agents and an existing binding must not belong to another
// owner.
func (s *BindingService) Rebind(ctx context.Context, ownerID, conversationID, agentID string) (*model.ConversationBinding, error) {
	if conversationID == "" || agentID == "" {
		return nil, fmt.Errorf("%w: conversationId and agentId are required", apperrors.ErrBadRequest)
	}

	target, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if target.OwnerID != ownerID {
		// answered like a missing agent so agent ids of other owners stay hidden
		return nil, fmt.Errorf("agent %s: %w", agentID, apperrors.ErrNotFound)
	}
	if !target.IsActive() {
		return nil, fmt.Errorf("%w: agent %s is %s", apperrors.ErrBadRequest, agentID, target.Status)
	}

	current, err := s.bindings.Lookup(ctx, conversationID)
	switch {
	case err == nil:
		if err := s.checkBoundAgent(ctx, ownerID, current); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, err
	}

	if err := s.bindings.Bind(ctx, conversationID, agentID); err != nil {
		return nil, err
	}

	previous := ""
	if current != nil {
		previous = current.AgentID
	}
	logger.FromContext(ctx).Info("Conversation handed off",
		zap.String("conversation_id", conversationID),
		zap.String("from_agent_id", previous),
		zap.String("to_agent_id", agentID))

	return &model.ConversationBinding{ConversationID: conversationID, AgentID: agentID, UpdatedAt: utils.Now()}, nil
}

// Unbind returns a conversation to the unbound state so its next message is
// routed again.
func (s *BindingService) Unbind(ctx context.Context, ownerID, conversationID string) error {
	binding, err := s.bindings.Lookup(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.checkBoundAgent(ctx, ownerID, binding); err != nil {
		return err
	}
	if err := s.bindings.Unbind(ctx, conversationID); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Conversation unbound",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", binding.AgentID))
	return nil
}

// checkBoundAgent verifies the bound agent belongs to ownerID. A binding to
// a deleted agent cannot be attributed to anyone and reads as not found.
func (s *BindingService) checkBoundAgent(ctx context.Context, ownerID string, binding *model.ConversationBinding) error {
	bound, err := s.agents.FindByID(ctx, binding.AgentID)
	if err != nil {
		return err
	}
	if bound.OwnerID != ownerID {
		return fmt.Errorf("%w: conversation %s is bound to another owner", apperrors.ErrForbidden, binding.ConversationID)
	}
	return nil
}
