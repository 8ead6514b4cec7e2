package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

const bindingEntity = "conversation_binding"

// FindBinding returns the binding of a conversation or apperrors.ErrNotFound.
func (r *PostgresRepo) FindBinding(ctx context.Context, conversationID string) (*model.ConversationBinding, error) {
	var binding model.ConversationBinding

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Limit(1).
			Find(&binding)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: no binding for conversation %s", apperrors.ErrNotFound, conversationID)
		}
		return nil
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindBinding", operation)
	observe("select", bindingEntity, start, err)
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// UpsertBinding binds a conversation to an agent in a single statement,
// overwriting any previous agent.
func (r *PostgresRepo) UpsertBinding(ctx context.Context, conversationID, agentID string) error {
	if conversationID == "" || agentID == "" {
		return fmt.Errorf("%w: conversation id and agent id are required", apperrors.ErrBadRequest)
	}

	now := utils.Now()
	binding := model.ConversationBinding{
		ConversationID: conversationID,
		AgentID:        agentID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns(model.BindingUpdateColumns()),
		}).Create(&binding)
		return checkConstraintViolation(result.Error)
	}

	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "UpsertBinding", operation)
	observe("upsert", bindingEntity, now, err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to upsert conversation binding",
			zap.String("conversation_id", conversationID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return err
	}
	return nil
}

// DeleteBinding removes the binding of a conversation. Deleting a missing
// binding reports apperrors.ErrNotFound.
func (r *PostgresRepo) DeleteBinding(ctx context.Context, conversationID string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Delete(&model.ConversationBinding{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: no binding for conversation %s", apperrors.ErrNotFound, conversationID)
		}
		return nil
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "DeleteBinding", operation)
	observe("delete", bindingEntity, start, err)
	return err
}
