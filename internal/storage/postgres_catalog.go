package storage

import (
	"context"
	"fmt"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/pkg/utils"
)

const (
	agentEntity          = "agent"
	whatsappNumberEntity = "whatsapp_number"
)

// FindAgentByID loads an agent or returns apperrors.ErrNotFound.
func (r *PostgresRepo) FindAgentByID(ctx context.Context, agentID string) (*model.Agent, error) {
	var agent model.Agent

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", agentID).Limit(1).Find(&agent)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: agent %s", apperrors.ErrNotFound, agentID)
		}
		return nil
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindAgentByID", operation)
	observe("select", agentEntity, start, err)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// FindPrimaryAgentForChannel returns the owner's active agent marked primary
// on channel. When several qualify the oldest wins, so concurrent resolutions
// agree on the same agent.
func (r *PostgresRepo) FindPrimaryAgentForChannel(ctx context.Context, ownerID string, channel model.Channel) (*model.Agent, error) {
	var agents []model.Agent

	operation := func() error {
		db := r.db.WithContext(ctx)
		primaryOnChannel := db.Model(&model.AgentChannel{}).
			Select("agent_id").
			Where(`channel = ? AND "primary" = ?`, channel, true)

		return checkConstraintViolation(db.
			Where("owner_id = ? AND status = ?", ownerID, model.AgentStatusActive).
			Where("id IN (?)", primaryOnChannel).
			Order("created_at ASC").
			Limit(1).
			Find(&agents).Error)
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindPrimaryAgentForChannel", operation)
	observe("select_primary", agentEntity, start, err)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: no primary %s agent for owner %s", apperrors.ErrNotFound, channel, ownerID)
	}
	return &agents[0], nil
}

// FindAgentByTypeForOwner returns the owner's oldest agent of the given role.
func (r *PostgresRepo) FindAgentByTypeForOwner(ctx context.Context, ownerID string, agentType model.AgentType) (*model.Agent, error) {
	var agents []model.Agent

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("owner_id = ? AND type = ?", ownerID, agentType).
			Order("created_at ASC").
			Limit(1).
			Find(&agents).Error)
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindAgentByTypeForOwner", operation)
	observe("select_by_type", agentEntity, start, err)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: no %s agent for owner %s", apperrors.ErrNotFound, agentType, ownerID)
	}
	return &agents[0], nil
}

// FindOwnerByInstance resolves the user registered for a WhatsApp instance.
func (r *PostgresRepo) FindOwnerByInstance(ctx context.Context, instance string) (string, error) {
	var number model.WhatsappNumber

	operation := func() error {
		result := r.db.WithContext(ctx).Where("instance = ?", instance).Limit(1).Find(&number)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 || number.UserID == "" {
			return fmt.Errorf("%w: instance %s is not registered", apperrors.ErrNotFound, instance)
		}
		return nil
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindOwnerByInstance", operation)
	observe("select_owner", whatsappNumberEntity, start, err)
	if err != nil {
		return "", err
	}
	return number.UserID, nil
}

// OwnsInstance reports whether userID registered the WhatsApp instance.
func (r *PostgresRepo) OwnsInstance(ctx context.Context, userID, instance string) (bool, error) {
	var count int64

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Model(&model.WhatsappNumber{}).
			Where("user_id = ? AND instance = ?", userID, instance).
			Count(&count).Error)
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "OwnsInstance", operation)
	observe("count", whatsappNumberEntity, start, err)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
