package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

const inboundEntity = "inbound_message"

// FindInboundMessage looks a message up by its provider identity.
func (r *PostgresRepo) FindInboundMessage(ctx context.Context, instance, messageID string) (*model.InboundMessage, error) {
	var msg model.InboundMessage

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("instance = ? AND message_id = ?", instance, messageID).
			Limit(1).
			Find(&msg)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: message %s on instance %s", apperrors.ErrNotFound, messageID, instance)
		}
		return nil
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindInboundMessage", operation)
	observe("select", inboundEntity, start, err)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// InsertInboundMessage stores msg unless (instance, message_id) already
// exists. It reports whether a new row was written; the unique index plus
// ON CONFLICT DO NOTHING keeps concurrent redeliveries from duplicating rows.
func (r *PostgresRepo) InsertInboundMessage(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	if msg.Instance == "" || msg.MessageID == "" {
		return false, fmt.Errorf("%w: instance and message id are required", apperrors.ErrBadRequest)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = utils.Now()
	}

	var inserted bool
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance"}, {Name: "message_id"}},
			DoNothing: true,
		}).Create(msg)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		inserted = result.RowsAffected > 0
		return nil
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "InsertInboundMessage", operation)
	observe("insert", inboundEntity, start, err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to insert inbound message",
			zap.String("instance", msg.Instance),
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
		return false, err
	}
	return inserted, nil
}

// ListRecentMessages returns the latest messages of an instance, newest first.
func (r *PostgresRepo) ListRecentMessages(ctx context.Context, instance string, limit int) ([]model.InboundMessage, error) {
	var messages []model.InboundMessage

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("instance = ?", instance).
			Order("sent_at DESC").
			Limit(limit).
			Find(&messages).Error)
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListRecentMessages", operation)
	observe("select", inboundEntity, start, err)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ListMessagesByJID pages through one chat of an instance, newest first.
func (r *PostgresRepo) ListMessagesByJID(ctx context.Context, instance, remoteJID string, limit, offset int) ([]model.InboundMessage, error) {
	var messages []model.InboundMessage

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("instance = ? AND remote_jid = ?", instance, remoteJID).
			Order("sent_at DESC").
			Limit(limit).
			Offset(offset).
			Find(&messages).Error)
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListMessagesByJID", operation)
	observe("select", inboundEntity, start, err)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SaveInboundMessageIfAbsent reads before writing so a redelivery costs a
// single indexed select; the insert itself still tolerates a concurrent writer.
func (r *PostgresRepo) SaveInboundMessageIfAbsent(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	existing, err := r.FindInboundMessage(ctx, msg.Instance, msg.MessageID)
	if err == nil && existing != nil {
		return false, nil
	}
	if err != nil && !apperrors.IsNotFoundError(err) {
		return false, err
	}
	return r.InsertInboundMessage(ctx, msg)
}
