package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// SaveExhaustedWebhook stores a dead lettered webhook that ran out of replays.
func (r *PostgresRepo) SaveExhaustedWebhook(ctx context.Context, event model.ExhaustedWebhook) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Create(&event)
		return checkConstraintViolation(result.Error)
	}

	start := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "SaveExhaustedWebhook", operation)
	observe("insert", "exhausted_webhook", start, err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to save exhausted webhook after retries",
			zap.String("source_subject", event.SourceSubject),
			zap.String("instance", event.Instance),
			zap.Error(err))
		return err
	}

	logger.FromContext(ctx).Info("Saved exhausted webhook",
		zap.Uint("id", event.ID),
		zap.String("source_subject", event.SourceSubject))
	return nil
}
