package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
)

func exhaustedWebhook() model.ExhaustedWebhook {
	return model.ExhaustedWebhook{
		Instance:        "loja-centro",
		SourceSubject:   "v1.wa.webhook.loja-centro",
		LastError:       "agent execution failed",
		RetryCount:      5,
		EventTimestamp:  time.Now(),
		DLQPayload:      datatypes.JSON(`{"error":"agent execution failed"}`),
		OriginalPayload: datatypes.JSON(`{"event":"messages.upsert"}`),
	}
}

func TestPostgresRepo_SaveExhaustedWebhook(t *testing.T) {
	repo, mock := newTestRepo(t)
	event := exhaustedWebhook()

	mock.ExpectQuery(`INSERT INTO "exhausted_webhooks" .* RETURNING "id"`).
		WithArgs(sqlmock.AnyArg(), event.Instance, event.SourceSubject, event.LastError, event.RetryCount,
			event.EventTimestamp, event.DLQPayload, event.OriginalPayload, false, nil, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := repo.SaveExhaustedWebhook(context.Background(), event)

	assert.NoError(t, err)
}

func TestPostgresRepo_SaveExhaustedWebhook_DatabaseError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(`INSERT INTO "exhausted_webhooks"`).
		WillReturnError(errors.New("permission denied for table exhausted_webhooks"))

	err := repo.SaveExhaustedWebhook(context.Background(), exhaustedWebhook())

	assert.ErrorIs(t, err, apperrors.ErrDatabase)
}
