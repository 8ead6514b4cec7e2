package ingress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailera/acertaia-api/internal/cache"
	"github.com/kailera/acertaia-api/internal/model"
	storagemock "github.com/kailera/acertaia-api/internal/storage/mock"
	"github.com/kailera/acertaia-api/pkg/logger"
)

func sampleWebhook() *model.Webhook {
	t0 := time.UnixMilli(1717171717000)
	return &model.Webhook{
		Instance: "inst",
		Event:    model.EventMessagesUpsert,
		Items: []model.WebhookItem{
			{RemoteJID: "a@s.whatsapp.net", MessageID: "A1", Body: "oi", SentAt: t0},
			{RemoteJID: "a@s.whatsapp.net", MessageID: "", Body: "sem id"},
			{RemoteJID: "a@s.whatsapp.net", MessageID: "A2", Body: "eu", FromMe: true},
		},
	}
}

func TestAdapter_Ingest_WithoutCache(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	repo := new(storagemock.InboundMessageRepoMock)

	repo.On("SaveIfAbsent", mock.Anything, mock.MatchedBy(func(m *model.InboundMessage) bool {
		return m.MessageID == "A1" && m.Direction == model.MessageFlowIncoming && m.Instance == "inst"
	})).Return(true, nil).Once()
	repo.On("SaveIfAbsent", mock.Anything, mock.MatchedBy(func(m *model.InboundMessage) bool {
		return m.MessageID == "A2" && m.FromMe && m.Direction == model.MessageFlowOutgoing
	})).Return(false, nil).Once()

	res, err := NewAdapter(repo, nil).Ingest(context.Background(), sampleWebhook())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Fresh, 2)
	assert.Equal(t, "A1", res.Fresh[0].MessageID)
	assert.Equal(t, "sem id", res.Fresh[1].Body)
	repo.AssertExpectations(t)
}

func TestAdapter_Ingest_RedeliveryWritesOnce(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	repo := new(storagemock.InboundMessageRepoMock)
	seen := cache.NewSeenMessageCache(1000, 0.001, 0)
	adapter := NewAdapter(repo, seen)

	w := &model.Webhook{Instance: "inst", Items: []model.WebhookItem{
		{RemoteJID: "a@s.whatsapp.net", MessageID: "A1", Body: "oi", SentAt: time.Now()},
	}}

	// First delivery goes straight to the insert, the redelivery reads first.
	repo.On("Insert", mock.Anything, mock.Anything).Return(true, nil).Once()
	repo.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(false, nil).Once()

	first, err := adapter.Ingest(context.Background(), w)
	require.NoError(t, err)
	second, err := adapter.Ingest(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Inserted)
	assert.Len(t, first.Fresh, 1)
	assert.Equal(t, 0, second.Inserted)
	assert.Empty(t, second.Fresh)
	assert.Equal(t, 1, second.Duplicates)
	repo.AssertExpectations(t)
}

func TestAdapter_Ingest_StorageError(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	repo := new(storagemock.InboundMessageRepoMock)
	repo.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(false, errors.New("database error"))

	_, err := NewAdapter(repo, nil).Ingest(context.Background(), sampleWebhook())
	assert.Error(t, err)
}

func TestAdapter_Ingest_Empty(t *testing.T) {
	repo := new(storagemock.InboundMessageRepoMock)
	res, err := NewAdapter(repo, nil).Ingest(context.Background(), &model.Webhook{Instance: "i"})
	require.NoError(t, err)
	assert.Zero(t, res)
	repo.AssertNotCalled(t, "SaveIfAbsent", mock.Anything, mock.Anything)
}
