package dlqworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailera/acertaia-api/internal/config"
	ingestionmock "github.com/kailera/acertaia-api/internal/ingestion/mock"
	jsmock "github.com/kailera/acertaia-api/internal/jetstream/mock"
	"github.com/kailera/acertaia-api/internal/model"
	storagemock "github.com/kailera/acertaia-api/internal/storage/mock"
)

func testDLQConfig() config.DLQConfig {
	return config.DLQConfig{
		Enabled:       true,
		Stream:        "wa_dlq",
		Workers:       2,
		MaxAgeDays:    7,
		MaxDeliver:    10,
		MaxRetries:    3,
		AckWait:       time.Minute,
		MaxAckPending: 10,
		BaseDelay:     time.Minute,
		MaxDelay:      30 * time.Minute,
	}
}

func newTestWorker(t *testing.T) (*Worker, *ingestionmock.DispatcherMock, *storagemock.ExhaustedWebhookRepoMock) {
	t.Helper()
	js := &jsmock.ClientMock{}
	js.On("SetupStream", mock.Anything, mock.MatchedBy(func(c *nats.StreamConfig) bool {
		return c.Name == "wa_dlq" && c.Subjects[0] == "v1.dlq.wa.>" && c.MaxAge == 7*24*time.Hour
	})).Return(nil)
	js.On("SetupConsumer", mock.Anything, "wa_dlq", mock.MatchedBy(func(c *nats.ConsumerConfig) bool {
		return c.Durable == "v1_dlq_wa_worker" && c.AckPolicy == nats.AckExplicitPolicy
	})).Return(nil)

	router := &ingestionmock.DispatcherMock{}
	store := &storagemock.ExhaustedWebhookRepoMock{}
	w, err := NewWorker(testDLQConfig(), "v1.dlq.wa", zaptest.NewLogger(t), js, router, store)
	require.NoError(t, err)
	t.Cleanup(w.pool.Release)
	js.AssertExpectations(t)
	return w, router, store
}

func dlqPayload(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(model.DLQPayload{
		SourceSubject:   "v1.wa.webhook.loja",
		Instance:        "loja",
		OriginalPayload: json.RawMessage(`{"event":"messages.upsert"}`),
		Error:           "db down",
		ErrorType:       "retryable",
		RetryCount:      5,
		MaxRetry:        5,
		Timestamp:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	return data
}

func TestNewWorker_SetupFailure(t *testing.T) {
	js := &jsmock.ClientMock{}
	js.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("no jetstream"))

	_, err := NewWorker(testDLQConfig(), "v1.dlq.wa", zaptest.NewLogger(t), js, &ingestionmock.DispatcherMock{}, &storagemock.ExhaustedWebhookRepoMock{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wa_dlq")
}

func TestReplay_Success(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.On("Route", mock.Anything, mock.MatchedBy(func(m *model.MessageMetadata) bool {
		return m.Instance == "loja" && m.MessageSubject == "v1.wa.webhook.loja" && m.NumDelivered == 1
	}), []byte(`{"event":"messages.upsert"}`)).Return(nil).Once()

	action, delay := w.replay(context.Background(), dlqPayload(t), 1)

	assert.Equal(t, replayAck, action)
	assert.Zero(t, delay)
	router.AssertExpectations(t)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestReplay_RetryWithBackoff(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.OnInstance("loja", errors.New("still down"))

	action, delay := w.replay(context.Background(), dlqPayload(t), 2)

	assert.Equal(t, replayRetry, action)
	assert.Equal(t, 2*time.Minute, delay)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestReplay_ExhaustedIsStored(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.OnInstance("loja", errors.New("still down"))
	store.On("Save", mock.Anything, mock.MatchedBy(func(e model.ExhaustedWebhook) bool {
		return e.Instance == "loja" &&
			e.SourceSubject == "v1.wa.webhook.loja" &&
			e.LastError == "still down" &&
			e.RetryCount == 8 &&
			string(e.OriginalPayload) == `{"event":"messages.upsert"}`
	})).Return(nil).Once()

	action, _ := w.replay(context.Background(), dlqPayload(t), 3)

	assert.Equal(t, replayTerm, action)
	store.AssertExpectations(t)
}

func TestReplay_StoreFailureStillTerminates(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.OnInstance("loja", errors.New("still down"))
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("db gone"))

	action, _ := w.replay(context.Background(), dlqPayload(t), 4)

	assert.Equal(t, replayTerm, action)
}

func TestReplay_MalformedPayload(t *testing.T) {
	w, router, _ := newTestWorker(t)

	action, _ := w.replay(context.Background(), []byte("not json"), 1)

	assert.Equal(t, replayTerm, action)
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestBackoffDelay(t *testing.T) {
	base, maxDelay := time.Minute, 30*time.Minute
	cases := []struct {
		attempt uint64
		want    time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{4, 8 * time.Minute},
		{6, 30 * time.Minute},
		{70, 30 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffDelay(tc.attempt, base, maxDelay), "attempt %d", tc.attempt)
	}
}
