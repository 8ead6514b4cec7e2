package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/evolution"
	"github.com/kailera/acertaia-api/internal/model"
	storagemock "github.com/kailera/acertaia-api/internal/storage/mock"
)

// stubSender records sends and answers with a fixed result.
type stubSender struct {
	mu     sync.Mutex
	sent   []string
	result *evolution.SendResult
	err    error
}

func (s *stubSender) SendText(_ context.Context, instance, to, text string) (*evolution.SendResult, error) {
	s.mu.Lock()
	s.sent = append(s.sent, instance+"|"+to+"|"+text)
	s.mu.Unlock()
	return s.result, s.err
}

func setupDeliveryWorkerTest(t *testing.T, sender evolution.Sender) (*DeliveryWorker, *storagemock.InboundMessageRepoMock, *observer.ObservedLogs) {
	t.Helper()
	messages := new(storagemock.InboundMessageRepoMock)
	core, logs := observer.New(zapcore.DebugLevel)
	worker := &DeliveryWorker{
		sender:     sender,
		messages:   messages,
		baseLogger: zap.New(core).Named("test_delivery_worker"),
	}
	return worker, messages, logs
}

func deliveryTask() DeliveryTaskData {
	return DeliveryTaskData{
		Ctx:            context.Background(),
		Instance:       "loja-centro",
		RemoteJID:      "5511988887777@s.whatsapp.net",
		ConversationID: "ABC123_1700000000000",
		Text:           "Olá! Como posso ajudar?",
	}
}

func TestProcessDeliveryTask_HappyPath(t *testing.T) {
	sender := &stubSender{result: &evolution.SendResult{MessageID: "3EB0FF", Raw: map[string]any{"status": "PENDING"}}}
	worker, messages, _ := setupDeliveryWorkerTest(t, sender)

	messages.On("Insert", mock.Anything, mock.MatchedBy(func(m *model.InboundMessage) bool {
		return m.MessageID == "3EB0FF" &&
			m.FromMe &&
			m.Direction == model.MessageFlowOutgoing &&
			m.ConversationID == "ABC123_1700000000000" &&
			m.Body == "Olá! Como posso ajudar?" &&
			len(m.Raw) > 0
	})).Return(true, nil).Once()

	worker.processDeliveryTask(deliveryTask())

	assert.Equal(t, []string{"loja-centro|5511988887777@s.whatsapp.net|Olá! Como posso ajudar?"}, sender.sent)
	messages.AssertExpectations(t)
}

func TestProcessDeliveryTask_SendFailureSkipsRecord(t *testing.T) {
	sender := &stubSender{err: &evolution.StatusError{Status: 500, Body: "boom"}}
	worker, messages, logs := setupDeliveryWorkerTest(t, sender)

	worker.processDeliveryTask(deliveryTask())

	messages.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	assert.Equal(t, 1, logs.FilterMessage("Failed to send reply through gateway").Len())
}

func TestProcessDeliveryTask_PersistFailureIsLogged(t *testing.T) {
	sender := &stubSender{result: &evolution.SendResult{}}
	worker, messages, logs := setupDeliveryWorkerTest(t, sender)
	messages.On("Insert", mock.Anything, mock.MatchedBy(func(m *model.InboundMessage) bool {
		return m.MessageID == "out_"+m.ID
	})).Return(false, errors.New("db down"))

	worker.processDeliveryTask(deliveryTask())

	assert.Equal(t, 1, logs.FilterMessage("Reply sent but outbound record not stored").Len())
}

func TestProcessDeliveryTask_EmptyTextSkipped(t *testing.T) {
	sender := &stubSender{}
	worker, messages, _ := setupDeliveryWorkerTest(t, sender)
	task := deliveryTask()
	task.Text = ""

	worker.processDeliveryTask(task)

	assert.Empty(t, sender.sent)
	messages.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestDeliveryWorker_SubmitTask(t *testing.T) {
	sender := &stubSender{result: &evolution.SendResult{MessageID: "m1"}}
	messages := new(storagemock.InboundMessageRepoMock)
	stored := make(chan *model.InboundMessage, 1)
	messages.On("Insert", mock.Anything, mock.Anything).Return(true, nil).Run(func(args mock.Arguments) {
		stored <- args.Get(1).(*model.InboundMessage)
	})

	cfg := config.WorkerPoolConfig{PoolSize: 2, MaxBlock: time.Second, ExpiryTime: time.Minute}
	worker, err := NewDeliveryWorker(cfg, sender, messages, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer worker.Stop()

	require.NoError(t, worker.SubmitTask(deliveryTask()))

	select {
	case rec := <-stored:
		assert.Equal(t, "m1", rec.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery task was not processed")
	}
}

// blockingSender holds every send until release is closed.
type blockingSender struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSender) SendText(_ context.Context, _, _, _ string) (*evolution.SendResult, error) {
	s.started <- struct{}{}
	<-s.release
	return &evolution.SendResult{MessageID: "m-blocked"}, nil
}

func TestDeliveryWorker_SubmitTask_SaturatedPoolDoesNotBlock(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{}, 4), release: make(chan struct{})}
	messages := new(storagemock.InboundMessageRepoMock)
	messages.On("Insert", mock.Anything, mock.Anything).Return(true, nil)

	cfg := config.WorkerPoolConfig{PoolSize: 1, MaxBlock: 50 * time.Millisecond, ExpiryTime: time.Minute}
	worker, err := NewDeliveryWorker(cfg, sender, messages, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer worker.Stop()

	require.NoError(t, worker.SubmitTask(deliveryTask()))
	select {
	case <-sender.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never started")
	}

	start := time.Now()
	err = worker.SubmitTask(deliveryTask())
	waited := time.Since(start)
	require.Error(t, err)
	assert.ErrorIs(t, err, ants.ErrPoolOverload)
	assert.Contains(t, err.Error(), "delivery pool overload")
	assert.GreaterOrEqual(t, waited, cfg.MaxBlock)
	assert.Less(t, waited, time.Second)

	close(sender.release)
	assert.Eventually(t, func() bool {
		return worker.SubmitTask(deliveryTask()) == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOutboundRecord(t *testing.T) {
	rec := OutboundRecord("inst", "jid", "conv", "oi", nil)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "out_"+rec.ID, rec.MessageID)
	assert.True(t, rec.FromMe)
	assert.Equal(t, model.MessageFlowOutgoing, rec.Direction)
	assert.False(t, rec.SentAt.IsZero())
}
