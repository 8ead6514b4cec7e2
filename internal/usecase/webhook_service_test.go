package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/ingress"
	"github.com/kailera/acertaia-api/internal/model"
	storagemock "github.com/kailera/acertaia-api/internal/storage/mock"
)

type recordingDelivery struct {
	mu    sync.Mutex
	tasks []DeliveryTaskData
}

func (d *recordingDelivery) SubmitTask(task DeliveryTaskData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *recordingDelivery) Stop() {}

type webhookFixture struct {
	svc      *WebhookService
	messages *storagemock.InboundMessageRepoMock
	owners   *storagemock.OwnerRepoMock
	bindings *storagemock.BindingRepoMock
	agents   *storagemock.AgentRepoMock
	factory  *fakeFactory
	delivery *recordingDelivery
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		messages: new(storagemock.InboundMessageRepoMock),
		owners:   new(storagemock.OwnerRepoMock),
		bindings: new(storagemock.BindingRepoMock),
		agents:   new(storagemock.AgentRepoMock),
		factory:  newFakeFactory(),
		delivery: &recordingDelivery{},
	}
	resolver := NewResolver(f.bindings, f.agents, f.factory, time.Second)
	f.svc = NewWebhookService(ingress.NewAdapter(f.messages, nil), f.owners, resolver, f.delivery)
	return f
}

func twoContactWebhook() *model.Webhook {
	t0 := time.UnixMilli(1717171717000)
	return &model.Webhook{
		Instance: "loja-centro",
		Event:    model.EventMessagesUpsert,
		Items: []model.WebhookItem{
			{RemoteJID: "5511911111111@s.whatsapp.net", MessageID: "A1", Body: "Oi", SentAt: t0},
			{RemoteJID: "5511922222222@s.whatsapp.net", MessageID: "B1", Body: "Bom dia", SentAt: t0.Add(time.Second)},
			{RemoteJID: "5511911111111@s.whatsapp.net", MessageID: "A2", Body: "quero um orçamento", SentAt: t0.Add(2 * time.Second)},
		},
	}
}

func TestWebhookService_Handle_RoutesEachContact(t *testing.T) {
	ctx, _ := observedContext(t)
	f := newWebhookFixture(t)
	owner := "owner-wa"
	primary := model.NewAgent(&model.Agent{OwnerID: owner, Type: model.AgentTypeSDR})
	f.factory.add(primary, map[string]any{"reply": "Sofia aqui!"})

	f.messages.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.owners.On("FindOwnerByInstance", mock.Anything, "loja-centro").Return(owner, nil)
	f.bindings.On("Lookup", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
	f.agents.On("FindPrimaryForChannel", mock.Anything, owner, model.ChannelWhatsApp).Return(primary, nil)
	f.bindings.On("Bind", mock.Anything, mock.Anything, primary.ID).Return(nil)

	res, err := f.svc.Handle(ctx, twoContactWebhook())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	require.Len(t, res.Replies, 2)

	byJID := map[string]model.WebhookReply{}
	for _, r := range res.Replies {
		byJID[r.RemoteJID] = r
	}
	assert.Equal(t, "A1_1717171717000", byJID["5511911111111@s.whatsapp.net"].ConversationID)
	assert.Equal(t, "B1_1717171718000", byJID["5511922222222@s.whatsapp.net"].ConversationID)
	assert.Equal(t, "Sofia aqui!", byJID["5511922222222@s.whatsapp.net"].Reply)

	require.Len(t, f.delivery.tasks, 2)
	for _, task := range f.delivery.tasks {
		assert.Equal(t, "loja-centro", task.Instance)
		assert.Equal(t, "Sofia aqui!", task.Text)
	}
	f.bindings.AssertNumberOfCalls(t, "Bind", 2)
}

func TestWebhookService_Handle_RedeliveryIsNotAnsweredTwice(t *testing.T) {
	ctx, _ := observedContext(t)
	f := newWebhookFixture(t)
	f.messages.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(false, nil)

	res, err := f.svc.Handle(ctx, twoContactWebhook())
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, f.delivery.tasks)
	f.owners.AssertNotCalled(t, "FindOwnerByInstance", mock.Anything, mock.Anything)
}

func TestWebhookService_Handle_UnknownInstance(t *testing.T) {
	ctx, logs := observedContext(t)
	f := newWebhookFixture(t)
	f.messages.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.owners.On("FindOwnerByInstance", mock.Anything, "loja-centro").Return("", apperrors.ErrNotFound)

	res, err := f.svc.Handle(ctx, twoContactWebhook())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	require.Len(t, res.Replies, 2)
	for _, r := range res.Replies {
		assert.Equal(t, model.OutcomeNoOwner, r.Outcome)
		assert.Empty(t, r.Reply)
	}
	assert.Empty(t, f.delivery.tasks)
	assert.Equal(t, 2, logs.FilterMessage("No owner registered for channel identity, message not routed").Len())
}

func TestWebhookService_Handle_NoOp(t *testing.T) {
	f := newWebhookFixture(t)

	res, err := f.svc.Handle(context.Background(), &model.Webhook{Instance: "x", Event: model.EventMessagesUpsert})
	require.NoError(t, err)
	assert.Zero(t, res.Count)

	res, err = f.svc.Handle(context.Background(), &model.Webhook{
		Instance: "x",
		Event:    model.EventConnectionUpdate,
		Items:    []model.WebhookItem{{RemoteJID: "j", MessageID: "m", Body: "b"}},
	})
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	f.messages.AssertNotCalled(t, "SaveIfAbsent", mock.Anything, mock.Anything)
}

func TestWebhookService_Handle_StorageError(t *testing.T) {
	ctx, _ := observedContext(t)
	f := newWebhookFixture(t)
	f.messages.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(false, apperrors.ErrDatabase)

	_, err := f.svc.Handle(ctx, twoContactWebhook())
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
}

func TestWebhookService_Handle_AgentFailureIsReported(t *testing.T) {
	ctx, _ := observedContext(t)
	f := newWebhookFixture(t)
	f.factory.err = errors.New("llm down")

	f.messages.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.owners.On("FindOwnerByInstance", mock.Anything, "loja-centro").Return("o", nil)
	f.bindings.On("Lookup", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
	f.agents.On("FindPrimaryForChannel", mock.Anything, "o", model.ChannelWhatsApp).Return(nil, apperrors.ErrNotFound)

	res, err := f.svc.Handle(ctx, twoContactWebhook())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAgentExecution)
	assert.Equal(t, 3, res.Count)
	assert.Empty(t, res.Replies)
	assert.Empty(t, f.delivery.tasks)
}

func TestWebhookService_Handle_EchoesAreCountedNotAnswered(t *testing.T) {
	ctx, _ := observedContext(t)
	f := newWebhookFixture(t)
	f.messages.On("SaveIfAbsent", mock.Anything, mock.Anything).Return(true, nil)

	res, err := f.svc.Handle(ctx, &model.Webhook{
		Instance: "loja-centro",
		Event:    model.EventMessagesUpsert,
		Items: []model.WebhookItem{
			{RemoteJID: "5511911111111@s.whatsapp.net", MessageID: "E1", Body: "Seu pedido saiu", FromMe: true, SentAt: time.UnixMilli(1717171717000)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Empty(t, res.Replies)
	assert.Empty(t, f.delivery.tasks)
	f.owners.AssertNotCalled(t, "FindOwnerByInstance", mock.Anything, mock.Anything)
}
