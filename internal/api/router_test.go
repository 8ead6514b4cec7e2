package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailera/acertaia-api/internal/agent"
	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/healthcheck"
	"github.com/kailera/acertaia-api/internal/model"
	storagemock "github.com/kailera/acertaia-api/internal/storage/mock"
	"github.com/kailera/acertaia-api/internal/usecase"
	"github.com/kailera/acertaia-api/pkg/logger"
)

const testSecret = "test-secret"

// memoryBindings is an in-process BindingRepo.
type memoryBindings struct {
	mu    sync.Mutex
	rows  map[string]string
	binds int
}

func newMemoryBindings() *memoryBindings {
	return &memoryBindings{rows: map[string]string{}}
}

func (m *memoryBindings) Lookup(_ context.Context, id string) (*model.ConversationBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agentID, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &model.ConversationBinding{ConversationID: id, AgentID: agentID}, nil
}

func (m *memoryBindings) Bind(_ context.Context, id, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = agentID
	m.binds++
	return nil
}

func (m *memoryBindings) Unbind(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

// Mocks for the services not exercised end to end.

type webhookServiceMock struct{ mock.Mock }

func (m *webhookServiceMock) Handle(ctx context.Context, w *model.Webhook) (*model.WebhookResult, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookResult), args.Error(1)
}

type bindingServiceMock struct{ mock.Mock }

func (m *bindingServiceMock) Get(ctx context.Context, ownerID, conversationID string) (*model.ConversationBinding, error) {
	args := m.Called(ctx, ownerID, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationBinding), args.Error(1)
}

func (m *bindingServiceMock) Rebind(ctx context.Context, ownerID, conversationID, agentID string) (*model.ConversationBinding, error) {
	args := m.Called(ctx, ownerID, conversationID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationBinding), args.Error(1)
}

func (m *bindingServiceMock) Unbind(ctx context.Context, ownerID, conversationID string) error {
	return m.Called(ctx, ownerID, conversationID).Error(0)
}

type instanceServiceMock struct{ mock.Mock }

func (m *instanceServiceMock) Verify(ctx context.Context, userID, instance string) (*model.InstanceStatus, error) {
	args := m.Called(ctx, userID, instance)
	return args.Get(0).(*model.InstanceStatus), args.Error(1)
}

func (m *instanceServiceMock) ListChats(ctx context.Context, userID, instance, q string, limit, offset int) (*model.ChatPage, error) {
	args := m.Called(ctx, userID, instance, q, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatPage), args.Error(1)
}

func (m *instanceServiceMock) ListMessages(ctx context.Context, userID, instance, jid string, limit, offset int) ([]model.MessageView, error) {
	args := m.Called(ctx, userID, instance, jid, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MessageView), args.Error(1)
}

func (m *instanceServiceMock) LastContact(ctx context.Context, userID, instance, jid string) (*model.ContactInfo, error) {
	args := m.Called(ctx, userID, instance, jid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContactInfo), args.Error(1)
}

func (m *instanceServiceMock) Send(ctx context.Context, userID, instance string, req model.SendTextRequest) (*model.SentMessage, error) {
	args := m.Called(ctx, userID, instance, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SentMessage), args.Error(1)
}

type routerFixture struct {
	router    *chi.Mux
	bindings  *memoryBindings
	agents    *storagemock.AgentRepoMock
	webhooks  *webhookServiceMock
	handoff   *bindingServiceMock
	instances *instanceServiceMock
	llmCalls  atomic.Int32
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Auth.JWTSecret = testSecret
	cfg.Agent.Timeout = 2 * time.Second
	return cfg
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	f := &routerFixture{
		bindings:  newMemoryBindings(),
		agents:    new(storagemock.AgentRepoMock),
		webhooks:  new(webhookServiceMock),
		handoff:   new(bindingServiceMock),
		instances: new(instanceServiceMock),
	}

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.llmCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Olá! Sou a Anne, como posso ajudar?"}}]}`))
	}))
	t.Cleanup(llm.Close)

	cfg := testConfig()
	client := agent.NewLLMClient(config.AgentConfig{BaseURL: llm.URL, APIKey: "sk-test", Model: "gpt-test", Timeout: time.Second})
	factory := agent.NewFactory(f.agents, client, nil, "gpt-test")
	resolver := usecase.NewResolver(f.bindings, f.agents, factory, cfg.Agent.Timeout)

	h := NewHandler(usecase.NewChatService(resolver, factory), f.webhooks, f.handoff, f.instances)
	f.router = NewRouter(cfg, h, healthcheck.NewChecker("test", logger.Log))
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Total   *int            `json:"total"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestChat_EndToEndTwice(t *testing.T) {
	f := newRouterFixture(t)
	owner := "user-42"
	primary := model.NewAgent(&model.Agent{OwnerID: owner, Type: model.AgentTypeSecretary, Persona: "Você é a Anne."})

	f.agents.On("FindPrimaryForChannel", mock.Anything, owner, model.ChannelWeb).Return(primary, nil).Once()
	f.agents.On("FindByID", mock.Anything, primary.ID).Return(primary, nil)

	rec := f.do(t, http.MethodPost, "/api/chat", map[string]string{"input": "Oi!", "userId": owner}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var first model.ChatReply
	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, &first))
	_, err := uuid.Parse(first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Olá! Sou a Anne, como posso ajudar?", first.Reply)
	assert.Equal(t, primary.ID, first.AgentID)

	rec = f.do(t, http.MethodPost, "/api/chat", map[string]string{
		"input":          "Quero saber do meu pedido",
		"userId":         owner,
		"conversationId": first.ConversationID,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var second model.ChatReply
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &second))
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, primary.ID, second.AgentID)
	assert.Equal(t, model.TierBinding, second.Tier)

	assert.Equal(t, 1, f.bindings.binds)
	assert.EqualValues(t, 2, f.llmCalls.Load())
	f.agents.AssertNumberOfCalls(t, "FindPrimaryForChannel", 1)
}

func TestChat_BadRequests(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat", map[string]string{"userId": "u"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "input")
}

func TestRoleChat(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/financeiro/chat", map[string]string{"input": "Qual meu saldo?", "userId": "u1"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reply model.ChatReply
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &reply))
	assert.NotEmpty(t, reply.ConversationID)
	assert.NotEmpty(t, reply.Reply)
	assert.Zero(t, f.bindings.binds)
}

func TestWebhook(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/wa/webhook", map[string]any{"data": map[string]any{}}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Message, "missing instance")

	f.webhooks.On("Handle", mock.Anything, mock.MatchedBy(func(w *model.Webhook) bool { return w.Instance == "loja" && len(w.Items) == 1 })).
		Return(&model.WebhookResult{Count: 1, Replies: []model.WebhookReply{{ConversationID: "M1_1", Reply: "oi"}}}, nil).Once()
	body := model.NewWebhookBody("loja", model.NewWebhookMessage(model.FakeJID(), "M1", "olá", time.Now()))
	rec = f.do(t, http.MethodPost, "/api/wa/webhook", string(body), "")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	f.webhooks.On("Handle", mock.Anything, mock.MatchedBy(func(w *model.Webhook) bool { return w.Instance == "quiet" })).
		Return(&model.WebhookResult{Replies: []model.WebhookReply{}}, nil).Once()
	rec = f.do(t, http.MethodPost, "/api/message-upsert?instance=quiet", map[string]any{"parsedMessages": []any{}}, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-op", decodeEnvelope(t, rec).Message)
}

func TestBindingRoutes_RequireAuth(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/conversations/c1/agent", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations/c1/agent", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.handoff.On("Get", mock.Anything, "owner-1", "c1").Return(&model.ConversationBinding{ConversationID: "c1", AgentID: "a1"}, nil)
	rec = f.do(t, http.MethodGet, "/api/conversations/c1/agent", nil, signToken(t, "owner-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var binding model.ConversationBinding
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &binding))
	assert.Equal(t, "a1", binding.AgentID)
}

func TestBindingRoutes_RebindAndUnbind(t *testing.T) {
	f := newRouterFixture(t)
	token := signToken(t, "owner-1")

	f.handoff.On("Rebind", mock.Anything, "owner-1", "c1", "a2").Return(&model.ConversationBinding{ConversationID: "c1", AgentID: "a2"}, nil)
	f.handoff.On("Rebind", mock.Anything, "owner-1", "c1", "foreign").Return(nil, fmt.Errorf("agent foreign: %w", apperrors.ErrNotFound))
	f.handoff.On("Unbind", mock.Anything, "owner-1", "c1").Return(nil)
	f.handoff.On("Unbind", mock.Anything, "owner-1", "missing").Return(apperrors.ErrNotFound)

	rec := f.do(t, http.MethodPut, "/api/conversations/c1/agent", map[string]string{"agentId": "a2"}, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/conversations/c1/agent", map[string]string{"agentId": "foreign"}, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/conversations/c1/agent", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/conversations/missing/agent", nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstanceRoutes(t *testing.T) {
	f := newRouterFixture(t)
	token := signToken(t, "u1")

	f.instances.On("Verify", mock.Anything, "", "inst").Return(&model.InstanceStatus{Belongs: false}, nil)
	rec := f.do(t, http.MethodGet, "/api/wa/instances/inst/verify", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.instances.On("ListChats", mock.Anything, "u1", "inst", "ana", 5, 0).
		Return(&model.ChatPage{Chats: []model.ChatSummary{{ID: "a@s.whatsapp.net", Name: "Ana"}}, Total: 7}, nil)
	rec = f.do(t, http.MethodGet, "/api/wa/instances/inst/chats?q=ana&limit=5", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Total)
	assert.Equal(t, 7, *env.Total)

	f.instances.On("ListMessages", mock.Anything, "u1", "other", "", 0, 0).
		Return(nil, fmt.Errorf("%w: missing jid", apperrors.ErrBadRequest))
	rec = f.do(t, http.MethodGet, "/api/wa/instances/other/messages", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.instances.On("Send", mock.Anything, "u1", "inst", model.SendTextRequest{To: "5511", Text: "oi"}).
		Return(nil, fmt.Errorf("%w: evolution sendText failed: 500", apperrors.ErrUpstream))
	rec = f.do(t, http.MethodPost, "/api/wa/instances/inst/send", map[string]string{"to": "5511", "text": "oi"}, token)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.instances.On("LastContact", mock.Anything, "u1", "nope", "j").Return(nil, apperrors.ErrForbidden)
	rec = f.do(t, http.MethodGet, "/api/wa/instances/nope/contact?jid=j", nil, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	f := newRouterFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", nil, "").Code)
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("1.1.1.1"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	l := NewRateLimiter(0.001, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperrors.ErrValidation, http.StatusBadRequest},
		{fmt.Errorf("%w: boom", apperrors.ErrAgentExecution), http.StatusBadRequest},
		{fmt.Errorf("%w: slow", apperrors.ErrTimeout), http.StatusBadRequest},
		{apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{apperrors.ErrForbidden, http.StatusForbidden},
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrDuplicate, http.StatusConflict},
		{apperrors.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("send: %w", apperrors.ErrUpstream), http.StatusBadGateway},
		{fmt.Errorf("db: %w", apperrors.ErrDatabase), http.StatusInternalServerError},
		{apperrors.NewRetryable(apperrors.ErrNotFound, "wrapped"), http.StatusNotFound},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestAuthenticator_UserID(t *testing.T) {
	a := NewAuthenticator(testSecret)

	id, err := a.UserID(signToken(t, "u-9"))
	require.NoError(t, err)
	assert.Equal(t, "u-9", id)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"userId": "x"})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.UserID(raw)
	assert.Error(t, err)

	_, err = NewAuthenticator("").UserID(signToken(t, "u-9"))
	assert.Error(t, err)
}
