package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	storagemock "github.com/kailera/acertaia-api/internal/storage/mock"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// recordingCompleter captures requests and answers with a fixed completion.
type recordingCompleter struct {
	requests []CompletionRequest
	reply    string
	err      error
}

func (c *recordingCompleter) Complete(_ context.Context, req CompletionRequest) (any, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": c.reply}}}}, nil
}

// memoryHistory is an in-process History for tests.
type memoryHistory struct {
	turns map[string][]Message
}

func (h *memoryHistory) Load(_ context.Context, id string) ([]Message, error) {
	return h.turns[id], nil
}

func (h *memoryHistory) Append(_ context.Context, id string, turns ...Message) error {
	if h.turns == nil {
		h.turns = map[string][]Message{}
	}
	h.turns[id] = append(h.turns[id], turns...)
	return nil
}

func TestFactory_ForAgent_UsesOwnPersona(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	repo := new(storagemock.AgentRepoMock)
	llm := &recordingCompleter{reply: "ok"}
	agent := model.NewAgent(&model.Agent{Persona: "Você é a Bia.", Model: "gpt-4.1"})

	repo.On("FindByID", mock.Anything, agent.ID).Return(agent, nil)

	exec, loaded, err := NewFactory(repo, llm, nil, "gpt-4o-mini").ForAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, loaded.ID)

	_, err = exec.GenerateReply(context.Background(), "oi", "user-1", "conv-1")
	require.NoError(t, err)

	require.Len(t, llm.requests, 1)
	assert.Equal(t, "gpt-4.1", llm.requests[0].Model)
	assert.Equal(t, "Você é a Bia.", llm.requests[0].Messages[0].Content)
	assert.Equal(t, "user-1", llm.requests[0].User)
	repo.AssertExpectations(t)
}

func TestFactory_ForAgent_InheritsParentPersona(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	repo := new(storagemock.AgentRepoMock)
	llm := &recordingCompleter{reply: "ok"}

	parent := model.NewAgent(&model.Agent{Persona: "Persona da matriz."})
	child := model.NewAgent(&model.Agent{ParentID: &parent.ID, InheritParentPersona: true})
	child.Persona = ""

	repo.On("FindByID", mock.Anything, child.ID).Return(child, nil)
	repo.On("FindByID", mock.Anything, parent.ID).Return(parent, nil)

	exec, _, err := NewFactory(repo, llm, nil, "gpt-4o-mini").ForAgent(context.Background(), child.ID)
	require.NoError(t, err)
	_, err = exec.GenerateReply(context.Background(), "oi", "u", "c")
	require.NoError(t, err)

	assert.Equal(t, "Persona da matriz.", llm.requests[0].Messages[0].Content)
	assert.Equal(t, "gpt-4o-mini", llm.requests[0].Model)
}

func TestFactory_ForAgent_FallsBackToRolePrompt(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	repo := new(storagemock.AgentRepoMock)
	llm := &recordingCompleter{reply: "ok"}

	agent := model.NewAgent(&model.Agent{Type: model.AgentTypeFinance})
	agent.Persona = ""
	repo.On("FindByID", mock.Anything, agent.ID).Return(agent, nil)

	exec, _, err := NewFactory(repo, llm, nil, "gpt-4o-mini").ForAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	_, err = exec.GenerateReply(context.Background(), "boleto?", "u", "c")
	require.NoError(t, err)

	role, _ := RoleFor(model.AgentTypeFinance)
	assert.Equal(t, role.Instructions, llm.requests[0].Messages[0].Content)
}

func TestFactory_ForAgent_NotFound(t *testing.T) {
	repo := new(storagemock.AgentRepoMock)
	repo.On("FindByID", mock.Anything, "gone").Return(nil, fmt.Errorf("%w: agent gone", apperrors.ErrNotFound))

	_, _, err := NewFactory(repo, &recordingCompleter{}, nil, "m").ForAgent(context.Background(), "gone")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestFactory_ForRole(t *testing.T) {
	f := NewFactory(new(storagemock.AgentRepoMock), &recordingCompleter{}, nil, "m")

	for _, typ := range []model.AgentType{model.AgentTypeSecretary, model.AgentTypeFinance, model.AgentTypeSDR, model.AgentTypeLogistics} {
		exec, err := f.ForRole(typ)
		require.NoError(t, err, typ)
		role, _ := RoleFor(typ)
		assert.Equal(t, role.Name, exec.(*PersonaExecutor).Name)
	}

	_, err := f.ForRole("MARKETING")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	assert.Equal(t, "Anne", f.Default().(*PersonaExecutor).Name)
}

func TestPersonaExecutor_CarriesHistory(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	llm := &recordingCompleter{reply: "Sua matrícula está ativa."}
	history := &memoryHistory{}
	exec := NewPersonaExecutor("Anne", "persona", "m", llm, history)

	_, err := exec.GenerateReply(context.Background(), "oi", "u", "conv-1")
	require.NoError(t, err)
	raw, err := exec.GenerateReply(context.Background(), "e minha matrícula?", "u", "conv-1")
	require.NoError(t, err)

	assert.Equal(t, "Sua matrícula está ativa.", NormalizeReply(raw))
	second := llm.requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, RoleSystem, second[0].Role)
	assert.Equal(t, "oi", second[1].Content)
	assert.Equal(t, RoleAssistant, second[2].Role)
	assert.Equal(t, "e minha matrícula?", second[3].Content)
	assert.Len(t, history.turns["conv-1"], 4)
}

func TestPersonaExecutor_PropagatesCompletionError(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	history := &memoryHistory{}
	exec := NewPersonaExecutor("Anne", "persona", "m", &recordingCompleter{err: errors.New("boom")}, history)

	_, err := exec.GenerateReply(context.Background(), "oi", "u", "conv-1")

	assert.Error(t, err)
	assert.Empty(t, history.turns["conv-1"], "failed turns are not remembered")
}
