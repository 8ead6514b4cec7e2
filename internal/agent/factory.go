package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// AgentLookup loads agent records. storage.AgentRepo satisfies it.
type AgentLookup interface {
	FindByID(ctx context.Context, agentID string) (*model.Agent, error)
}

// Factory turns agent records and built-in roles into executors.
type Factory struct {
	agents       AgentLookup
	llm          Completer
	history      History
	defaultModel string
}

// NewFactory creates a factory; history may be nil.
func NewFactory(agents AgentLookup, llm Completer, history History, defaultModel string) *Factory {
	if history == nil {
		history = NoopHistory{}
	}
	return &Factory{agents: agents, llm: llm, history: history, defaultModel: defaultModel}
}

// ForAgent builds the executor of a stored agent. A missing agent is
// reported as apperrors.ErrNotFound.
func (f *Factory) ForAgent(ctx context.Context, agentID string) (Executor, *model.Agent, error) {
	agent, err := f.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	return f.ForRecord(ctx, agent), agent, nil
}

// ForRecord builds the executor of an already loaded agent.
func (f *Factory) ForRecord(ctx context.Context, agent *model.Agent) Executor {
	mdl := agent.Model
	if mdl == "" {
		mdl = f.defaultModel
	}
	return NewPersonaExecutor(agent.Name, f.instructions(ctx, agent), mdl, f.llm, f.history)
}

// instructions returns the agent persona, or its parent's when the agent
// has none of its own and inherits. Tenants that never wrote a persona get
// the built-in prompt of the agent's role.
func (f *Factory) instructions(ctx context.Context, agent *model.Agent) string {
	persona := agent.Persona
	if persona == "" && agent.InheritParentPersona && agent.ParentID != nil && *agent.ParentID != "" {
		parent, err := f.agents.FindByID(ctx, *agent.ParentID)
		if err != nil {
			logger.FromContext(ctx).Warn("Failed to load parent persona",
				zap.String("agent_id", agent.ID),
				zap.String("parent_id", *agent.ParentID),
				zap.Error(err))
		} else {
			persona = parent.Persona
		}
	}
	if persona == "" {
		if role, ok := RoleFor(agent.Type); ok {
			persona = role.Instructions
		}
	}
	return persona
}

// Default returns the built-in Secretary, the last tier of routing.
func (f *Factory) Default() Executor {
	exec, _ := f.ForRole(model.AgentTypeSecretary)
	return exec
}

// ForRole returns the built-in executor of a role.
func (f *Factory) ForRole(t model.AgentType) (Executor, error) {
	role, ok := RoleFor(t)
	if !ok {
		return nil, fmt.Errorf("%w: unknown agent type %q", apperrors.ErrBadRequest, t)
	}
	return NewPersonaExecutor(role.Name, role.Instructions, f.defaultModel, f.llm, f.history), nil
}
