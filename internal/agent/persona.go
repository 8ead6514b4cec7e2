package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/pkg/logger"
)

// PersonaExecutor answers with a fixed system prompt on top of the
// conversation history.
type PersonaExecutor struct {
	Name         string
	Instructions string
	Model        string

	llm     Completer
	history History
}

// NewPersonaExecutor builds an executor; a nil history disables memory.
func NewPersonaExecutor(name, instructions, model string, llm Completer, history History) *PersonaExecutor {
	if history == nil {
		history = NoopHistory{}
	}
	return &PersonaExecutor{
		Name:         name,
		Instructions: instructions,
		Model:        model,
		llm:          llm,
		history:      history,
	}
}

// GenerateReply implements Executor. History failures degrade to a
// stateless answer.
func (e *PersonaExecutor) GenerateReply(ctx context.Context, text, userID, conversationID string) (any, error) {
	log := logger.FromContext(ctx).With(
		zap.String("agent_name", e.Name),
		zap.String("conversation_id", conversationID),
	)

	past, err := e.history.Load(ctx, conversationID)
	if err != nil {
		log.Warn("Failed to load conversation history", zap.Error(err))
		past = nil
	}

	messages := make([]Message, 0, len(past)+2)
	if e.Instructions != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: e.Instructions})
	}
	messages = append(messages, past...)
	messages = append(messages, Message{Role: RoleUser, Content: text})

	raw, err := e.llm.Complete(ctx, CompletionRequest{
		Model:    e.Model,
		Messages: messages,
		User:     userID,
	})
	if err != nil {
		return nil, err
	}

	reply := NormalizeReply(raw)
	if err := e.history.Append(ctx, conversationID,
		Message{Role: RoleUser, Content: text},
		Message{Role: RoleAssistant, Content: reply},
	); err != nil {
		log.Warn("Failed to append conversation history", zap.Error(err))
	}

	return raw, nil
}
