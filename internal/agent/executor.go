// Package agent holds the text generation side of routing: the Executor
// contract, reply normalisation, the OpenAI compatible client, per
// conversation memory and the factory that turns agent records into executors.
package agent

import "context"

// Executor generates a reply for one user turn of a conversation. The raw
// result shape varies by implementation; pass it through NormalizeReply.
type Executor interface {
	GenerateReply(ctx context.Context, text, userID, conversationID string) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, text, userID, conversationID string) (any, error)

// GenerateReply calls f.
func (f ExecutorFunc) GenerateReply(ctx context.Context, text, userID, conversationID string) (any, error) {
	return f(ctx, text, userID, conversationID)
}
