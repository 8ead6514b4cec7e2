package model

import "time"

// CanonicalMessage is the channel independent unit of work handed to the resolver.
type CanonicalMessage struct {
	ConversationID string  `json:"conversationId"`
	UserID         string  `json:"userId"`
	OwnerID        string  `json:"ownerId,omitempty"`
	Channel        Channel `json:"channel"`
	Instance       string  `json:"instance,omitempty"`
	Text           string  `json:"text"`
}

// Outcome tags how a resolution ended.
type Outcome string

const (
	// OutcomeRouted means an agent was resolved and answered.
	OutcomeRouted Outcome = "routed"
	// OutcomeNoOwner means the channel identity is not registered to any owner.
	OutcomeNoOwner Outcome = "no_owner"
	// OutcomeNoAgent means a reply was produced by the default agent but no
	// agent record exists to bind the conversation to.
	OutcomeNoAgent Outcome = "no_agent"
)

// Tier identifies which step of the fallback chain answered.
type Tier string

const (
	TierNone    Tier = "none"
	TierBinding Tier = "binding"
	TierPrimary Tier = "primary"
	TierDefault Tier = "default"
	TierRole    Tier = "role"
)

// Resolution is the result of routing one canonical message.
type Resolution struct {
	ConversationID string  `json:"conversationId"`
	AgentID        string  `json:"agentId,omitempty"`
	Tier           Tier    `json:"tier"`
	Outcome        Outcome `json:"outcome"`
	Reply          string  `json:"reply"`
	// Bound is true when this resolution wrote the binding.
	Bound bool `json:"bound"`
}

// RoutingEvent is published after every resolution.
type RoutingEvent struct {
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	UserID         string    `json:"user_id"`
	Channel        Channel   `json:"channel"`
	Instance       string    `json:"instance,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Tier           Tier      `json:"tier"`
	Outcome        Outcome   `json:"outcome"`
	Bound          bool      `json:"bound"`
	ResolvedAt     time.Time `json:"resolved_at"`
}
