package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// ConversationBinding pins a conversation to the agent that answers it.
type ConversationBinding struct {
	ConversationID string    `json:"conversationId" gorm:"column:conversation_id;primaryKey"`
	AgentID        string    `json:"agentId" gorm:"column:agent_id;not null;index"`
	CreatedAt      time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (ConversationBinding) TableName(namer schema.Namer) string {
	return namer.TableName("conversation_bindings")
}

// BindingUpdateColumns lists the columns overwritten when a binding already exists.
func BindingUpdateColumns() []string {
	return []string{"agent_id", "updated_at"}
}
