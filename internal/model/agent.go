package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// AgentType is the role tag of an agent.
type AgentType string

const (
	AgentTypeSecretary AgentType = "SECRETARIA"
	AgentTypeFinance   AgentType = "FINANCEIRO"
	AgentTypeSDR       AgentType = "SDR"
	AgentTypeLogistics AgentType = "LOGISTICA"
)

// Valid reports whether t is one of the known roles.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeSecretary, AgentTypeFinance, AgentTypeSDR, AgentTypeLogistics:
		return true
	}
	return false
}

// AgentStatus mirrors the status enum stored by the agent management API.
type AgentStatus string

const (
	// AgentStatusActive is the only status eligible for routing.
	AgentStatusActive AgentStatus = "ATIVO"
	AgentStatusPaused AgentStatus = "PAUSADO"
	AgentStatusDraft  AgentStatus = "RASCUNHO"
)

// Channel is an inbound/outbound communication channel.
type Channel string

const (
	ChannelWhatsApp  Channel = "WHATSAPP"
	ChannelWeb       Channel = "WEB"
	ChannelInstagram Channel = "INSTAGRAM"
	ChannelPhone     Channel = "TELEFONE"
	ChannelEmail     Channel = "EMAIL"
	ChannelTelegram  Channel = "TELEGRAM"
	ChannelFacebook  Channel = "FACEBOOK"
)

// Agent is a tenant configured conversational agent. The routing core only reads it.
type Agent struct {
	ID      string      `json:"id" gorm:"column:id;primaryKey"`
	OwnerID string      `json:"ownerId" gorm:"column:owner_id;index:idx_agents_owner_type,priority:1"`
	Name    string      `json:"name" gorm:"column:name"`
	Type    AgentType   `json:"type" gorm:"column:type;index:idx_agents_owner_type,priority:2"`
	Status  AgentStatus `json:"status" gorm:"column:status"`
	// Persona is the system prompt of the agent.
	Persona  string  `json:"persona,omitempty" gorm:"column:persona"`
	ParentID *string `json:"parentId,omitempty" gorm:"column:parent_id"`
	// InheritParentPersona makes the agent speak with its parent's persona.
	InheritParentPersona bool `json:"inheritParentPersona" gorm:"column:inherit_parent_persona;default:false"`
	// Model overrides the default LLM model when set.
	Model     string    `json:"model,omitempty" gorm:"column:model"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Agent) TableName(namer schema.Namer) string {
	return namer.TableName("agents")
}

// IsActive reports whether the agent may receive routed conversations.
func (a *Agent) IsActive() bool {
	return a != nil && a.Status == AgentStatusActive
}

// AgentChannel marks on which channels an agent answers, and whether it is
// the owner's primary agent for that channel.
type AgentChannel struct {
	ID      string  `json:"id" gorm:"column:id;primaryKey"`
	AgentID string  `json:"agentId" gorm:"column:agent_id;index"`
	Channel Channel `json:"channel" gorm:"column:channel"`
	Primary bool    `json:"primary" gorm:"column:primary;default:false"`
}

// TableName specifies the table name for GORM.
func (AgentChannel) TableName(namer schema.Namer) string {
	return namer.TableName("agent_channels")
}

// WhatsappNumber registers a WhatsApp gateway instance to the user who owns it.
type WhatsappNumber struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey"`
	UserID    string    `json:"userId" gorm:"column:user_id;index"`
	Instance  string    `json:"instance" gorm:"column:instance;uniqueIndex"`
	Number    string    `json:"number,omitempty" gorm:"column:number"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (WhatsappNumber) TableName(namer schema.Namer) string {
	return namer.TableName("whatsapp_numbers")
}
