package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

const (
	MessageFlowIncoming = "IN"
	MessageFlowOutgoing = "OUT"
)

// DefaultConversationID is used when a WhatsApp batch lacks the message id or
// timestamp needed to derive a conversation id.
const DefaultConversationID = "default_conversation"

// InboundMessage is one entry of the WhatsApp message log. Outbound replies are
// stored in the same table with FromMe set and Direction OUT.
type InboundMessage struct {
	ID             string         `json:"id" gorm:"column:id;primaryKey"`
	Instance       string         `json:"instance" gorm:"column:instance;not null;uniqueIndex:idx_inbound_instance_message,priority:1"`
	MessageID      string         `json:"messageId" gorm:"column:message_id;not null;uniqueIndex:idx_inbound_instance_message,priority:2"`
	RemoteJID      string         `json:"remoteJid" gorm:"column:remote_jid;index"`
	PushName       string         `json:"pushName,omitempty" gorm:"column:push_name"`
	Body           string         `json:"body" gorm:"column:body"`
	FromMe         bool           `json:"fromMe" gorm:"column:from_me"`
	Direction      string         `json:"direction" gorm:"column:direction"`
	ConversationID string         `json:"conversationId,omitempty" gorm:"column:conversation_id;index"`
	SentAt         time.Time      `json:"sentAt" gorm:"column:sent_at;index"`
	Raw            datatypes.JSON `json:"-" gorm:"type:jsonb;column:raw"`
	CreatedAt      time.Time      `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (InboundMessage) TableName(namer schema.Namer) string {
	return namer.TableName("inbound_messages")
}

// DedupKey identifies a provider message within an instance.
func (m *InboundMessage) DedupKey() string {
	return m.Instance + "|" + m.MessageID
}
