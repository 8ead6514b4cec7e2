package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"github.com/kailera/acertaia-api/pkg/utils"
)

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakeJID returns a random WhatsApp user JID.
func FakeJID() string {
	return fmt.Sprintf("55%s@s.whatsapp.net", gofakeit.Numerify("###########"))
}

// NewAgent creates a new Agent instance with default fake data.
func NewAgent(overrideDefaults ...*Agent) *Agent {
	base := &Agent{
		ID:        gofakeit.UUID(),
		OwnerID:   gofakeit.UUID(),
		Name:      gofakeit.FirstName(),
		Type:      AgentType(gofakeit.RandomString([]string{string(AgentTypeSecretary), string(AgentTypeFinance), string(AgentTypeSDR), string(AgentTypeLogistics)})),
		Status:    AgentStatusActive,
		Persona:   gofakeit.Sentence(12),
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.OwnerID != "" {
			base.OwnerID = ovr.OwnerID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		base.Persona = ovr.Persona
		base.ParentID = ovr.ParentID
		base.InheritParentPersona = ovr.InheritParentPersona
		base.Model = ovr.Model
	}
	return base
}

// NewBinding creates a ConversationBinding with fake data.
func NewBinding(overrideDefaults ...*ConversationBinding) *ConversationBinding {
	base := &ConversationBinding{
		ConversationID: gofakeit.UUID(),
		AgentID:        gofakeit.UUID(),
		CreatedAt:      utils.Now().Add(-time.Hour),
		UpdatedAt:      utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.AgentID != "" {
			base.AgentID = ovr.AgentID
		}
	}
	return base
}

// NewInboundMessage creates an inbound WhatsApp message with fake data.
func NewInboundMessage(overrideDefaults ...*InboundMessage) *InboundMessage {
	base := &InboundMessage{
		ID:        gofakeit.UUID(),
		Instance:  "instance_" + gofakeit.LetterN(6),
		MessageID: gofakeit.LetterN(20),
		RemoteJID: FakeJID(),
		PushName:  gofakeit.Name(),
		Body:      gofakeit.Sentence(6),
		FromMe:    false,
		Direction: MessageFlowIncoming,
		SentAt:    utils.Now().Add(-time.Duration(gofakeit.Number(1, 600)) * time.Second).Truncate(time.Millisecond),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Instance != "" {
			base.Instance = ovr.Instance
		}
		if ovr.MessageID != "" {
			base.MessageID = ovr.MessageID
		}
		if ovr.RemoteJID != "" {
			base.RemoteJID = ovr.RemoteJID
		}
		if ovr.PushName != "" {
			base.PushName = ovr.PushName
		}
		if ovr.Body != "" {
			base.Body = ovr.Body
		}
		if ovr.FromMe {
			base.FromMe = true
			base.Direction = MessageFlowOutgoing
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
		}
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if !ovr.SentAt.IsZero() {
			base.SentAt = ovr.SentAt
		}
		base.Raw = ovr.Raw
	}
	return base
}

// NewWebhookMessage builds one gateway style message item (key/message/messageTimestamp).
func NewWebhookMessage(remoteJID, messageID, text string, sentAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"key": map[string]interface{}{
			"remoteJid": remoteJID,
			"fromMe":    false,
			"id":        messageID,
		},
		"pushName":         gofakeit.FirstName(),
		"message":          map[string]interface{}{"conversation": text},
		"messageTimestamp": sentAt.Unix(),
	}
}

// NewWebhookBody builds a webhook delivery body for the given instance.
func NewWebhookBody(instance string, messages ...map[string]interface{}) []byte {
	if len(messages) == 0 {
		messages = append(messages, NewWebhookMessage(FakeJID(), gofakeit.LetterN(20), gofakeit.Sentence(5), utils.Now()))
	}
	items := make([]interface{}, len(messages))
	for i, m := range messages {
		items[i] = m
	}
	body, _ := json.Marshal(map[string]interface{}{
		"event":    string(EventMessagesUpsert),
		"instance": instance,
		"messages": items,
	})
	return body
}

// RandomJSONB generates random JSON data for testing.
func RandomJSONB() datatypes.JSON {
	bytes, _ := json.Marshal(map[string]interface{}{
		"key":  gofakeit.Word(),
		"size": gofakeit.Number(1, 100),
	})
	return datatypes.JSON(bytes)
}
