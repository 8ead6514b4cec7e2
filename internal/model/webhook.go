package model

import (
	"encoding/json"
	"time"
)

// WebhookItem is one WhatsApp message normalised from a gateway delivery.
type WebhookItem struct {
	RemoteJID string `json:"remoteJid"`
	MessageID string `json:"messageId"`
	PushName  string `json:"pushName,omitempty"`
	Body      string `json:"body"`
	FromMe    bool   `json:"fromMe"`
	// SentAt is zero when the delivery carried no timestamp.
	SentAt time.Time       `json:"sentAt"`
	Raw    json.RawMessage `json:"-"`
}

// Webhook is a parsed gateway delivery.
type Webhook struct {
	Instance string        `json:"instance"`
	Event    EventType     `json:"event"`
	Items    []WebhookItem `json:"items"`
}

// Empty reports whether the delivery carries no message.
func (w *Webhook) Empty() bool {
	return w == nil || len(w.Items) == 0
}

// CarriesMessages reports whether the event type holds chat messages.
func (w *Webhook) CarriesMessages() bool {
	switch w.Event {
	case EventMessagesUpsert, EventSendMessage:
		return true
	}
	return false
}

// Turn is the run of inbound messages one contact sent in a delivery.
type Turn struct {
	ConversationID string        `json:"conversationId"`
	UserID         string        `json:"userId"`
	PushName       string        `json:"pushName,omitempty"`
	Text           string        `json:"text"`
	Messages       []WebhookItem `json:"-"`
}
