package model

import (
	"strings"
	"time"
)

// ChatRequest is the body of the web chat and role chat endpoints.
type ChatRequest struct {
	Input          string `json:"input" validate:"notblank,max=4096"`
	UserID         string `json:"userId" validate:"notblank"`
	ConversationID string `json:"conversationId,omitempty" validate:"omitempty,max=128"`
}

// ChatReply is returned by the chat endpoints.
type ChatReply struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId,omitempty"`
	Tier           Tier   `json:"tier,omitempty"`
}

// WebhookReply is the answer produced for one WhatsApp turn.
type WebhookReply struct {
	ConversationID string  `json:"conversationId"`
	RemoteJID      string  `json:"remoteJid"`
	AgentID        string  `json:"agentId,omitempty"`
	Outcome        Outcome `json:"outcome"`
	Reply          string  `json:"reply"`
}

// WebhookResult summarizes a processed webhook delivery.
type WebhookResult struct {
	Count   int            `json:"count"`
	Replies []WebhookReply `json:"replies"`
}

// RebindRequest moves a conversation to another agent.
type RebindRequest struct {
	AgentID string `json:"agentId" validate:"notblank"`
}

// SendTextRequest sends a text through a WhatsApp instance. The gateway
// console posts several spellings of both fields.
type SendTextRequest struct {
	To        string `json:"to,omitempty"`
	JID       string `json:"jid,omitempty"`
	RemoteJID string `json:"remoteJid,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
	Body      string `json:"body,omitempty"`
}

// Destination returns the first non-blank recipient field.
func (r SendTextRequest) Destination() string {
	return firstNonBlank(r.To, r.JID, r.RemoteJID)
}

// Content returns the first non-blank text field.
func (r SendTextRequest) Content() string {
	return firstNonBlank(r.Text, r.Message, r.Body)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// InstanceStatus answers whether the caller owns a WhatsApp instance.
type InstanceStatus struct {
	Belongs       bool       `json:"belongs"`
	UserID        string     `json:"userId,omitempty"`
	HasMessages   bool       `json:"hasMessages"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
}

// LastMessage is the preview of a chat.
type LastMessage struct {
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSummary is one WhatsApp chat of an instance.
type ChatSummary struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	UnreadCount int         `json:"unreadCount"`
	LastMessage LastMessage `json:"lastMessage"`
}

// ChatPage is a page of chats plus the number of chats matching the filter.
type ChatPage struct {
	Chats []ChatSummary `json:"data"`
	Total int           `json:"total"`
}

// MessageKey mirrors the gateway message key.
type MessageKey struct {
	FromMe bool `json:"fromMe"`
}

// MessageView is one entry of a chat history.
type MessageView struct {
	ID        string     `json:"id"`
	Key       MessageKey `json:"key"`
	Body      string     `json:"body"`
	Timestamp time.Time  `json:"timestamp"`
	MessageID string     `json:"messageId"`
}

// ContactInfo is what the message log knows about a contact.
type ContactInfo struct {
	JID      string `json:"jid"`
	Name     string `json:"name,omitempty"`
	PushName string `json:"pushName,omitempty"`
}

// SentMessage is the result of a manual send.
type SentMessage struct {
	MessageID string         `json:"messageId"`
	To        string         `json:"to"`
	Text      string         `json:"text"`
	Gateway   map[string]any `json:"gateway,omitempty"`
}

// APIResponse is the envelope of every HTTP response.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	// Total is set by paginated listings.
	Total *int `json:"total,omitempty"`
}
