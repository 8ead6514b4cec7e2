package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is a WhatsApp gateway webhook event name.
type EventType string

const (
	EventMessagesUpsert   EventType = "messages.upsert"
	EventMessagesUpdate   EventType = "messages.update"
	EventSendMessage      EventType = "send.message"
	EventConnectionUpdate EventType = "connection.update"
	EventQRCodeUpdated    EventType = "qrcode.updated"
)

// NormalizeEventType maps the spellings used by the gateway ("MESSAGES_UPSERT",
// "messages.upsert", "Messages-Upsert") to one EventType. An empty name is
// treated as messages.upsert, which is what bare message batches carry.
func NormalizeEventType(name string) EventType {
	name = strings.TrimSpace(name)
	if name == "" {
		return EventMessagesUpsert
	}
	name = strings.ToLower(name)
	name = strings.NewReplacer("_", ".", "-", ".").Replace(name)
	return EventType(name)
}

// MessageMetadata is the JetStream delivery information handed to the router.
type MessageMetadata struct {
	StreamSequence   uint64
	ConsumerSequence uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	MessageID        string
	MessageSubject   string
	Instance         string
}

// DLQPayload is what the webhook consumer publishes to the dead letter subject.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`
	Instance        string          `json:"instance"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"` // fatal or retryable
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	Timestamp       time.Time       `json:"ts"`
}
