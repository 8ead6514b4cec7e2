package ingress

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// ParseWebhook normalises a gateway delivery. The instance comes from the
// body (instanceName, instance) or the ?instance= query value. A body that
// is not JSON or holds no message yields an empty webhook, not an error;
// only a missing instance is rejected.
func ParseWebhook(raw []byte, queryInstance string) (*model.Webhook, error) {
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = map[string]any{}
	}

	obj, _ := body.(map[string]any)
	items := messageItems(body)

	instance := firstString(obj, "instanceName", "instance")
	if instance == "" {
		instance = strings.TrimSpace(queryInstance)
	}
	if instance == "" {
		for _, it := range items {
			if s := firstString(it, "instance", "instanceName"); s != "" {
				instance = s
				break
			}
		}
	}
	if instance == "" {
		return nil, fmt.Errorf("%w: missing instance", apperrors.ErrBadRequest)
	}

	webhook := &model.Webhook{
		Instance: instance,
		Event:    model.NormalizeEventType(firstString(obj, "event")),
	}
	for _, it := range items {
		if item, ok := parseItem(it); ok {
			webhook.Items = append(webhook.Items, item)
		}
	}
	return webhook, nil
}

// messageItems locates the message list: parsedMessages, messages,
// data.messages, data as a list or single message, then a top level array.
func messageItems(body any) []map[string]any {
	if arr, ok := body.([]any); ok {
		return objects(arr)
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"parsedMessages", "messages"} {
		if arr, ok := obj[key].([]any); ok && len(arr) > 0 {
			return objects(arr)
		}
	}
	switch data := obj["data"].(type) {
	case map[string]any:
		if arr, ok := data["messages"].([]any); ok && len(arr) > 0 {
			return objects(arr)
		}
		if isMessage(data) {
			return []map[string]any{data}
		}
	case []any:
		return objects(data)
	}
	return nil
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func isMessage(m map[string]any) bool {
	if _, ok := m["key"].(map[string]any); ok {
		return true
	}
	_, hasJID := m["remoteJid"]
	_, hasMessage := m["message"]
	return hasJID || hasMessage
}

func parseItem(it map[string]any) (model.WebhookItem, bool) {
	if !isMessage(it) {
		return model.WebhookItem{}, false
	}
	key, _ := it["key"].(map[string]any)

	item := model.WebhookItem{
		RemoteJID: firstString(it, "remoteJid"),
		MessageID: firstString(it, "messageId"),
		PushName:  firstString(it, "pushName", "participant"),
	}
	if item.RemoteJID == "" {
		item.RemoteJID = firstString(key, "remoteJid")
	}
	if item.MessageID == "" {
		item.MessageID = firstString(key, "id")
	}
	if fromMe, ok := it["fromMe"].(bool); ok {
		item.FromMe = fromMe
	} else if fromMe, ok := key["fromMe"].(bool); ok {
		item.FromMe = fromMe
	}

	if s, ok := it["message"].(string); ok {
		item.Body = s
	} else {
		item.Body = PickText(it)
	}

	if v, ok := it["sentAt"]; ok {
		item.SentAt = utils.ParseTimestamp(v)
	}
	if item.SentAt.IsZero() {
		item.SentAt = utils.ParseTimestamp(it["messageTimestamp"])
	}

	item.Raw, _ = json.Marshal(it)
	return item, true
}

// PickText extracts the text of a gateway message: plain conversation,
// extended text, media captions, then button and list replies.
func PickText(it map[string]any) string {
	m, ok := it["message"].(map[string]any)
	if !ok {
		m = it
	}
	if s, ok := m["conversation"].(string); ok && s != "" {
		return s
	}
	paths := [][2]string{
		{"extendedTextMessage", "text"},
		{"imageMessage", "caption"},
		{"videoMessage", "caption"},
		{"templateButtonReplyMessage", "selectedId"},
		{"buttonsResponseMessage", "selectedButtonId"},
		{"listResponseMessage", "title"},
	}
	for _, p := range paths {
		if inner, ok := m[p[0]].(map[string]any); ok {
			if s, ok := inner[p[1]].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

// ConversationIDFor derives the conversation id of a WhatsApp turn from its
// first message: messageId_unixMillis. Without both parts every such turn
// shares model.DefaultConversationID.
func ConversationIDFor(messageID string, sentAt time.Time) string {
	if messageID == "" || sentAt.IsZero() {
		return model.DefaultConversationID
	}
	return messageID + "_" + strconv.FormatInt(sentAt.UnixMilli(), 10)
}

// Group folds the genuine inbound messages of a delivery into one turn per
// contact, in arrival order. Own messages and empty bodies are dropped.
func Group(items []model.WebhookItem) []model.Turn {
	var turns []model.Turn
	index := map[string]int{}

	for _, it := range items {
		if it.FromMe || it.RemoteJID == "" || strings.TrimSpace(it.Body) == "" {
			continue
		}
		i, ok := index[it.RemoteJID]
		if !ok {
			i = len(turns)
			index[it.RemoteJID] = i
			turns = append(turns, model.Turn{
				ConversationID: ConversationIDFor(it.MessageID, it.SentAt),
				UserID:         it.RemoteJID,
			})
		}
		t := &turns[i]
		if t.PushName == "" {
			t.PushName = it.PushName
		}
		t.Messages = append(t.Messages, it)
	}

	for i := range turns {
		bodies := make([]string, len(turns[i].Messages))
		for j, m := range turns[i].Messages {
			bodies[j] = strings.TrimSpace(m.Body)
		}
		turns[i].Text = strings.Join(bodies, ". ")
	}
	return turns
}
