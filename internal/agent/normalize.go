package agent

import "strings"

// replyFields is the ordered list of top level keys that may carry the reply.
var replyFields = []string{"reply", "text", "output_text", "content", "message"}

// NormalizeReply extracts the reply text from the heterogeneous shapes agent
// executors return: {reply}, {text}, {output_text}, {content}, {message},
// a raw chat completion with choices[0].message.content, or a bare string.
// Anything else yields "".
func NormalizeReply(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case []byte:
		return string(v)
	case map[string]any:
		return fromMap(v)
	case map[string]string:
		for _, field := range replyFields {
			if s := v[field]; s != "" {
				return s
			}
		}
		return ""
	case interface{ ReplyText() string }:
		return v.ReplyText()
	}
	return ""
}

func fromMap(m map[string]any) string {
	for _, field := range replyFields {
		if s, ok := m[field].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return choicesContent(m["choices"])
}

func choicesContent(v any) string {
	var first any
	switch choices := v.(type) {
	case []any:
		if len(choices) == 0 {
			return ""
		}
		first = choices[0]
	case []map[string]any:
		if len(choices) == 0 {
			return ""
		}
		first = choices[0]
	default:
		return ""
	}

	choice, ok := first.(map[string]any)
	if !ok {
		return ""
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}
