package models

import "strings"

// GenerateHistory converts prompt history into model messages. User entries
// carrying an image become text+image messages; empty entries are dropped.
func GenerateHistory(history ChatHistory) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, entry := range history {
		switch entry.Role {
		case RoleUser:
			if strings.TrimSpace(entry.Content) == "" && entry.Image == "" {
				continue
			}
			out = append(out, HumanMessage(entry.Content, entry.Image))
		case RoleAssistant:
			out = append(out, AIMessage(entry.Content))
		case RoleSystem:
			out = append(out, SystemMessage(entry.Content))
		}
	}
	return out
}

// FormatForRewrite renders messages as "Assistant: "/"Human: " lines for the
// standalone-question prompt.
func FormatForRewrite(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		prefix := "Human: "
		if m.IsBot {
			prefix = "Assistant: "
		}
		lines = append(lines, prefix+m.Message)
	}
	return strings.Join(lines, "\n")
}
