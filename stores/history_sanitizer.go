package stores

import (
	"github.com/Desarso/tldwchat/models"
)

// SanitizeHistory restores strict user/assistant pairing before a stored
// conversation is loaded into a session.
//
// Valid turn pattern: user -> assistant, repeated. The result:
// - never starts with an assistant message
// - drops a user message that is followed by another user message
// - drops an assistant message that does not answer a user message
// - keeps a trailing user message, whose reply may still be streaming
func SanitizeHistory(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}

	result := make([]Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch msg.Role {
		case models.RoleUser:
			if i+1 < len(msgs) && msgs[i+1].Role == models.RoleUser {
				continue
			}
			result = append(result, msg)
		case models.RoleAssistant:
			if len(result) == 0 || result[len(result)-1].Role != models.RoleUser {
				continue
			}
			result = append(result, msg)
		}
	}
	return result
}

// DetectCorruptedHistory checks if the history breaks user/assistant pairing.
// Returns a list of issues found (empty if history is clean).
func DetectCorruptedHistory(msgs []Message) []string {
	issues := []string{}
	if len(msgs) == 0 {
		return issues
	}

	if msgs[0].Role == models.RoleAssistant {
		issues = append(issues, "History starts with an assistant message")
	}
	for i := 1; i < len(msgs); i++ {
		prev, curr := msgs[i-1], msgs[i]
		if prev.Role == curr.Role {
			issues = append(issues, "Two consecutive "+curr.Role+" messages")
		}
	}
	for _, m := range msgs {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			issues = append(issues, "Unknown role: "+m.Role)
		}
	}
	return issues
}
