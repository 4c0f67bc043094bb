package models

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a model-facing message. Content holds either a single text
// part or text followed by image parts.
type ChatMessage struct {
	Role  string        `json:"role"`
	Parts []ContentPart `json:"parts"`
}

type ContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// SystemMessage builds a system prompt message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Parts: []ContentPart{{Type: "text", Text: content}}}
}

// HumanMessage builds a user message, attaching the image when it is non-empty.
func HumanMessage(text, image string) ChatMessage {
	msg := ChatMessage{Role: RoleUser, Parts: []ContentPart{{Type: "text", Text: text}}}
	if image != "" {
		msg.Parts = append(msg.Parts, ContentPart{Type: "image_url", ImageURL: image})
	}
	return msg
}

// AIMessage builds an assistant message.
func AIMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Parts: []ContentPart{{Type: "text", Text: content}}}
}

// Text concatenates the text parts of the message.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// Images returns the image URLs carried by the message.
func (m ChatMessage) Images() []string {
	var urls []string
	for _, p := range m.Parts {
		if p.Type == "image_url" && p.ImageURL != "" {
			urls = append(urls, p.ImageURL)
		}
	}
	return urls
}

// ModelSettings are the per-chat generation options.
type ModelSettings struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	// SystemPrompt temporarily overrides the selected prompt for this chat.
	SystemPrompt string `json:"system_prompt,omitempty"`
}
