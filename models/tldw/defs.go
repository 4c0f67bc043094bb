package tldw

// Wire types of the tldw server API. The chat endpoint is OpenAI compatible.

type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
}

type ChatMessage struct {
	Role string `json:"role"`
	// Content is a string for text-only messages or []ContentPart otherwise.
	Content interface{} `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
	// Some deployments answer with a flat shape.
	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      *Delta  `json:"message,omitempty"`
	Delta        *Delta  `json:"delta,omitempty"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one SSE data payload of a streamed chat completion.
type StreamEvent struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type errorBody struct {
	Detail  interface{} `json:"detail"`
	Message string      `json:"message"`
	Error   interface{} `json:"error"`
}

// Model is an entry of the server's model list.
type Model struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Provider        string   `json:"provider"`
	Description     string   `json:"description,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	Vision          bool     `json:"vision,omitempty"`
	FunctionCalling bool     `json:"function_calling,omitempty"`
	ContextLength   int      `json:"context_length,omitempty"`
}

type RagSearchRequest struct {
	Query   string                 `json:"query"`
	TopK    int                    `json:"top_k,omitempty"`
	Filters map[string]interface{} `json:"filters,omitempty"`
}

// RagDocument is a normalised retrieval hit.
type RagDocument struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Score    float64           `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Note struct {
	ID       interface{}            `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Content  string                 `json:"content"`
	Keywords []string               `json:"keywords,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Prompt struct {
	ID           interface{} `json:"id,omitempty"`
	Name         string      `json:"name"`
	Content      string      `json:"content,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	UserPrompt   string      `json:"user_prompt,omitempty"`
	Keywords     []string    `json:"keywords,omitempty"`
}

type Transcription struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type EmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
