package models

import (
	"context"
	"time"
)

// StreamChunk is one delta of a streamed model response.
type StreamChunk struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	// GenerationInfo is only set on the final chunk of a stream.
	GenerationInfo *GenerationInfo `json:"generation_info,omitempty"`
}

// GenerationInfo is the model metadata reported once a stream ends.
type GenerationInfo struct {
	Model            string        `json:"model,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalTokens      int           `json:"total_tokens,omitempty"`
	FinishReason     string        `json:"finish_reason,omitempty"`
	TotalDuration    time.Duration `json:"total_duration,omitempty"`
}

// ChatModel is a language model client. Stream follows the two-channel
// convention: the chunk channel closes when the response is complete and the
// error channel carries at most one error.
type ChatModel interface {
	Stream(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, <-chan error)
	Invoke(ctx context.Context, messages []ChatMessage) (string, error)
}

// RevealConfig controls how fast buffered text is revealed.
type RevealConfig struct {
	CharsPerFlush int           `json:"charsPerFlush" toml:"chars_per_flush"`
	FlushInterval time.Duration `json:"flushInterval" toml:"flush_interval"`
}

// StreamConfig is passed to the reveal engine once per call.
type StreamConfig struct {
	Cursor string
	Reveal RevealConfig
}
