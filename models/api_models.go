package models

import "time"

// ChatMessageResponse defines the structure for messages returned by the chat history API endpoint.
// It excludes internal DB fields like gorm.Model but includes necessary identifiers and timestamps.
type ChatMessageResponse struct {
	ID                 uint            `json:"id"`         // Message primary key ID
	CreatedAt          time.Time       `json:"created_at"` // Time the message was created
	HistoryID          string          `json:"history_id"`
	Sequence           int             `json:"sequence"`
	Name               string          `json:"name"`
	Role               string          `json:"role"` // "user", "assistant"
	Content            string          `json:"content"`
	Images             []string        `json:"images,omitempty"`
	Sources            []Source        `json:"sources,omitempty"`
	GenerationInfo     *GenerationInfo `json:"generation_info,omitempty"`
	ReasoningTimeTaken int64           `json:"reasoning_time_taken,omitempty"`
	MessageType        string          `json:"message_type,omitempty"`
}

// HistoryResponse is the listing view of a persisted conversation.
type HistoryResponse struct {
	HistoryID     string    `json:"history_id"`
	Title         string    `json:"title"`
	IsRAG         bool      `json:"is_rag"`
	MessageSource string    `json:"message_source"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Source is a retrieval provenance record attached to a bot message.
type Source struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`           // "url", "pdf", "txt", "unknown", ...
	Mode        string            `json:"mode,omitempty"` // "rag" for knowledge/document hits
	URL         string            `json:"url"`
	PageContent string            `json:"pageContent,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
