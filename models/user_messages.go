package models

import "time"

// Message is one rendered turn fragment. The bot message text is replaced
// repeatedly while a response streams in.
type Message struct {
	ID                 string          `json:"id,omitempty"`
	IsBot              bool            `json:"isBot"`
	Name               string          `json:"name"`
	Message            string          `json:"message"`
	Sources            []Source        `json:"sources"`
	Images             []string        `json:"images,omitempty"`
	ModelName          string          `json:"modelName,omitempty"`
	ModelImage         string          `json:"modelImage,omitempty"`
	ReasoningTimeTaken int64           `json:"reasoning_time_taken,omitempty"`
	GenerationInfo     *GenerationInfo `json:"generationInfo,omitempty"`
	Documents          []DocumentRef   `json:"documents,omitempty"`
	MessageType        string          `json:"messageType,omitempty"`
}

// HistoryEntry is the simplified prompt history record passed to the model.
type HistoryEntry struct {
	Role        string `json:"role"` // "user", "assistant", "system"
	Content     string `json:"content"`
	Image       string `json:"image,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

// ChatHistory is appended in pairs: user then assistant.
type ChatHistory []HistoryEntry

// DocumentRef describes a file or browser tab attached to a user message.
type DocumentRef struct {
	Type     string `json:"type"` // "file" or "tab"
	Filename string `json:"filename,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	TabID    int    `json:"tabId,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
}

// UploadedFile is a document attached to the session.
type UploadedFile struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Processed  bool      `json:"processed"`
}

// Ref returns the descriptor shown on the user message for this file.
func (f UploadedFile) Ref() DocumentRef {
	return DocumentRef{Type: "file", Filename: f.Filename, FileSize: f.Size}
}
