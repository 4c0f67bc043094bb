// Package providers assembles the prompt context of a chat turn. Each chat
// mode plugs one Provider into the shared streaming skeleton.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/settings"
)

// ErrNoEmbeddingModel is returned when document retrieval is on but no
// embedding model has been chosen.
var ErrNoEmbeddingModel = errors.New("no embedding model selected")

// Knowledge is a selected knowledge base. Its prompts, when set, replace the
// configured RAG prompts.
type Knowledge struct {
	ID             string `json:"id"`
	Title          string `json:"title,omitempty"`
	SystemPrompt   string `json:"systemPrompt,omitempty"`
	FollowupPrompt string `json:"followupPrompt,omitempty"`
}

// Request is the input of a provider.
type Request struct {
	// Query is the retrieval query, possibly rewritten into a standalone question.
	Query string
	// Message is the text the user typed.
	Message     string
	Image       string
	MessageType string
	Files       []models.UploadedFile
	Tabs        []models.DocumentRef
	Knowledge   *Knowledge
	WebSearch   bool

	SelectedPrompt settings.SystemPromptRef
	// PromptOverride is the temporary per-chat system prompt.
	PromptOverride string
}

// KnowledgeID returns the id of the selected knowledge base, if any.
func (r Request) KnowledgeID() string {
	if r.Knowledge == nil {
		return ""
	}
	return r.Knowledge.ID
}

// Context is what a provider contributes to the prompt.
type Context struct {
	Text    string
	Sources []models.Source
	// Human replaces the default human message when set.
	Human *models.ChatMessage
	// SystemPrompt is unshifted before the history when non-empty.
	SystemPrompt string
	// Prompt records which saved prompt produced SystemPrompt.
	Prompt settings.SystemPromptRef
}

// Provider builds the context of one turn.
type Provider interface {
	Name() string
	Build(ctx context.Context, req Request) (*Context, error)
}

// QuestionPrompter is implemented by providers whose query is rewritten into
// a standalone question on multi-turn chats. An empty prompt skips the rewrite.
type QuestionPrompter interface {
	QuestionPrompt(ctx context.Context, req Request) (string, error)
}

// FormatDocs de-duplicates documents by content and wraps each in a <doc>
// element.
func FormatDocs(contents []string) string {
	seen := make(map[string]struct{}, len(contents))
	out := make([]string, 0, len(contents))
	for _, c := range contents {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, fmt.Sprintf("<doc id='%d'>%s</doc>", len(out), c))
	}
	return strings.Join(out, "\n")
}

// FillRagPrompt substitutes the retrieved context and the user's question.
func FillRagPrompt(template, contextText, question string) string {
	out := strings.Replace(template, "{context}", contextText, 1)
	return strings.Replace(out, "{question}", question, 1)
}

func humanFor(req Request) *models.ChatMessage {
	msg := models.HumanMessage(req.Message, req.Image)
	return &msg
}

func textHuman(text string) *models.ChatMessage {
	msg := models.HumanMessage(text, "")
	return &msg
}
