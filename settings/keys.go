package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/streaming"
)

// Key names a setting and the value used while it is unset.
type Key[T any] struct {
	Name    string
	Default T
}

// Get decodes the stored value of key, or returns its default.
func Get[T any](ctx context.Context, repo Repository, key Key[T]) (T, error) {
	raw, ok, err := repo.Get(ctx, key.Name)
	if err != nil || !ok {
		return key.Default, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return key.Default, fmt.Errorf("failed to decode setting %s: %w", key.Name, err)
	}
	return v, nil
}

// Set encodes value and stores it under key.
func Set[T any](ctx context.Context, repo Repository, key Key[T], value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key.Name, err)
	}
	return repo.Set(ctx, key.Name, raw)
}

// Watch subscribes to typed changes of key. Values that fail to decode are
// reported as the default.
func Watch[T any](repo Repository, key Key[T], fn func(T)) (unsubscribe func()) {
	return repo.Subscribe(key.Name, func(raw []byte) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			v = key.Default
		}
		fn(v)
	})
}

// SystemPromptRef identifies a saved prompt, or carries its text directly.
type SystemPromptRef struct {
	PromptID      string `json:"prompt_id,omitempty"`
	PromptContent string `json:"prompt_content,omitempty"`
}

// IsZero reports whether neither an id nor content is set.
func (r SystemPromptRef) IsZero() bool {
	return r.PromptID == "" && r.PromptContent == ""
}

var (
	SelectedModel           = Key[string]{Name: "selectedModel"}
	SelectedSystemPrompt    = Key[SystemPromptRef]{Name: "selectedSystemPrompt"}
	MenuDensity             = Key[string]{Name: "menuDensity", Default: "comfortable"}
	DefaultEmbeddingModel   = Key[string]{Name: "defaultEmbeddingModel"}
	NoOfRetrievedDocs       = Key[int]{Name: "noOfRetrievedDocs", Default: 4}
	MaxContextSize          = Key[int]{Name: "maxContextSize", Default: 7028}
	ChunkSize               = Key[int]{Name: "chunkSize", Default: 1000}
	ChunkOverlap            = Key[int]{Name: "chunkOverlap", Default: 200}
	FileRetrievalEnabled    = Key[bool]{Name: "fileRetrievalEnabled"}
	TitleGenEnabled         = Key[bool]{Name: "titleGenEnabled"}
	StreamReveal            = Key[models.RevealConfig]{Name: "streamReveal", Default: streaming.DefaultReveal}
	WebSearchProvider       = Key[string]{Name: "webSearchProvider", Default: "duckduckgo"}
	TotalSearchResults      = Key[int]{Name: "totalSearchResults", Default: 2}
	RagPrompt               = Key[string]{Name: "ragPrompt"}
	RagQuestionPrompt       = Key[string]{Name: "ragQuestionPrompt"}
	WebSearchPrompt         = Key[string]{Name: "webSearchPrompt"}
	WebSearchFollowUpPrompt = Key[string]{Name: "webSearchFollowUpPrompt"}
	SystemPromptForNonRag   = Key[string]{Name: "systemPromptForNonRag"}
)

// LastUsedChatModel is the model remembered for one conversation.
func LastUsedChatModel(historyID string) Key[string] {
	return Key[string]{Name: "lastUsedChatModel:" + historyID}
}

// LastUsedChatSystemPrompt is the system prompt remembered for one conversation.
func LastUsedChatSystemPrompt(historyID string) Key[SystemPromptRef] {
	return Key[SystemPromptRef]{Name: "lastUsedChatSystemPrompt:" + historyID}
}

// Snapshot is the subset of settings one chat turn reads.
type Snapshot struct {
	SelectedModel         string
	SelectedSystemPrompt  SystemPromptRef
	DefaultEmbeddingModel string
	NoOfRetrievedDocs     int
	MaxContextSize        int
	ChunkSize             int
	ChunkOverlap          int
	FileRetrievalEnabled  bool
	TitleGenEnabled       bool
	Reveal                models.RevealConfig
	WebSearchProvider     string
	TotalSearchResults    int
	SystemPromptForNonRag string
}

// Load reads a Snapshot, falling back to defaults key by key.
func Load(ctx context.Context, repo Repository) (Snapshot, error) {
	var (
		s    Snapshot
		errs []error
	)
	read := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	s.SelectedModel, err = Get(ctx, repo, SelectedModel)
	read(err)
	s.SelectedSystemPrompt, err = Get(ctx, repo, SelectedSystemPrompt)
	read(err)
	s.DefaultEmbeddingModel, err = Get(ctx, repo, DefaultEmbeddingModel)
	read(err)
	s.NoOfRetrievedDocs, err = Get(ctx, repo, NoOfRetrievedDocs)
	read(err)
	s.MaxContextSize, err = Get(ctx, repo, MaxContextSize)
	read(err)
	s.ChunkSize, err = Get(ctx, repo, ChunkSize)
	read(err)
	s.ChunkOverlap, err = Get(ctx, repo, ChunkOverlap)
	read(err)
	s.FileRetrievalEnabled, err = Get(ctx, repo, FileRetrievalEnabled)
	read(err)
	s.TitleGenEnabled, err = Get(ctx, repo, TitleGenEnabled)
	read(err)
	s.Reveal, err = Get(ctx, repo, StreamReveal)
	read(err)
	s.WebSearchProvider, err = Get(ctx, repo, WebSearchProvider)
	read(err)
	s.TotalSearchResults, err = Get(ctx, repo, TotalSearchResults)
	read(err)
	s.SystemPromptForNonRag, err = Get(ctx, repo, SystemPromptForNonRag)
	read(err)

	if len(errs) > 0 {
		return s, fmt.Errorf("failed to load settings: %w", errs[0])
	}
	return s, nil
}
