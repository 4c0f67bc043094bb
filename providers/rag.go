package providers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/models/tldw"
	"github.com/Desarso/tldwchat/settings"
)

// RagSearcher is the retrieval call of the tldw server.
type RagSearcher interface {
	RagSearch(ctx context.Context, req tldw.RagSearchRequest) ([]tldw.RagDocument, error)
}

// RAG answers from a knowledge base held by the tldw server.
type RAG struct {
	Client   RagSearcher
	Settings settings.Repository
	Logger   *zap.Logger
}

func NewRAG(client RagSearcher, repo settings.Repository, logger *zap.Logger) *RAG {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAG{Client: client, Settings: repo, Logger: logger.Named("rag")}
}

func (p *RAG) Name() string { return "rag" }

// QuestionPrompt prefers the knowledge base's follow-up prompt.
func (p *RAG) QuestionPrompt(ctx context.Context, req Request) (string, error) {
	if req.Knowledge != nil && strings.TrimSpace(req.Knowledge.FollowupPrompt) != "" {
		return req.Knowledge.FollowupPrompt, nil
	}
	_, question, err := settings.PromptForRag(ctx, p.Settings)
	return question, err
}

func (p *RAG) Build(ctx context.Context, req Request) (*Context, error) {
	systemPrompt, _, err := settings.PromptForRag(ctx, p.Settings)
	if err != nil {
		return nil, err
	}
	if req.Knowledge != nil && strings.TrimSpace(req.Knowledge.SystemPrompt) != "" {
		systemPrompt = req.Knowledge.SystemPrompt
	}
	topK, err := settings.Get(ctx, p.Settings, settings.NoOfRetrievedDocs)
	if err != nil {
		return nil, err
	}

	search := tldw.RagSearchRequest{Query: req.Query, TopK: topK}
	if id := req.KnowledgeID(); id != "" {
		search.Filters = map[string]interface{}{"knowledge_id": id}
	}
	docs, err := p.Client.RagSearch(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("rag search failed: %w", err)
	}
	p.Logger.Debug("rag search", zap.String("query", req.Query), zap.Int("hits", len(docs)))

	contents := make([]string, 0, len(docs))
	sources := make([]models.Source, 0, len(docs))
	for _, d := range docs {
		contents = append(contents, d.Content)
		sourceType := d.Metadata["type"]
		if sourceType == "" {
			sourceType = "unknown"
		}
		sources = append(sources, models.Source{
			Name:        d.Title(),
			Type:        sourceType,
			Mode:        "rag",
			PageContent: d.Content,
			Metadata:    d.Metadata,
		})
	}
	text := FormatDocs(contents)

	return &Context{
		Text:    text,
		Sources: sources,
		Human:   textHuman(FillRagPrompt(systemPrompt, text, req.Message)),
	}, nil
}
