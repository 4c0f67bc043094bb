package providers

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/settings"
)

const noDocumentsText = "No documents uploaded for this conversation."

// Embedder hands out chromem embedding funcs for a model.
type Embedder interface {
	EmbeddingFunc(model string) chromem.EmbeddingFunc
}

// Document answers from the files uploaded to the conversation. With file
// retrieval on, the files are chunked and searched by similarity; otherwise
// they are inlined up to maxContextSize.
type Document struct {
	Embedder Embedder
	Settings settings.Repository
	// Web, when set, adds search results for turns with web search enabled.
	Web    *Web
	Logger *zap.Logger
}

func NewDocument(embedder Embedder, repo settings.Repository, web *Web, logger *zap.Logger) *Document {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Document{Embedder: embedder, Settings: repo, Web: web, Logger: logger.Named("document")}
}

func (p *Document) Name() string { return "document" }

func (p *Document) QuestionPrompt(ctx context.Context, _ Request) (string, error) {
	_, question, err := settings.PromptForRag(ctx, p.Settings)
	return question, err
}

func (p *Document) Build(ctx context.Context, req Request) (*Context, error) {
	systemPrompt, _, err := settings.PromptForRag(ctx, p.Settings)
	if err != nil {
		return nil, err
	}
	snap, err := settings.Load(ctx, p.Settings)
	if err != nil {
		return nil, err
	}

	var (
		text    strings.Builder
		sources []models.Source
	)
	if req.WebSearch && p.Web != nil {
		web, err := p.Web.Build(ctx, req)
		if err != nil {
			return nil, err
		}
		if web.Text != "" {
			text.WriteString(web.Text)
			text.WriteString("\n")
		}
		sources = append(sources, web.Sources...)
	}

	switch {
	case len(req.Files) == 0:
		text.WriteString(noDocumentsText)
	case snap.FileRetrievalEnabled:
		if snap.DefaultEmbeddingModel == "" {
			return nil, ErrNoEmbeddingModel
		}
		contents, hits, err := p.retrieve(ctx, req, snap)
		if err != nil {
			return nil, err
		}
		text.WriteString(FormatDocs(contents))
		sources = append(sources, hits...)
	default:
		text.WriteString(inlineFiles(req.Files, snap.MaxContextSize))
		for _, f := range req.Files {
			sources = append(sources, models.Source{
				Name:        f.Filename,
				Type:        f.Type,
				Mode:        "rag",
				PageContent: truncateRunes(f.Content, 200) + "...",
				Metadata:    map[string]string{"source": f.Filename, "type": f.Type, "mode": "rag"},
			})
		}
	}

	assembled := text.String()
	return &Context{
		Text:    assembled,
		Sources: sources,
		Human:   textHuman(FillRagPrompt(systemPrompt, assembled, req.Message)),
	}, nil
}

// retrieve chunks the files into an in-memory collection and returns the
// chunks nearest to the query.
func (p *Document) retrieve(ctx context.Context, req Request, snap settings.Snapshot) ([]string, []models.Source, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(snap.ChunkSize),
		textsplitter.WithChunkOverlap(snap.ChunkOverlap),
	)

	var docs []chromem.Document
	for _, f := range req.Files {
		chunks, err := splitter.SplitText(f.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to split %s: %w", f.Filename, err)
		}
		for i, chunk := range chunks {
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			docs = append(docs, chromem.Document{
				ID:      f.ID + "#" + strconv.Itoa(i),
				Content: chunk,
				Metadata: map[string]string{
					"source": f.Filename,
					"type":   f.Type,
					"size":   strconv.FormatInt(f.Size, 10),
				},
			})
		}
	}
	if len(docs) == 0 {
		return nil, nil, nil
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("session-files", nil, p.Embedder.EmbeddingFunc(snap.DefaultEmbeddingModel))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, nil, fmt.Errorf("failed to embed documents: %w", err)
	}

	n := snap.NoOfRetrievedDocs
	if n > collection.Count() {
		n = collection.Count()
	}
	if n <= 0 {
		return nil, nil, nil
	}
	results, err := collection.Query(ctx, req.Query, n, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("similarity search failed: %w", err)
	}
	p.Logger.Debug("document search", zap.Int("chunks", len(docs)), zap.Int("hits", len(results)))

	contents := make([]string, 0, len(results))
	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
		name := r.Metadata["source"]
		if name == "" {
			name = "untitled"
		}
		sourceType := r.Metadata["type"]
		if sourceType == "" {
			sourceType = "unknown"
		}
		sources = append(sources, models.Source{
			Name:        name,
			Type:        sourceType,
			Mode:        "rag",
			PageContent: r.Content,
			Metadata:    r.Metadata,
		})
	}
	return contents, sources, nil
}

func inlineFiles(files []models.UploadedFile, maxContextSize int) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "File: %s\nContent: %s\n---\n", f.Filename, f.Content)
	}
	return truncateRunes(b.String(), maxContextSize)
}

func truncateRunes(s string, n int) string {
	if n < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
