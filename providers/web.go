package providers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/websearch"
)

// Web grounds the answer in search results, or in the pages the query links.
type Web struct {
	Searchers []websearch.Searcher
	Fetcher   *websearch.Fetcher
	Settings  settings.Repository
	Now       func() time.Time
	Logger    *zap.Logger
}

func NewWeb(repo settings.Repository, fetcher *websearch.Fetcher, logger *zap.Logger, searchers ...websearch.Searcher) *Web {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Web{Searchers: searchers, Fetcher: fetcher, Settings: repo, Logger: logger.Named("web")}
}

func (p *Web) Name() string { return "web" }

// QuestionPrompt is empty for queries that already name a website.
func (p *Web) QuestionPrompt(ctx context.Context, req Request) (string, error) {
	if websearch.IsQueryHaveWebsite(req.Query) {
		return "", nil
	}
	_, followUp, err := settings.WebSearchPrompts(ctx, p.Settings)
	return followUp, err
}

// searcher returns the backend named by the webSearchProvider setting, or
// the first one registered.
func (p *Web) searcher(ctx context.Context) websearch.Searcher {
	if len(p.Searchers) == 0 {
		return nil
	}
	name, err := settings.Get(ctx, p.Settings, settings.WebSearchProvider)
	if err != nil {
		p.Logger.Warn("failed to read search provider", zap.Error(err))
	}
	for _, s := range p.Searchers {
		if s.Name() == name {
			return s
		}
	}
	return p.Searchers[0]
}

func (p *Web) Build(ctx context.Context, req Request) (*Context, error) {
	out := &Context{Human: humanFor(req)}

	template, _, err := settings.WebSearchPrompts(ctx, p.Settings)
	if err != nil {
		return nil, err
	}
	total, err := settings.Get(ctx, p.Settings, settings.TotalSearchResults)
	if err != nil {
		return nil, err
	}
	maxChars, err := settings.Get(ctx, p.Settings, settings.MaxContextSize)
	if err != nil {
		return nil, err
	}

	prompt, sources, err := websearch.GetSystemPromptForWeb(ctx, req.Query, websearch.PromptOptions{
		Searcher:     p.searcher(ctx),
		Fetcher:      p.Fetcher,
		Template:     template,
		TotalResults: total,
		MaxPageChars: maxChars,
		Now:          p.Now,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.Logger.Warn("web search failed", zap.String("query", req.Query), zap.Error(err))
		return out, nil
	}

	out.Text = prompt
	out.SystemPrompt = prompt
	out.Sources = sources
	return out, nil
}
