package providers

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/websearch"
)

// PageFetcher loads a page and extracts its readable text.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*websearch.Page, error)
}

// Tab answers from the pages of the selected browser tabs.
type Tab struct {
	Fetcher  PageFetcher
	Settings settings.Repository
	// Concurrency bounds parallel fetches; zero means 4.
	Concurrency int
	Logger      *zap.Logger
}

func NewTab(fetcher PageFetcher, repo settings.Repository, logger *zap.Logger) *Tab {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tab{Fetcher: fetcher, Settings: repo, Logger: logger.Named("tab")}
}

func (p *Tab) Name() string { return "tab" }

func (p *Tab) QuestionPrompt(ctx context.Context, _ Request) (string, error) {
	_, question, err := settings.PromptForRag(ctx, p.Settings)
	return question, err
}

func (p *Tab) Build(ctx context.Context, req Request) (*Context, error) {
	systemPrompt, _, err := settings.PromptForRag(ctx, p.Settings)
	if err != nil {
		return nil, err
	}
	maxContextSize, err := settings.Get(ctx, p.Settings, settings.MaxContextSize)
	if err != nil {
		return nil, err
	}

	text, err := p.tabContents(ctx, req.Tabs, maxContextSize)
	if err != nil {
		return nil, err
	}

	human := textHuman(FillRagPrompt(systemPrompt, text, req.Message))
	if req.Image != "" {
		human = humanFor(req)
	}
	return &Context{Text: text, Human: human}, nil
}

// tabContents fetches every tab concurrently and then lays the pages out in
// tab order within the context budget. Tabs that fail to load are skipped.
func (p *Tab) tabContents(ctx context.Context, tabs []models.DocumentRef, maxContextSize int) (string, error) {
	if len(tabs) == 0 {
		return "", nil
	}
	pages := make([]*websearch.Page, len(tabs))

	limit := p.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, tab := range tabs {
		g.Go(func() error {
			page, err := p.Fetcher.Fetch(ctx, tab.URL)
			if err != nil {
				p.Logger.Warn("failed to load tab", zap.String("url", tab.URL), zap.Error(err))
				return nil
			}
			pages[i] = page
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	perDocument := maxContextSize / len(tabs)
	remaining := maxContextSize
	var result []string
	for i, tab := range tabs {
		if remaining <= 0 {
			break
		}
		page := pages[i]
		if page == nil {
			continue
		}
		title := tab.Title
		if title == "" {
			title = page.Title
		}
		header := documentHeader(title, tab.URL)
		headerLen := len([]rune(header))
		available := min(perDocument-headerLen, remaining-headerLen)
		if available <= 0 {
			continue
		}
		content := header + truncateAtWord(page.Text, available)
		result = append(result, content)
		remaining -= len([]rune(content))
	}
	return strings.Join(result, "\n\n"), nil
}

func documentHeader(title, rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return "# " + title + " (" + host + ") \n\n"
}

// truncateAtWord cuts content to maxLen runes, backing up to the last space
// when that space lies past 80% of the limit.
func truncateAtWord(content string, maxLen int) string {
	r := []rune(content)
	if len(r) <= maxLen {
		return content
	}
	truncated := string(r[:maxLen])
	if idx := strings.LastIndex(truncated, " "); idx >= 0 {
		if runeIdx := len([]rune(truncated[:idx])); float64(runeIdx) > float64(maxLen)*0.8 {
			return truncated[:idx] + "..."
		}
	}
	return truncated + "..."
}
