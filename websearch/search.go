// Package websearch finds and fetches web content used as chat context.
package websearch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Desarso/tldwchat/models"
)

// Result is a single search hit. Content is the snippet or, after a fetch,
// the extracted page text.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs a web search.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, n int) ([]Result, error)
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// IsQueryHaveWebsite reports whether the query references a URL directly.
func IsQueryHaveWebsite(query string) bool {
	return urlPattern.MatchString(query)
}

// ExtractURLs returns the URLs mentioned in the query, in order.
func ExtractURLs(query string) []string {
	found := urlPattern.FindAllString(query, -1)
	for i, u := range found {
		found[i] = strings.TrimRight(u, ".,;:!?)")
	}
	return found
}

// PromptOptions configures GetSystemPromptForWeb.
type PromptOptions struct {
	Searcher Searcher
	Fetcher  *Fetcher
	// Template contains {current_date_time} and {search_results}.
	Template     string
	TotalResults int
	// MaxPageChars bounds the text kept from each fetched page.
	MaxPageChars int
	Now          func() time.Time
}

// GetSystemPromptForWeb searches (or, for queries naming a website, fetches)
// and renders the results into the web search prompt.
func GetSystemPromptForWeb(ctx context.Context, query string, opts PromptOptions) (string, []models.Source, error) {
	if opts.TotalResults <= 0 {
		opts.TotalResults = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var (
		results []Result
		err     error
	)
	if urls := ExtractURLs(query); len(urls) > 0 && opts.Fetcher != nil {
		results, err = fetchAll(ctx, opts.Fetcher, urls, opts.MaxPageChars)
	} else {
		if opts.Searcher == nil {
			return "", nil, fmt.Errorf("no web search provider configured")
		}
		results, err = opts.Searcher.Search(ctx, query, opts.TotalResults)
	}
	if err != nil {
		return "", nil, err
	}

	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, models.Source{Name: r.Title, URL: r.URL, Type: "url"})
	}

	template := opts.Template
	if template == "" {
		template = "{search_results}"
	}
	prompt := strings.ReplaceAll(template, "{current_date_time}", opts.Now().Format("Monday, January 2, 2006 3:04 PM MST"))
	prompt = strings.ReplaceAll(prompt, "{search_results}", FormatResults(results))
	return prompt, sources, nil
}

// FormatResults renders results as <result> elements.
func FormatResults(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<result source=\"%s\" id=\"%d\">%s</result>", r.URL, i, r.Content)
	}
	return b.String()
}

func fetchAll(ctx context.Context, f *Fetcher, urls []string, maxChars int) ([]Result, error) {
	var (
		results []Result
		lastErr error
	)
	for _, u := range urls {
		page, err := f.Fetch(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		content := page.Text
		if maxChars > 0 && len(content) > maxChars {
			content = content[:maxChars]
		}
		results = append(results, Result{Title: page.Title, URL: u, Content: content})
	}
	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}
