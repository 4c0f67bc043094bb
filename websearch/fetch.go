package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const maxBodyBytes = 5 * 1024 * 1024

// Page is the readable content of a fetched document.
type Page struct {
	URL   string
	Title string
	Text  string
	IsPDF bool
}

// Fetcher downloads web pages and extracts their readable text.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewFetcher returns a fetcher with a bounded timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "tldwchat/1.0 (+page context)",
	}
}

// Fetch retrieves url and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,application/pdf")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	page := &Page{URL: url}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") {
		// PDF text extraction is not supported; the caller sees an empty page.
		page.IsPDF = true
		return page, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if strings.HasPrefix(contentType, "text/plain") {
		page.Text = strings.TrimSpace(string(body))
		return page, nil
	}

	title, text, err := ExtractContent(string(body))
	if err != nil {
		return nil, err
	}
	page.Title = title
	page.Text = text
	return page, nil
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRun = regexp.MustCompile(`\n\s*\n+`)
)

// ExtractContent returns the document title and its readable text, with
// scripts, styles and page chrome removed.
func ExtractContent(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, nav, footer, header, aside, iframe, svg, form").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td").Each(func(_ int, sel *goquery.Selection) {
		line := strings.TrimSpace(spaceRun.ReplaceAllString(sel.Text(), " "))
		if line == "" {
			return
		}
		b.WriteString(line)
		b.WriteString("\n")
	})

	text := b.String()
	if strings.TrimSpace(text) == "" {
		text = root.Text()
	}
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return title, strings.TrimSpace(text), nil
}
