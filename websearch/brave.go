package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// braveResponse keeps only the fields read from the Brave web search API.
type braveResponse struct {
	Query struct {
		Original string `json:"original"`
	} `json:"query"`
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
	News struct {
		Results []braveResult `json:"results"`
	} `json:"news"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age,omitempty"`
}

// Brave searches through the Brave Search API.
type Brave struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewBrave(apiKey string) *Brave {
	return &Brave{APIKey: apiKey, BaseURL: braveEndpoint, Client: http.DefaultClient}
}

func (b *Brave) Name() string { return "brave-api" }

func (b *Brave) Search(ctx context.Context, query string, n int) ([]Result, error) {
	if b.APIKey == "" {
		return nil, fmt.Errorf("brave search: api key is not set")
	}
	base := b.BaseURL
	if base == "" {
		base = braveEndpoint
	}

	params := url.Values{}
	params.Set("q", query)
	if n > 0 {
		params.Set("count", strconv.Itoa(n))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing JSON response: %w", err)
	}

	var results []Result
	for _, r := range append(parsed.Web.Results, parsed.News.Results...) {
		if n > 0 && len(results) >= n {
			break
		}
		results = append(results, Result{
			Title:   stripStrongTags(r.Title),
			URL:     r.URL,
			Content: stripStrongTags(r.Description),
		})
	}
	return results, nil
}

func stripStrongTags(s string) string {
	s = strings.ReplaceAll(s, "<strong>", "")
	return strings.ReplaceAll(s, "</strong>", "")
}
