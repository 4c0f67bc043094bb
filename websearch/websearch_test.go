package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	results []Result
	query   string
}

func (s *stubSearcher) Name() string { return "stub" }

func (s *stubSearcher) Search(_ context.Context, query string, n int) ([]Result, error) {
	s.query = query
	if n < len(s.results) {
		return s.results[:n], nil
	}
	return s.results, nil
}

func TestIsQueryHaveWebsite(t *testing.T) {
	assert.True(t, IsQueryHaveWebsite("summarize https://example.com/post please"))
	assert.False(t, IsQueryHaveWebsite("what is example.com"))
	assert.Equal(t, []string{"https://a.dev/x", "http://b.io"}, ExtractURLs("see https://a.dev/x, and http://b.io."))
}

func TestGetSystemPromptForWeb_Search(t *testing.T) {
	s := &stubSearcher{results: []Result{
		{Title: "One", URL: "https://one.test", Content: "first"},
		{Title: "Two", URL: "https://two.test", Content: "second"},
	}}
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	prompt, sources, err := GetSystemPromptForWeb(context.Background(), "golang news", PromptOptions{
		Searcher:     s,
		Template:     "Now: {current_date_time}\n{search_results}",
		TotalResults: 2,
		Now:          func() time.Time { return now },
	})
	require.NoError(t, err)

	assert.Equal(t, "golang news", s.query)
	assert.Equal(t, "Now: Friday, March 1, 2024 9:30 AM UTC\n"+
		`<result source="https://one.test" id="0">first</result>`+"\n"+
		`<result source="https://two.test" id="1">second</result>`, prompt)
	require.Len(t, sources, 2)
	assert.Equal(t, "url", sources[0].Type)
	assert.Equal(t, "https://two.test", sources[1].URL)
}

func TestGetSystemPromptForWeb_FetchesNamedWebsite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Post</title></head><body><nav>menu</nav><p>Body text</p></body></html>`))
	}))
	defer srv.Close()

	prompt, sources, err := GetSystemPromptForWeb(context.Background(), "summarize "+srv.URL+"/post", PromptOptions{
		Searcher: &stubSearcher{},
		Fetcher:  NewFetcher(time.Second),
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Body text")
	assert.NotContains(t, prompt, "menu")
	require.Len(t, sources, 1)
	assert.Equal(t, "Post", sources[0].Name)
}

func TestGetSystemPromptForWeb_NoSearcher(t *testing.T) {
	_, _, err := GetSystemPromptForWeb(context.Background(), "anything", PromptOptions{})
	assert.Error(t, err)
}

func TestExtractContent(t *testing.T) {
	html := `<html><head><title> Hello </title><style>p{}</style></head>
<body><header>site</header><article><h1>Heading</h1><p>One   two</p><script>x()</script><li>item</li></article><footer>f</footer></body></html>`
	title, text, err := ExtractContent(html)
	require.NoError(t, err)
	assert.Equal(t, "Hello", title)
	assert.Equal(t, "Heading\nOne two\nitem", text)
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "go generics", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"<strong>Go</strong> generics","url":"https://go.dev","description":"Type <strong>params</strong>"},
			{"title":"Other","url":"https://other.dev","description":"x"}]}}`))
	}))
	defer srv.Close()

	b := &Brave{APIKey: "secret", BaseURL: srv.URL, Client: srv.Client()}
	results, err := b.Search(context.Background(), "go generics", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Result{Title: "Go generics", URL: "https://go.dev", Content: "Type params"}, results[0])
}

func TestBraveSearch_RequiresKey(t *testing.T) {
	_, err := (&Brave{}).Search(context.Background(), "q", 1)
	assert.Error(t, err)
}

func TestDuckDuckGoSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tldw", r.PostForm.Get("q"))
		_, _ = w.Write([]byte(`<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Ftldw.dev%2F">tldw</a>
<a class="result__snippet">too long; didn't watch</a></div>
<div class="result"><a class="result__a" href="https://second.dev">second</a></div>`))
	}))
	defer srv.Close()

	d := &DuckDuckGo{BaseURL: srv.URL, Client: srv.Client()}
	results, err := d.Search(context.Background(), "tldw", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://tldw.dev/", results[0].URL)
	assert.Equal(t, "too long; didn't watch", results[0].Content)
	assert.Equal(t, "https://second.dev", results[1].URL)
}
