package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/providers"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/stores"
)

type fakeModel struct {
	mu      sync.Mutex
	chunks  []string
	block   bool
	answer  string
	streams int
}

func (m *fakeModel) Stream(ctx context.Context, _ []models.ChatMessage) (<-chan models.StreamChunk, <-chan error) {
	m.mu.Lock()
	m.streams++
	chunks := append([]string(nil), m.chunks...)
	block := m.block
	m.mu.Unlock()

	out := make(chan models.StreamChunk)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, c := range chunks {
			select {
			case out <- models.StreamChunk{Content: c}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if block {
			<-ctx.Done()
			errc <- ctx.Err()
		}
	}()
	return out, errc
}

func (m *fakeModel) Invoke(context.Context, []models.ChatMessage) (string, error) {
	return m.answer, nil
}

func (m *fakeModel) setChunks(chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
}

type namedProvider struct {
	name string
	mu   *sync.Mutex
	used *[]string
}

func (p namedProvider) Name() string { return p.name }

func (p namedProvider) Build(context.Context, providers.Request) (*providers.Context, error) {
	p.mu.Lock()
	*p.used = append(*p.used, p.name)
	p.mu.Unlock()
	return &providers.Context{SystemPrompt: "system for " + p.name}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *recordingNotifier) Error(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

type harness struct {
	session  *ChatSession
	store    stores.Store
	settings settings.Repository
	model    *fakeModel
	notifier *recordingNotifier

	mu   sync.Mutex
	used []string
}

func (h *harness) usedProviders() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.used...)
}

func newHarness(t *testing.T, selectedModel string) *harness {
	t.Helper()
	store, err := stores.NewStore(stores.NewStoreConfig("sqlite", filepath.Join(t.TempDir(), "chat.sqlite")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo := settings.NewStoreRepository(store)
	ctx := context.Background()
	require.NoError(t, settings.Set(ctx, repo, settings.StreamReveal, models.RevealConfig{CharsPerFlush: 1000, FlushInterval: time.Millisecond}))
	if selectedModel != "" {
		require.NoError(t, settings.Set(ctx, repo, settings.SelectedModel, selectedModel))
	}

	h := &harness{
		store:    store,
		settings: repo,
		model:    &fakeModel{chunks: []string{"Hello", " world"}},
		notifier: &recordingNotifier{},
	}
	provider := func(name string) providers.Provider {
		return namedProvider{name: name, mu: &h.mu, used: &h.used}
	}
	h.session = NewChatSession(Deps{
		Store:    store,
		Settings: repo,
		Models: ModelResolverFunc(func(_ context.Context, name string, _ models.ModelSettings) (models.ChatModel, error) {
			if name == "missing" {
				return nil, errors.New("unknown model")
			}
			return h.model, nil
		}),
		Providers: Providers{
			Normal:   provider("normal"),
			RAG:      provider("rag"),
			Document: provider("document"),
			Search:   provider("search"),
			Tab:      provider("tab"),
			Vision:   provider("vision"),
			Preset:   provider("preset"),
		},
		Notifier: h.notifier,
	})
	t.Cleanup(h.session.Close)
	return h
}

func TestSubmit_RequiresModel(t *testing.T) {
	h := newHarness(t, "")

	err := h.session.Submit(context.Background(), SubmitRequest{Message: "hi"})
	assert.ErrorIs(t, err, ErrNoModelSelected)
	require.Len(t, h.notifier.errs, 1)
	assert.ErrorIs(t, h.notifier.errs[0], ErrNoModelSelected)
	assert.Empty(t, h.session.State().Messages)
}

func TestSubmit_PersistsNewConversation(t *testing.T) {
	h := newHarness(t, "llama3")
	ctx := context.Background()

	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "hi"}))

	state := h.session.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "You", state.Messages[0].Name)
	assert.Equal(t, "Hello world", state.Messages[1].Message)
	assert.False(t, state.IsProcessing)
	assert.False(t, state.Streaming)
	require.NotEmpty(t, state.HistoryID)
	assert.Equal(t, models.ChatHistory{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "Hello world"},
	}, state.History)

	h1, err := h.store.GetHistory(state.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "hi", h1.Title, "title generation is off by default")
	assert.Equal(t, "web-ui", h1.MessageSource)

	rows, err := h.store.FetchMessages(state.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "hi", rows[0].Content)
	assert.Equal(t, "Hello world", rows[1].Content)
	assert.Equal(t, state.Messages[1].ID, rows[1].MessageID)

	lastModel, err := settings.Get(ctx, h.settings, settings.LastUsedChatModel(state.HistoryID))
	require.NoError(t, err)
	assert.Equal(t, "llama3", lastModel)

	stats, err := h.store.GetTurnStats(state.HistoryID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "success", stats[0].Status)

	// A follow-up lands in the same conversation.
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "again"}))
	assert.Equal(t, state.HistoryID, h.session.HistoryID())
	rows, err = h.store.FetchMessages(state.HistoryID, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestSubmit_ModeSelection(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *ChatSession)
		req     SubmitRequest
		want    string
	}{
		{name: "normal", want: "normal"},
		{name: "web search", prepare: func(s *ChatSession) { s.SetWebSearch(true) }, want: "search"},
		{
			name: "knowledge beats web search",
			prepare: func(s *ChatSession) {
				s.SetWebSearch(true)
				s.SetSelectedKnowledge(&providers.Knowledge{ID: "kb"})
			},
			want: "rag",
		},
		{
			name:    "tabs beat knowledge",
			prepare: func(s *ChatSession) { s.SetSelectedKnowledge(&providers.Knowledge{ID: "kb"}) },
			req:     SubmitRequest{Docs: []models.DocumentRef{{Type: "tab", URL: "https://example.com"}}},
			want:    "tab",
		},
		{
			name: "files beat tabs",
			prepare: func(s *ChatSession) {
				s.AddFiles(models.UploadedFile{ID: "f", Filename: "a.txt", Content: "alpha"})
			},
			req:  SubmitRequest{Docs: []models.DocumentRef{{Type: "tab"}}},
			want: "document",
		},
		{name: "vision", req: SubmitRequest{Vision: true}, want: "vision"},
		{name: "preset", req: SubmitRequest{MessageType: "summary"}, want: "preset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "m")
			if tt.prepare != nil {
				tt.prepare(h.session)
			}
			req := tt.req
			req.Message = "question"
			require.NoError(t, h.session.Submit(context.Background(), req))
			assert.Equal(t, []string{tt.want}, h.usedProviders())
		})
	}
}

func TestSubmit_DocumentFilesAreAttached(t *testing.T) {
	h := newHarness(t, "m")
	h.session.AddFiles(models.UploadedFile{ID: "f1", Filename: "a.txt", Content: "alpha", Size: 5})

	require.NoError(t, h.session.Submit(context.Background(), SubmitRequest{Message: "summarize"}))

	state := h.session.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, []models.DocumentRef{{Type: "file", Filename: "a.txt", FileSize: 5}}, state.Messages[0].Documents)

	files, err := h.store.GetSessionFiles(state.HistoryID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Filename)
}

func TestSubmit_ResolveFailureIsNotified(t *testing.T) {
	h := newHarness(t, "missing")

	err := h.session.Submit(context.Background(), SubmitRequest{Message: "hi"})
	require.Error(t, err)
	assert.Len(t, h.notifier.errs, 1)
	state := h.session.State()
	assert.False(t, state.IsProcessing)
	assert.False(t, state.Streaming)
}

func TestStop_SavesPartialAnswer(t *testing.T) {
	h := newHarness(t, "m")
	h.model.block = true
	h.model.setChunks("partial")

	done := make(chan error, 1)
	go func() { done <- h.session.Submit(context.Background(), SubmitRequest{Message: "long question"}) }()

	require.Eventually(t, func() bool {
		msgs := h.session.State().Messages
		return len(msgs) == 2 && msgs[1].Message != "▋" && msgs[1].Message != ""
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.session.Submit(context.Background(), SubmitRequest{Message: "second"}), ErrTurnInProgress)

	h.session.Stop()
	require.NoError(t, <-done, "an aborted turn is absorbed")

	state := h.session.State()
	require.NotEmpty(t, state.HistoryID)
	assert.Equal(t, models.ChatHistory{
		{Role: models.RoleUser, Content: "long question"},
		{Role: models.RoleAssistant, Content: "partial"},
	}, state.History)

	rows, err := h.store.FetchMessages(state.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "partial", rows[1].Content)

	stats, err := h.store.GetTurnStats(state.HistoryID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "aborted", stats[0].Status)
	assert.Empty(t, h.notifier.errs)
}

func TestRegenerate_ReplacesLastAnswer(t *testing.T) {
	h := newHarness(t, "m")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "hi"}))
	historyID := h.session.HistoryID()

	h.model.setChunks("Second", " take")
	require.NoError(t, h.session.Regenerate(ctx))

	state := h.session.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "hi", state.Messages[0].Message)
	assert.Equal(t, "Second take", state.Messages[1].Message)
	assert.Equal(t, models.ChatHistory{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "Second take"},
	}, state.History)

	rows, err := h.store.FetchMessages(historyID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "hi", rows[0].Content)
	assert.Equal(t, "Second take", rows[1].Content)
}

func TestRegenerate_NothingToRegenerate(t *testing.T) {
	h := newHarness(t, "m")
	assert.ErrorIs(t, h.session.Regenerate(context.Background()), ErrNothingToRegenerate)
}

func TestContinue_ExtendsStoredAnswer(t *testing.T) {
	h := newHarness(t, "m")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "hi"}))
	historyID := h.session.HistoryID()

	h.model.setChunks(" and more")
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{IsContinue: true}))

	state := h.session.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "Hello world and more", state.Messages[1].Message)
	assert.Equal(t, "Hello world and more", state.History[1].Content)

	rows, err := h.store.FetchMessages(historyID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Hello world and more", rows[1].Content)
}

func TestTemporaryChat_IsNotPersisted(t *testing.T) {
	h := newHarness(t, "m")
	h.session.SetTemporaryChat(true)

	require.NoError(t, h.session.Submit(context.Background(), SubmitRequest{Message: "secret"}))
	assert.Equal(t, "temp", h.session.HistoryID())

	list, err := h.store.ListHistories()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoad_RestoresConversation(t *testing.T) {
	h := newHarness(t, "first-model")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "hi"}))
	historyID := h.session.HistoryID()

	require.NoError(t, h.session.SetSelectedModel(ctx, "other-model"))
	h.session.Clear()
	assert.Empty(t, h.session.State().Messages)

	require.NoError(t, h.session.Load(ctx, historyID))
	state := h.session.State()
	assert.Equal(t, historyID, state.HistoryID)
	assert.Equal(t, "first-model", state.SelectedModel)
	require.Len(t, state.Messages, 2)
	assert.False(t, state.Messages[0].IsBot)
	assert.True(t, state.Messages[1].IsBot)
	assert.Equal(t, "first-model", state.Messages[1].ModelName)
	assert.Equal(t, models.ChatHistory{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "Hello world"},
	}, state.History)

	assert.ErrorIs(t, h.session.Load(ctx, "nope"), stores.ErrHistoryNotFound)
}

func TestDeleteLastTurn(t *testing.T) {
	h := newHarness(t, "m")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "one"}))
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "two"}))

	require.NoError(t, h.session.DeleteLastTurn())

	state := h.session.State()
	assert.Len(t, state.Messages, 2)
	assert.Len(t, state.History, 2)
	rows, err := h.store.FetchMessages(state.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "one", rows[0].Content)
}

func TestSelectedModelFollowsSettings(t *testing.T) {
	h := newHarness(t, "a")
	require.NoError(t, settings.Set(context.Background(), h.settings, settings.SelectedModel, "b"))
	assert.Equal(t, "b", h.session.State().SelectedModel)
}

func TestGenerateTitle(t *testing.T) {
	ctx := context.Background()
	repo := settings.NewMemoryRepository()
	model := &fakeModel{answer: "<think>pondering</think>  Greeting Exchange \n"}

	assert.Equal(t, "fallback", GenerateTitle(ctx, repo, model, "hi", "fallback", nil))
	assert.Equal(t, "Untitled", GenerateTitle(ctx, repo, model, "hi", " ", nil))

	require.NoError(t, settings.Set(ctx, repo, settings.TitleGenEnabled, true))
	assert.Equal(t, "Greeting Exchange", GenerateTitle(ctx, repo, model, "hi", "fallback", nil))

	model.answer = "<think>only thoughts</think>"
	assert.Equal(t, "fallback", GenerateTitle(ctx, repo, model, "hi", "fallback", nil))
}

type recordingSSE struct {
	mu     sync.Mutex
	frames []string
	errs   []error
}

func (w *recordingSSE) WriteSSE(data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, data)
	return nil
}

func (w *recordingSSE) WriteSSEError(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, err)
	return nil
}

func (w *recordingSSE) Flush() {}

func TestRunSSE_StreamsSnapshotsThenDone(t *testing.T) {
	h := newHarness(t, "m")
	w := &recordingSSE{}

	require.NoError(t, RunSSE(context.Background(), h.session, SubmitRequest{Message: "hi"}, w, nil))

	require.GreaterOrEqual(t, len(w.frames), 3)
	var first, last Frame
	require.NoError(t, json.Unmarshal([]byte(w.frames[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(w.frames[len(w.frames)-1]), &last))
	assert.Equal(t, "message", first.Type)
	require.NotNil(t, first.Message)
	assert.Equal(t, "hi", first.Message.Message)
	assert.Equal(t, "done", last.Type)
	assert.Equal(t, h.session.HistoryID(), last.HistoryID)

	var final Frame
	require.NoError(t, json.Unmarshal([]byte(w.frames[len(w.frames)-2]), &final))
	assert.Equal(t, "Hello world", final.Message.Message)
	assert.Empty(t, w.errs)
}

func TestRunSSE_ReportsErrors(t *testing.T) {
	h := newHarness(t, "")
	w := &recordingSSE{}

	err := RunSSE(context.Background(), h.session, SubmitRequest{Message: "hi"}, w, nil)
	assert.ErrorIs(t, err, ErrNoModelSelected)
	require.Len(t, w.errs, 1)
	assert.Empty(t, w.frames)
}

func TestClear_MidStreamLeavesFreshConversation(t *testing.T) {
	h := newHarness(t, "m")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "first"}))
	convA := h.session.HistoryID()

	h.model.block = true
	h.model.setChunks("A partial")
	done := make(chan error, 1)
	go func() { done <- h.session.Submit(ctx, SubmitRequest{Message: "conv A follow-up"}) }()
	waitStreaming(t, h, 4)

	h.session.Clear()
	require.NoError(t, <-done)

	state := h.session.State()
	assert.Empty(t, state.HistoryID)
	assert.Empty(t, state.Messages)
	assert.Empty(t, state.History)

	rows, err := h.store.FetchMessages(convA, 0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "conv A follow-up", rows[2].Content)
	assert.Equal(t, "A partial", rows[3].Content)

	list, err := h.store.ListHistories()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLoad_MidStreamSavesToStartingConversation(t *testing.T) {
	h := newHarness(t, "m")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "conv B question"}))
	convB := h.session.HistoryID()
	h.session.Clear()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "conv A question"}))
	convA := h.session.HistoryID()
	require.NotEqual(t, convA, convB)

	h.model.block = true
	h.model.setChunks("A partial")
	done := make(chan error, 1)
	go func() { done <- h.session.Submit(ctx, SubmitRequest{Message: "conv A follow-up"}) }()
	waitStreaming(t, h, 4)

	require.NoError(t, h.session.Load(ctx, convB))
	require.NoError(t, <-done)

	state := h.session.State()
	assert.Equal(t, convB, state.HistoryID)
	require.Len(t, state.Messages, 2)
	require.Len(t, state.History, 2)
	assert.Equal(t, "conv B question", state.History[0].Content)

	rowsB, err := h.store.FetchMessages(convB, 0)
	require.NoError(t, err)
	assert.Len(t, rowsB, 2)

	rowsA, err := h.store.FetchMessages(convA, 0)
	require.NoError(t, err)
	require.Len(t, rowsA, 4)
	assert.Equal(t, "conv A follow-up", rowsA[2].Content)
	assert.Equal(t, "A partial", rowsA[3].Content)
}

func TestDeletedConversation_AbortedAnswerIsDropped(t *testing.T) {
	h := newHarness(t, "m")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "hi"}))
	convA := h.session.HistoryID()

	h.model.block = true
	h.model.setChunks("partial")
	done := make(chan error, 1)
	go func() { done <- h.session.Submit(ctx, SubmitRequest{Message: "more"}) }()
	waitStreaming(t, h, 4)

	require.NoError(t, h.store.DeleteHistory(convA))
	h.session.Clear()
	require.NoError(t, <-done)

	rows, err := h.store.FetchMessages(convA, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	list, err := h.store.ListHistories()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoad_TextOnlyTurnHasNoImages(t *testing.T) {
	h := newHarness(t, "m")
	ctx := context.Background()
	require.NoError(t, h.session.Submit(ctx, SubmitRequest{Message: "no picture"}))
	historyID := h.session.HistoryID()

	rows, err := h.store.FetchMessages(historyID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Images)

	h.session.Clear()
	require.NoError(t, h.session.Load(ctx, historyID))
	assert.Nil(t, h.session.State().Messages[0].Images)
}
