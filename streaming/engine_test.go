package streaming

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Desarso/tldwchat/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeModel struct {
	chunks []models.StreamChunk
	delay  time.Duration
	hold   time.Duration
	block  bool
	err    error
}

func (f *fakeModel) Stream(ctx context.Context, _ []models.ChatMessage) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, c := range f.chunks {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if f.hold > 0 {
			time.Sleep(f.hold)
		}
		if f.block {
			<-ctx.Done()
			errc <- ctx.Err()
			return
		}
		if f.err != nil {
			errc <- f.err
		}
	}()
	return out, errc
}

func (f *fakeModel) Invoke(context.Context, []models.ChatMessage) (string, error) {
	return "", nil
}

type recordingSink struct {
	mu      sync.Mutex
	msgs    map[string]*models.Message
	updates []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{msgs: map[string]*models.Message{}}
}

func (s *recordingSink) UpdateMessage(id string, update func(*models.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		m = &models.Message{ID: id, IsBot: true}
		s.msgs[id] = m
	}
	update(m)
	s.updates = append(s.updates, m.Message)
}

func (s *recordingSink) message(id string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.msgs[id]
}

func text(parts ...string) []models.StreamChunk {
	out := make([]models.StreamChunk, len(parts))
	for i, p := range parts {
		out[i] = models.StreamChunk{Content: p}
	}
	return out
}

func TestComputeFlushSize(t *testing.T) {
	const c = 4
	assert.Equal(t, c, ComputeFlushSize(2*c, c))
	assert.Equal(t, c, ComputeFlushSize(1, c))
	assert.Equal(t, 20, ComputeFlushSize(100*c, c))
	assert.Equal(t, c*10000, ComputeFlushSize(1_000_000*c, c))
	assert.Equal(t, c, ComputeFlushSize(2*c+1, c))
}

func TestStreamChatResponse_ConcatenatesChunks(t *testing.T) {
	sink := newRecordingSink()
	var completed string

	err := StreamChatResponse(context.Background(), Params{
		Model:     &fakeModel{chunks: text("He", "llo ", "world")},
		MessageID: "bot-1",
		Sink:      sink,
		Config: models.StreamConfig{
			Cursor: Cursor,
			Reveal: models.RevealConfig{CharsPerFlush: 4, FlushInterval: 50 * time.Millisecond},
		},
		OnComplete: func(fullText string, _ *models.GenerationInfo, _ int64) error {
			completed = fullText
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", completed)
	assert.Equal(t, "Hello world", sink.message("bot-1").Message)
}

func TestStreamChatResponse_SingleCloseMarkerPerTransition(t *testing.T) {
	sink := newRecordingSink()
	var completed string

	chunks := []models.StreamChunk{
		{ReasoningContent: "step one "},
		{ReasoningContent: "step two"},
		{Content: "Answer"},
		{Content: "!"},
		{ReasoningContent: "again"},
		{Content: "done"},
	}
	err := StreamChatResponse(context.Background(), Params{
		Model:     &fakeModel{chunks: chunks},
		MessageID: "bot",
		Sink:      sink,
		Config:    DefaultConfig(),
		OnComplete: func(fullText string, _ *models.GenerationInfo, _ int64) error {
			completed = fullText
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(completed, "<think>"))
	assert.Equal(t, 2, strings.Count(completed, "</think>"))
	assert.True(t, strings.HasPrefix(completed, "<think>step one step two</think>Answer!"))
	assert.Equal(t, completed, sink.message("bot").Message)
}

func TestStreamChatResponse_RevealsProgressively(t *testing.T) {
	sink := newRecordingSink()
	long := strings.Repeat("abcdefghij", 20)

	err := StreamChatResponse(context.Background(), Params{
		Model:     &fakeModel{chunks: text(long), hold: 60 * time.Millisecond},
		MessageID: "bot",
		Sink:      sink,
		Config: models.StreamConfig{
			Cursor: Cursor,
			Reveal: models.RevealConfig{CharsPerFlush: 2, FlushInterval: 5 * time.Millisecond},
		},
	})
	require.NoError(t, err)

	sink.mu.Lock()
	updates := append([]string(nil), sink.updates...)
	sink.mu.Unlock()

	var partial int
	for _, u := range updates[:len(updates)-1] {
		require.True(t, strings.HasSuffix(u, Cursor), "intermediate update %q lacks cursor", u)
		visible := strings.TrimSuffix(u, Cursor)
		require.True(t, strings.HasPrefix(long, visible))
		if len(visible) < len(long) {
			partial++
		}
	}
	assert.Greater(t, partial, 0)
	assert.Equal(t, long, updates[len(updates)-1])
}

func TestStreamChatResponse_AbortCallsOnError(t *testing.T) {
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())

	var (
		gotErr     error
		gotPartial string
		completed  bool
	)
	err := StreamChatResponse(ctx, Params{
		Model:     &fakeModel{chunks: text("partial ", "answer"), block: true},
		MessageID: "bot",
		Sink:      sink,
		Config:    DefaultConfig(),
		OnChunk: func(_ models.StreamChunk, fullText string) {
			if fullText == "partial answer" {
				cancel()
			}
		},
		OnComplete: func(string, *models.GenerationInfo, int64) error {
			completed = true
			return nil
		},
		OnError: func(err error, fullText string) {
			gotErr = err
			gotPartial = fullText
		},
	})

	require.Error(t, err)
	assert.True(t, IsAbort(err))
	assert.Contains(t, err.Error(), "AbortError")
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "AbortError")
	assert.Equal(t, "partial answer", gotPartial)
	assert.False(t, completed)
}

func TestStreamChatResponse_StreamErrorIsReturned(t *testing.T) {
	boom := errors.New("backend exploded")
	var seen error

	err := StreamChatResponse(context.Background(), Params{
		Model:     &fakeModel{chunks: text("a"), err: boom},
		MessageID: "bot",
		Sink:      newRecordingSink(),
		Config:    DefaultConfig(),
		OnError:   func(err error, _ string) { seen = err },
	})

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, seen, boom)
	assert.False(t, IsAbort(err))
}

func TestStreamChatResponse_NonMonotonicRewriteShowsFullText(t *testing.T) {
	sink := newRecordingSink()

	err := StreamChatResponse(context.Background(), Params{
		Model:       &fakeModel{chunks: []models.StreamChunk{{ReasoningContent: "thinking"}, {Content: " more"}}},
		MessageID:   "bot",
		Sink:        sink,
		Config:      DefaultConfig(),
		InitialText: "Earlier answer",
	})
	require.NoError(t, err)

	sink.mu.Lock()
	first := sink.updates[0]
	sink.mu.Unlock()
	assert.Equal(t, "<think>Earlier answerthinking"+Cursor, first)
	assert.Equal(t, "<think>Earlier answerthinking</think> more", sink.message("bot").Message)
}

func TestStreamChatResponse_ReasoningTimeAndGenerationInfo(t *testing.T) {
	sink := newRecordingSink()
	info := &models.GenerationInfo{Model: "m", TotalTokens: 12}
	var gotMs int64

	chunks := []models.StreamChunk{
		{Content: "<think>hmm"},
		{Content: "</think>ok"},
		{GenerationInfo: info},
	}
	err := StreamChatResponse(context.Background(), Params{
		Model:     &fakeModel{chunks: chunks, delay: 15 * time.Millisecond},
		MessageID: "bot",
		Sink:      sink,
		Config:    DefaultConfig(),
		Sources:   []models.Source{{Name: "doc", Mode: "rag"}},
		OnComplete: func(_ string, gi *models.GenerationInfo, ms int64) error {
			assert.Same(t, info, gi)
			gotMs = ms
			return nil
		},
	})
	require.NoError(t, err)

	msg := sink.message("bot")
	assert.GreaterOrEqual(t, gotMs, int64(10))
	assert.Equal(t, gotMs, msg.ReasoningTimeTaken)
	assert.Same(t, info, msg.GenerationInfo)
	assert.Len(t, msg.Sources, 1)
}

func TestIsAbort(t *testing.T) {
	assert.True(t, IsAbort(&AbortError{}))
	assert.True(t, IsAbort(context.Canceled))
	assert.True(t, IsAbort(errors.New("fetch failed: AbortError")))
	assert.False(t, IsAbort(errors.New("timeout")))
	assert.False(t, IsAbort(nil))
}
