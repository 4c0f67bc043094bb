package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer serves the session over a test WebSocket endpoint. The returned
// channel is closed when the server side of a connection has returned.
func wsServer(t *testing.T, session *ChatSession) (string, <-chan struct{}) {
	t.Helper()
	served := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(served)
		defer conn.Close()
		_ = ServeWebSocket(context.Background(), conn, session, nil)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), served
}

func waitStreaming(t *testing.T, h *harness, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		msgs := h.session.State().Messages
		return len(msgs) == n && msgs[n-1].Message != "▋" && msgs[n-1].Message != ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServeWebSocket_DisconnectKeepsOtherTurns(t *testing.T) {
	h := newHarness(t, "m")
	h.model.block = true
	h.model.setChunks("partial")

	done := make(chan error, 1)
	go func() { done <- h.session.Submit(context.Background(), SubmitRequest{Message: "over http"}) }()
	waitStreaming(t, h, 2)

	url, served := wsServer(t, h.session)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("websocket handler did not return")
	}
	assert.True(t, h.session.State().IsProcessing, "a turn started elsewhere keeps streaming")

	h.session.Stop()
	require.NoError(t, <-done)
}

func TestServeWebSocket_DisconnectCancelsOwnTurn(t *testing.T) {
	h := newHarness(t, "m")
	h.model.block = true
	h.model.setChunks("partial")

	url, served := wsServer(t, h.session)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "submit", "message": "over ws"}))
	waitStreaming(t, h, 2)

	require.NoError(t, conn.Close())
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("websocket handler did not return")
	}

	state := h.session.State()
	assert.False(t, state.IsProcessing)
	require.NotEmpty(t, state.HistoryID)
	rows, err := h.store.FetchMessages(state.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "partial", rows[1].Content)
}
