package stores

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Desarso/tldwchat/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(NewStoreConfig("sqlite", filepath.Join(t.TempDir(), "chat.sqlite")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_UnsupportedType(t *testing.T) {
	_, err := NewStore(NewStoreConfig("mysql", "x"))
	assert.Error(t, err)
}

func TestHistoryAndMessages(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping())

	h, err := s.SaveHistory("Stellar Achievement Celebration", false, "")
	require.NoError(t, err)
	assert.NotEmpty(t, h.HistoryID)
	assert.Equal(t, "web-ui", h.MessageSource)

	user := &Message{HistoryID: h.HistoryID, Role: models.RoleUser, Name: "m", Content: "hi", Images: []string{""}, Time: 1}
	require.NoError(t, s.SaveMessage(user))
	info := &models.GenerationInfo{Model: "m", TotalTokens: 9}
	bot := &Message{
		HistoryID:          h.HistoryID,
		Role:               models.RoleAssistant,
		Content:            "hello",
		Sources:            []models.Source{{Name: "doc", Mode: "rag"}},
		GenerationInfo:     info,
		ReasoningTimeTaken: 120,
		Time:               2,
	}
	require.NoError(t, s.SaveMessage(bot))
	assert.Equal(t, 1, user.Sequence)
	assert.Equal(t, 2, bot.Sequence)
	assert.NotEmpty(t, bot.MessageID)

	msgs, err := s.FetchMessages(h.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].Images, "empty image strings are not stored")
	assert.Equal(t, "doc", msgs[1].Sources[0].Name)
	require.NotNil(t, msgs[1].GenerationInfo)
	assert.Equal(t, 9, msgs[1].GenerationInfo.TotalTokens)
	assert.Equal(t, int64(120), msgs[1].ReasoningTimeTaken)

	last, err := s.FetchMessages(h.HistoryID, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "hello", last[0].Content)

	got, err := s.GetHistory(h.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
}

func TestUpdateLastMessage(t *testing.T) {
	s := newTestStore(t)
	h, err := s.SaveHistory("t", false, "copilot")
	require.NoError(t, err)

	_, err = s.GetLastMessage(h.HistoryID)
	assert.ErrorIs(t, err, ErrNoLastMessage)

	require.NoError(t, s.SaveMessage(&Message{HistoryID: h.HistoryID, Role: "user", Content: "q"}))
	require.NoError(t, s.SaveMessage(&Message{HistoryID: h.HistoryID, Role: "assistant", Content: "partial"}))

	lastMsg, err := s.GetLastMessage(h.HistoryID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateMessage(h.HistoryID, lastMsg.MessageID, "partial and continued"))

	lastMsg, err = s.GetLastMessage(h.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "partial and continued", lastMsg.Content)

	assert.Error(t, s.UpdateMessage(h.HistoryID, "missing", "x"))
}

func TestRemoveLastPair(t *testing.T) {
	s := newTestStore(t)
	h, err := s.SaveHistory("t", false, "")
	require.NoError(t, err)
	for _, m := range []Message{
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "user", Content: "3"},
		{Role: "assistant", Content: "4"},
	} {
		m.HistoryID = h.HistoryID
		require.NoError(t, s.SaveMessage(&m))
	}

	require.NoError(t, s.RemoveLastPair(h.HistoryID))
	msgs, err := s.FetchMessages(h.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2", msgs[1].Content)

	// Sequence continues after the removed pair.
	next := &Message{HistoryID: h.HistoryID, Role: "user", Content: "5"}
	require.NoError(t, s.SaveMessage(next))
	assert.Equal(t, 3, next.Sequence)

	require.NoError(t, s.RemoveLastMessage(h.HistoryID))
	msgs, err = s.FetchMessages(h.HistoryID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	got, err := s.GetHistory(h.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)

	assert.ErrorIs(t, s.RemoveLastMessage("nope"), ErrNoLastMessage)
}

func TestListAndDeleteHistories(t *testing.T) {
	s := newTestStore(t)
	a, err := s.SaveHistory("a", false, "")
	require.NoError(t, err)
	b, err := s.SaveHistory("b", true, "")
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(&Message{HistoryID: a.HistoryID, Role: "user", Content: "x"}))
	require.NoError(t, s.SaveTurnStat(&TurnStat{HistoryID: a.HistoryID, Mode: "normal", Status: "success"}))

	list, err := s.ListHistories()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteHistory(a.HistoryID))
	_, err = s.GetHistory(a.HistoryID)
	assert.ErrorIs(t, err, ErrHistoryNotFound)
	msgs, err := s.FetchMessages(a.HistoryID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	stats, err := s.GetTurnStats(a.HistoryID)
	require.NoError(t, err)
	assert.Empty(t, stats)

	require.NoError(t, s.UpdateHistoryTitle(b.HistoryID, "renamed"))
	got, err := s.GetHistory(b.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.True(t, got.IsRAG)
}

func TestSessionFiles(t *testing.T) {
	s := newTestStore(t)
	uploaded := time.UnixMilli(time.Now().UnixMilli())
	files := []models.UploadedFile{{ID: "f1", Filename: "notes.txt", Type: "text/plain", Content: "abc", Size: 3, UploadedAt: uploaded}}

	require.NoError(t, s.AttachSessionFiles("h1", files))
	require.NoError(t, s.AttachSessionFiles("h1", files))

	got, err := s.GetSessionFiles("h1")
	require.NoError(t, err)
	require.Len(t, got, 1, "attaching the same file twice keeps one row")
	assert.Equal(t, "notes.txt", got[0].Filename)
	assert.True(t, got[0].UploadedAt.Equal(uploaded))
	assert.True(t, got[0].Processed)
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetSetting("selectedModel")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting("selectedModel", `"gpt-4o"`))
	require.NoError(t, s.SetSetting("selectedModel", `"llama3"`))
	v, ok, err := s.GetSetting("selectedModel")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"llama3"`, v)

	all, err := s.ListSettings()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"selectedModel": `"llama3"`}, all)
}

func TestTurnStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTurnStat(&TurnStat{
		HistoryID:      "h",
		Mode:           "rag",
		Status:         "aborted",
		DurationMS:     40,
		GenerationInfo: &models.GenerationInfo{Model: "m", TotalTokens: 3},
	}))

	stats, err := s.GetTurnStats("h")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "aborted", stats[0].Status)
	require.NotNil(t, stats[0].GenerationInfo)
	assert.Equal(t, 3, stats[0].GenerationInfo.TotalTokens)

	require.NoError(t, s.DeleteTurnStats("h"))
	stats, err = s.GetTurnStats("h")
	require.NoError(t, err)
	assert.Empty(t, stats)
}
