package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Desarso/tldwchat/models"
)

func setText(text string, bot bool) func(*models.Message) {
	return func(m *models.Message) {
		m.IsBot = bot
		m.Message = text
	}
}

func TestTerminalSink_PrintsGrowth(t *testing.T) {
	var buf bytes.Buffer
	sink := &terminalSink{out: &buf}

	sink.UpdateMessage("", setText("question", false))
	sink.UpdateMessage("b1", setText("▋", true))
	sink.UpdateMessage("b1", setText("Hel…", true))
	sink.UpdateMessage("b1", setText("Hello wor…", true))
	sink.UpdateMessage("b1", setText("Hello world", true))

	assert.Equal(t, "Hello world", buf.String())
	assert.Equal(t, "Hello world", sink.Text())
}

func TestTerminalSink_SkipsRewrites(t *testing.T) {
	var buf bytes.Buffer
	sink := &terminalSink{out: &buf}
	sink.UpdateMessage("b1", setText("abc", true))
	sink.UpdateMessage("b1", setText("xyz", true))
	assert.Equal(t, "abc", buf.String())

	// A new bot message starts over.
	sink.UpdateMessage("b2", setText("new", true))
	assert.Equal(t, "abcnew", buf.String())
}

func TestReadUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes"), 0o600))

	f, err := readUpload(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.md", f.Filename)
	assert.Equal(t, int64(7), f.Size)
	assert.NotEmpty(t, f.ID)

	_, err = readUpload(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestCommandsAreRegistered(t *testing.T) {
	for _, name := range []string{"serve", "chat", "health", "models", "history"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	show, _, err := rootCmd.Find([]string{"history", "show"})
	require.NoError(t, err)
	assert.Equal(t, "show", show.Name())
}
