package tldwchat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/models/gemini"
	"github.com/Desarso/tldwchat/models/tldw"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "tldwchat.sqlite", cfg.Store.Connection)
	assert.Equal(t, tldw.AuthSingleUser, cfg.TLDW.AuthMode)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 4, cfg.Reveal.CharsPerFlush)
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tldwchat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr = ":9090"

[tldw]
server_url = "http://file:8000"
api_key = "from-file"

[store]
type = "sqlite"
connection = "/tmp/file.sqlite"

[reveal]
chars_per_flush = 8
flush_interval = "50ms"
`), 0o600))

	t.Setenv("TLDW_API_KEY", "from-env")
	t.Setenv("BRAVE_API_KEY", "brave")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "http://file:8000", cfg.TLDW.ServerURL)
	assert.Equal(t, "from-env", cfg.TLDW.APIKey)
	assert.Equal(t, "/tmp/file.sqlite", cfg.Store.Connection, "unset variables keep file values")
	assert.Equal(t, "brave", cfg.BraveAPIKey)
	assert.Equal(t, models.RevealConfig{CharsPerFlush: 8, FlushInterval: 50 * time.Millisecond}, cfg.Reveal)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Type)
}

func TestConfigBuilder(t *testing.T) {
	cfg := DefaultConfig().
		WithServerURL("http://localhost:8000").
		WithAccessToken("tok").
		WithPostgresStore("db", "u", "p", "chat", 5432).
		WithRequestsPerSecond(2)

	assert.Equal(t, tldw.AuthMultiUser, cfg.TLDW.AuthMode)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Contains(t, cfg.Store.Connection, "dbname=chat port=5432")
	assert.Equal(t, 2.0, cfg.TLDW.RequestsPerSecond)
}

func TestResolver(t *testing.T) {
	client, err := tldw.NewClient(tldw.Config{ServerURL: "http://localhost:8000"}, nil)
	require.NoError(t, err)
	r := &Resolver{Client: client}

	m, err := r.Resolve(context.Background(), "llama3", models.ModelSettings{})
	require.NoError(t, err)
	assert.IsType(t, &tldw.ChatModel{}, m)

	_, err = r.Resolve(context.Background(), gemini.Prefix+"gemini-2.5-flash", models.ModelSettings{})
	assert.Error(t, err, "gemini models need an api key")

	_, err = (&Resolver{}).Resolve(context.Background(), "llama3", models.ModelSettings{})
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestNewApp_SeedsRevealSetting(t *testing.T) {
	cfg := DefaultConfig().
		WithServerURL("http://localhost:8000").
		WithSQLiteStore(filepath.Join(t.TempDir(), "app.sqlite"))
	cfg.Reveal = models.RevealConfig{CharsPerFlush: 12, FlushInterval: time.Millisecond}

	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	raw, ok, err := app.Settings.Get(context.Background(), "streamReveal")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"charsPerFlush":12`)
	assert.NotNil(t, app.Server().Router())
}
