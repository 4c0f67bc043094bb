// Package tldwchat wires the chat session, its context providers and the
// tldw server client into a runnable application.
package tldwchat

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/models/tldw"
	"github.com/Desarso/tldwchat/stores"
	"github.com/Desarso/tldwchat/streaming"
)

// Config holds the application settings. Values come from defaults, then
// the TOML file, then the environment.
type Config struct {
	TLDW         tldw.Config        `toml:"tldw"`
	Store        stores.StoreConfig `toml:"store"`
	ListenAddr   string             `toml:"listen_addr" env:"TLDWCHAT_LISTEN_ADDR" envDefault:":8080"`
	BraveAPIKey  string             `toml:"brave_api_key" env:"BRAVE_API_KEY"`
	GeminiAPIKey string             `toml:"gemini_api_key" env:"GEMINI_API_KEY"`
	FetchTimeout time.Duration      `toml:"fetch_timeout" env:"TLDWCHAT_FETCH_TIMEOUT" envDefault:"15s"`
	// Reveal seeds the streamReveal setting when it has never been set.
	Reveal models.RevealConfig `toml:"reveal"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	cfg := &Config{}
	// An empty environment applies only the envDefault tags.
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic("invalid config defaults: " + err.Error())
	}
	cfg.Reveal = streaming.DefaultReveal
	return cfg
}

// LoadConfig reads .env, then the TOML file at path when it exists, then
// the environment. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}
	// Defaults were applied above; a missing variable must not reset a
	// value from the file.
	if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "-"}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Reveal.CharsPerFlush <= 0 {
		cfg.Reveal.CharsPerFlush = streaming.DefaultReveal.CharsPerFlush
	}
	if cfg.Reveal.FlushInterval <= 0 {
		cfg.Reveal.FlushInterval = streaming.DefaultReveal.FlushInterval
	}
	return cfg, nil
}

// WithServerURL sets the tldw server URL
func (c *Config) WithServerURL(url string) *Config {
	c.TLDW.ServerURL = url
	return c
}

// WithAPIKey sets the single-user API key
func (c *Config) WithAPIKey(key string) *Config {
	c.TLDW.APIKey = key
	c.TLDW.AuthMode = tldw.AuthSingleUser
	return c
}

// WithAccessToken switches to multi-user authentication
func (c *Config) WithAccessToken(token string) *Config {
	c.TLDW.AccessToken = token
	c.TLDW.AuthMode = tldw.AuthMultiUser
	return c
}

// WithSQLiteStore stores conversations in the SQLite file at dbPath
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	c.Store = *stores.NewStoreConfig("sqlite", dbPath)
	return c
}

// WithPostgresStore stores conversations in PostgreSQL
func (c *Config) WithPostgresStore(host, user, password, dbname string, port int) *Config {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	c.Store = *stores.NewStoreConfig("postgres", dsn)
	return c
}

// WithListenAddr sets the HTTP listen address
func (c *Config) WithListenAddr(addr string) *Config {
	c.ListenAddr = addr
	return c
}

// WithBraveAPIKey enables the Brave search provider
func (c *Config) WithBraveAPIKey(key string) *Config {
	c.BraveAPIKey = key
	return c
}

// WithGeminiAPIKey enables models prefixed with "gemini/"
func (c *Config) WithGeminiAPIKey(key string) *Config {
	c.GeminiAPIKey = key
	return c
}

// WithRequestsPerSecond caps requests to the tldw server
func (c *Config) WithRequestsPerSecond(rps float64) *Config {
	c.TLDW.RequestsPerSecond = rps
	return c
}
