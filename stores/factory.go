package stores

import (
	"fmt"
)

// NewStore creates a new store based on the configuration
func NewStore(config *StoreConfig) (Store, error) {
	if config == nil {
		return nil, fmt.Errorf("store config is nil")
	}
	switch config.Type {
	case "sqlite", "":
		cfg := *config
		cfg.Type = "sqlite"
		if cfg.Connection == "" {
			cfg.Connection = "tldwchat.sqlite"
		}
		return NewSQLiteStore(&cfg)
	case "postgres":
		return NewPostgresStore(config)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// NewSQLiteStoreDefault creates a SQLite store with default settings
func NewSQLiteStoreDefault() (Store, error) {
	return NewSQLiteStoreSimple("tldwchat.sqlite")
}

// NewPostgresStoreDefault creates a PostgreSQL store from discrete settings.
func NewPostgresStoreDefault(host, user, password, dbname string, port int) (Store, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	return NewPostgresStoreSimple(dsn)
}
