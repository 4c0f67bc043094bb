package stores

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresStore implements Store for PostgreSQL databases
type PostgresStore struct {
	gormStore
	dsn     string
	options map[string]string
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config *StoreConfig) (*PostgresStore, error) {
	if config.Type != "postgres" {
		return nil, fmt.Errorf("invalid store type for PostgreSQL store: %s", config.Type)
	}

	store := &PostgresStore{
		dsn:     config.Connection,
		options: config.Options,
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	return store, nil
}

// NewPostgresStoreSimple creates a new PostgreSQL store with just a DSN
func NewPostgresStoreSimple(dsn string) (*PostgresStore, error) {
	return NewPostgresStore(NewStoreConfig("postgres", dsn))
}

// Connect establishes a connection to the PostgreSQL database. The
// max_open_conns and conn_max_lifetime options tune the pool.
func (s *PostgresStore) Connect() error {
	db, err := gorm.Open(postgres.Open(s.dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if v, ok := s.options["max_open_conns"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			sqlDB.SetMaxOpenConns(n)
		}
	}
	if v, ok := s.options["conn_max_lifetime"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			sqlDB.SetConnMaxLifetime(d)
		}
	}

	s.db = db
	return s.migrate()
}
