package storage

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	plan_id       TEXT NOT NULL,
	base_plan_id  TEXT NOT NULL,
	status        TEXT NOT NULL,
	platform      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	duration_ms   BIGINT,
	data          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_base_plan ON sessions(base_plan_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);
`

// PostgresConfig holds the connection settings for the PostgreSQL
// session store.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// PostgresStore is the deployment-grade queryable session store.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects, migrates and returns the store.
func NewPostgresStore(cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	logger.Info("Connected to PostgreSQL session store",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return &PostgresStore{sqlStore{db: db, backend: "postgres", logger: logger}}, nil
}

// NewPostgresStoreWithDB wraps an existing connection; used by tests
// that inject a mocked database.
func NewPostgresStoreWithDB(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{sqlStore{db: db, backend: "postgres", logger: logger}}
}
