package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	plan_id       TEXT NOT NULL,
	base_plan_id  TEXT NOT NULL,
	status        TEXT NOT NULL,
	platform      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP,
	duration_ms   INTEGER,
	data          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_base_plan ON sessions(base_plan_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);
`

// SQLiteStore is the embedded queryable session store.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (and migrates) a SQLite session database at
// path. ":memory:" is accepted for tests.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	logger.Info("Opened SQLite session store", zap.String("path", path))
	return &SQLiteStore{sqlStore{db: db, backend: "sqlite", logger: logger}}, nil
}
