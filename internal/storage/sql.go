package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/session"
)

// sqlStore implements session.Store over sqlx. SQLite and PostgreSQL
// share queries written with ? placeholders and rebound per driver;
// only the schema DDL differs.
type sqlStore struct {
	db      *sqlx.DB
	backend string
	logger  *zap.Logger
}

const upsertSessionQuery = `
	INSERT INTO sessions (
		id, plan_id, base_plan_id, status, platform,
		created_at, updated_at, completed_at, duration_ms, data
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at,
		completed_at = excluded.completed_at,
		duration_ms = excluded.duration_ms,
		data = excluded.data`

func (s *sqlStore) SaveSession(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	err := s.save(ctx, s.db, sess)
	observeStore(s.backend, "save", err)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *sqlStore) save(ctx context.Context, ex execer, sess *session.Session) error {
	row, err := rowFromSession(sess)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, s.db.Rebind(upsertSessionQuery),
		row.ID, row.PlanID, row.BasePlanID, row.Status, row.Platform,
		row.CreatedAt, row.UpdatedAt, row.CompletedAt, row.DurationMs, row.Data,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *sqlStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.load(ctx, s.db, id)
	observeStore(s.backend, "load", err)
	return sess, err
}

type getter interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (s *sqlStore) load(ctx context.Context, g getter, id string) (*session.Session, error) {
	var row sessionRow
	err := g.GetContext(ctx, &row, s.db.Rebind(`SELECT id, plan_id, base_plan_id, status, platform,
		created_at, updated_at, completed_at, duration_ms, data
		FROM sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return row.session()
}

// UpdateSession applies the partial update inside one transaction so
// concurrent readers only ever see complete records.
func (s *sqlStore) UpdateSession(ctx context.Context, id string, u session.Update) (*session.Session, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		observeStore(s.backend, "update", err)
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	sess, err := s.load(ctx, tx, id)
	if err != nil {
		observeStore(s.backend, "update", err)
		return nil, err
	}
	u.Apply(sess)
	if err := sess.Validate(); err != nil {
		observeStore(s.backend, "update", err)
		return nil, err
	}
	if err := s.save(ctx, tx, sess); err != nil {
		observeStore(s.backend, "update", err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		observeStore(s.backend, "update", err)
		return nil, fmt.Errorf("commit update: %w", err)
	}
	observeStore(s.backend, "update", nil)
	return sess, nil
}

func (s *sqlStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		observeStore(s.backend, "delete", err)
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		observeStore(s.backend, "delete", session.ErrSessionNotFound)
		return session.ErrSessionNotFound
	}
	observeStore(s.backend, "delete", nil)
	return nil
}

func (s *sqlStore) ListSessions(ctx context.Context, f session.Filter, p session.Page) ([]*session.Session, error) {
	query := `SELECT id, plan_id, base_plan_id, status, platform,
		created_at, updated_at, completed_at, duration_ms, data
		FROM sessions`
	where, args := filterClauses(f)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
	}
	if p.Offset > 0 {
		if p.Limit <= 0 {
			// LIMIT is required before OFFSET in SQLite; -1 is unlimited.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, p.Offset)
	}

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		observeStore(s.backend, "list", err)
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	observeStore(s.backend, "list", nil)

	out := make([]*session.Session, 0, len(rows))
	for i := range rows {
		sess, err := rows[i].session()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func filterClauses(f session.Filter) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if f.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, f.PlanID)
	}
	if f.BasePlanID != "" {
		where = append(where, "base_plan_id = ?")
		args = append(args, f.BasePlanID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, f.Platform)
	}
	return where, args
}

func (s *sqlStore) Stats(ctx context.Context, basePlanID string) (*session.Stats, error) {
	var row struct {
		Total     int     `db:"total"`
		Succeeded int     `db:"succeeded"`
		Failed    int     `db:"failed"`
		AvgMs     float64 `db:"avg_ms"`
	}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS succeeded,
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
		COALESCE(AVG(CASE WHEN status = 'completed' THEN duration_ms END), 0) AS avg_ms
		FROM sessions WHERE base_plan_id = ?`), basePlanID)
	if err != nil {
		observeStore(s.backend, "stats", err)
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	observeStore(s.backend, "stats", nil)
	return &session.Stats{
		TotalExecutions:   row.Total,
		SuccessCount:      row.Succeeded,
		FailureCount:      row.Failed,
		AverageDurationMs: row.AvgMs,
	}, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

// Ping verifies database connectivity for health checks.
func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
