// Package storage provides the durable session store backends: a
// file-per-session JSON store for embedded use, and SQLite/PostgreSQL
// stores for queryable deployments. All backends implement
// session.Store with the same filtering, ordering and stats semantics.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/metrics"
	"github.com/Kocoro-lab/stepflow/internal/session"
)

// FileStore persists each session as one JSON file. Writes go to a
// temp file in the same directory and are renamed into place, so a
// concurrent reader never observes a partially written record.
type FileStore struct {
	dir    string
	logger *zap.Logger
	// Serializes read-modify-write updates; concurrent writers on
	// distinct ids only contend on this briefly.
	mu sync.Mutex
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (f *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(f.dir, id+".json"), nil
}

// SaveSession writes the session atomically.
func (f *FileStore) SaveSession(ctx context.Context, s *session.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	err := f.write(s)
	observeStore("file", "save", err)
	return err
}

func (f *FileStore) write(s *session.Session) error {
	path, err := f.path(s.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// LoadSession reads one session.
func (f *FileStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	s, err := f.read(id)
	observeStore("file", "load", err)
	return s, err
}

func (f *FileStore) read(id string) (*session.Session, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

// UpdateSession applies a partial update under the store lock.
func (f *FileStore) UpdateSession(ctx context.Context, id string, u session.Update) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.read(id)
	if err != nil {
		observeStore("file", "update", err)
		return nil, err
	}
	u.Apply(s)
	if err := s.Validate(); err != nil {
		observeStore("file", "update", err)
		return nil, err
	}
	err = f.write(s)
	observeStore("file", "update", err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSession removes one session.
func (f *FileStore) DeleteSession(ctx context.Context, id string) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		err = session.ErrSessionNotFound
	}
	observeStore("file", "delete", err)
	return err
}

// ListSessions scans the directory, filters and sorts newest-first.
func (f *FileStore) ListSessions(ctx context.Context, filter session.Filter, page session.Page) ([]*session.Session, error) {
	all, err := f.scan(filter)
	if err != nil {
		observeStore("file", "list", err)
		return nil, err
	}
	observeStore("file", "list", nil)
	return paginate(all, page), nil
}

func (f *FileStore) scan(filter session.Filter) ([]*session.Session, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read session directory: %w", err)
	}
	var out []*session.Session
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := f.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// A file may be renamed away between ReadDir and read.
			if errors.Is(err, session.ErrSessionNotFound) {
				continue
			}
			f.logger.Warn("Skipping unreadable session file", zap.String("file", name), zap.Error(err))
			continue
		}
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Stats aggregates the sessions of one base plan id.
func (f *FileStore) Stats(ctx context.Context, basePlanID string) (*session.Stats, error) {
	all, err := f.scan(session.Filter{BasePlanID: basePlanID})
	if err != nil {
		return nil, err
	}
	return aggregateStats(all), nil
}

// Close is a no-op for the file store.
func (f *FileStore) Close() error { return nil }

// Ping verifies the session directory is reachable.
func (f *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}

func sortNewestFirst(sessions []*session.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

func paginate(sessions []*session.Session, page session.Page) []*session.Session {
	if page.Offset > 0 {
		if page.Offset >= len(sessions) {
			return nil
		}
		sessions = sessions[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(sessions) {
		sessions = sessions[:page.Limit]
	}
	return sessions
}

// aggregateStats computes the stats contract shared by all backends:
// success and failure count by terminal status, the duration average
// over sessions whose final status is completed.
func aggregateStats(sessions []*session.Session) *session.Stats {
	stats := &session.Stats{TotalExecutions: len(sessions)}
	var totalMs int64
	var completed int
	for _, s := range sessions {
		switch s.Status {
		case session.StatusCompleted:
			stats.SuccessCount++
			if s.CompletedAt != nil {
				totalMs += s.Duration().Milliseconds()
				completed++
			}
		case session.StatusFailed:
			stats.FailureCount++
		}
	}
	if completed > 0 {
		stats.AverageDurationMs = float64(totalMs) / float64(completed)
	}
	return stats
}

func observeStore(backend, op string, err error) {
	status := "success"
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		status = "error"
	}
	metrics.StoreOperations.WithLabelValues(backend, op, status).Inc()
}
