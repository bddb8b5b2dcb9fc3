package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Kocoro-lab/stepflow/internal/session"
)

// JSONB round-trips a JSON document through a jsonb/TEXT column.
type JSONB []byte

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return nil
}

// sessionRow is the relational projection of a session. The full
// record is kept as JSON in data; the remaining columns exist for
// filtering, ordering and aggregation.
type sessionRow struct {
	ID          string     `db:"id"`
	PlanID      string     `db:"plan_id"`
	BasePlanID  string     `db:"base_plan_id"`
	Status      string     `db:"status"`
	Platform    string     `db:"platform"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
	DurationMs  *int64     `db:"duration_ms"`
	Data        JSONB      `db:"data"`
}

func rowFromSession(s *session.Session) (*sessionRow, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	row := &sessionRow{
		ID:          s.ID,
		PlanID:      s.PlanID,
		BasePlanID:  s.BasePlanID(),
		Status:      string(s.Status),
		Platform:    s.Platform,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		CompletedAt: s.CompletedAt,
		Data:        data,
	}
	if s.CompletedAt != nil {
		ms := s.Duration().Milliseconds()
		row.DurationMs = &ms
	}
	return row, nil
}

func (r *sessionRow) session() (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal(r.Data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", r.ID, err)
	}
	return &s, nil
}
