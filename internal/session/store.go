package session

import (
	"context"
	"time"

	"github.com/Kocoro-lab/stepflow/internal/plan"
)

// Filter narrows a session listing. Zero fields match everything.
type Filter struct {
	PlanID     string
	BasePlanID string
	Status     Status
	Platform   string
}

// Matches reports whether the session satisfies the filter.
func (f Filter) Matches(s *Session) bool {
	if f.PlanID != "" && s.PlanID != f.PlanID {
		return false
	}
	if f.BasePlanID != "" && s.BasePlanID() != f.BasePlanID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Platform != "" && s.Platform != f.Platform {
		return false
	}
	return true
}

// Page bounds a session listing. A zero limit returns everything.
type Page struct {
	Limit  int
	Offset int
}

// Stats aggregates the sessions of one base plan id.
type Stats struct {
	TotalExecutions   int     `json:"total_executions"`
	SuccessCount      int     `json:"success_count"`
	FailureCount      int     `json:"failure_count"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// Update is a partial session mutation applied atomically by a store.
// Nil fields are left untouched; slices and maps replace wholesale.
type Update struct {
	Status            *Status
	CurrentStepID     *int
	StepResults       []plan.StepResult
	Context           map[string]interface{}
	PendingInput      *PendingInput
	ClearPendingInput bool
	Result            *plan.ExecutionResult
	CompletedAt       *time.Time
}

// Apply mutates the session in place and stamps UpdatedAt. Stores call
// this inside their own write path so every backend shares one set of
// partial-update semantics.
func (u Update) Apply(s *Session) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.CurrentStepID != nil {
		s.CurrentStepID = *u.CurrentStepID
	}
	if u.StepResults != nil {
		s.StepResults = u.StepResults
	}
	if u.Context != nil {
		s.Context = u.Context
	}
	if u.PendingInput != nil {
		s.PendingInput = u.PendingInput
	}
	if u.ClearPendingInput {
		s.PendingInput = nil
	}
	if u.Result != nil {
		s.Result = u.Result
	}
	if u.CompletedAt != nil {
		s.CompletedAt = u.CompletedAt
	}
	s.UpdatedAt = time.Now()
}

// Store is the durable session persistence consumed by the manager.
// Implementations must tolerate concurrent writers on distinct session
// ids and keep single-session writes atomic so a concurrent reader
// never observes a partially written record.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	LoadSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, u Update) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	// ListSessions returns matching sessions sorted newest-first.
	ListSessions(ctx context.Context, f Filter, p Page) ([]*Session, error)
	// Stats aggregates all sessions whose base plan id matches.
	Stats(ctx context.Context, basePlanID string) (*Stats, error)
	Close() error
}

// PlanSource supplies plan documents by id. Plan storage and
// versioning live outside the engine.
type PlanSource interface {
	GetPlan(ctx context.Context, planID, version string) (*plan.Plan, error)
}
