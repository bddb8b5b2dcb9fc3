// Package session holds the serializable snapshot of an in-progress
// plan run and the manager that makes execution resumable across
// suspensions and process restarts.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/Kocoro-lab/stepflow/internal/plan"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionState is returned when an operation is applied
	// to a session in the wrong state, e.g. resume on a session that is
	// not waiting for input.
	ErrInvalidSessionState = errors.New("invalid session state")
)

// Status is the session lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusWaitingInput, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// PendingInput marks the user-input step a session is suspended on.
type PendingInput struct {
	SurfaceID string                 `json:"surface_id"`
	StepID    int                    `json:"step_id"`
	Schema    map[string]interface{} `json:"schema,omitempty"`
}

// Session is the durable snapshot of one plan execution.
type Session struct {
	ID              string                 `json:"id"`
	PlanID          string                 `json:"plan_id"`
	PlanVersion     string                 `json:"plan_version,omitempty"`
	Status          Status                 `json:"status"`
	CurrentStepID   int                    `json:"current_step_id"`
	StepResults     []plan.StepResult      `json:"step_results"`
	Context         map[string]interface{} `json:"context,omitempty"`
	PendingInput    *PendingInput          `json:"pending_input,omitempty"`
	RetryCount      int                    `json:"retry_count"`
	ParentSessionID string                 `json:"parent_session_id,omitempty"`
	Platform        string                 `json:"platform,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	Result          *plan.ExecutionResult  `json:"result,omitempty"`
}

// BasePlanID strips the version suffix from a plan id. Plan ids may be
// versioned as "<base>@<version>"; stats aggregate across versions.
func BasePlanID(planID string) string {
	if i := strings.Index(planID, "@"); i >= 0 {
		return planID[:i]
	}
	return planID
}

// BasePlanID returns the version-independent id of the session's plan.
func (s *Session) BasePlanID() string {
	return BasePlanID(s.PlanID)
}

// Duration returns the wall time from creation to completion, or zero
// while the session has not finished.
func (s *Session) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.CreatedAt)
}

// Validate checks the session invariants that must hold in storage.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if !s.Status.Valid() {
		return errors.New("unknown session status " + string(s.Status))
	}
	waiting := s.Status == StatusWaitingInput
	if waiting != (s.PendingInput != nil) {
		return errors.New("pending input must be set exactly when status is waiting_input")
	}
	if waiting && s.CurrentStepID != s.PendingInput.StepID {
		return errors.New("current step must match the pending input step")
	}
	return nil
}
