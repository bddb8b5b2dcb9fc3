package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/dispatch"
	"github.com/Kocoro-lab/stepflow/internal/executor"
	"github.com/Kocoro-lab/stepflow/internal/metrics"
	"github.com/Kocoro-lab/stepflow/internal/plan"
	"github.com/Kocoro-lab/stepflow/internal/resolver"
	"github.com/Kocoro-lab/stepflow/internal/streaming"
)

// ManagerOptions configures session execution behavior.
type ManagerOptions struct {
	// StepTimeout bounds each function-call dispatch; 0 disables it.
	StepTimeout time.Duration
}

// Manager orchestrates the session lifecycle: create, run, suspend,
// resume and retry. It persists the session after every step so a
// crash loses at most the one in-flight step, and it rebuilds the
// parameter resolver from persisted results on every run so references
// into steps completed before any earlier pause keep resolving.
type Manager struct {
	store      Store
	plans      PlanSource
	dispatcher dispatch.Dispatcher
	events     streaming.Publisher
	logger     *zap.Logger
	opts       ManagerOptions
}

// NewManager creates a session manager. events may be nil when no
// broadcast collaborator is attached.
func NewManager(store Store, plans PlanSource, d dispatch.Dispatcher, events streaming.Publisher, logger *zap.Logger, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		plans:      plans,
		dispatcher: d,
		events:     events,
		logger:     logger,
		opts:       opts,
	}
}

// CreateSession allocates and persists a new pending session for the
// plan.
func (m *Manager) CreateSession(ctx context.Context, p *plan.Plan, platform string) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	s := &Session{
		ID:            uuid.New().String(),
		PlanID:        p.ID,
		Status:        StatusPending,
		CurrentStepID: p.FirstStepID(),
		StepResults:   []plan.StepResult{},
		Context:       make(map[string]interface{}),
		Platform:      platform,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	m.publish(s.ID, streaming.Event{Type: streaming.TypeSessionCreated, Data: map[string]interface{}{
		"plan_id":  s.PlanID,
		"platform": s.Platform,
	}})
	m.logger.Info("Created session",
		zap.String("session_id", s.ID),
		zap.String("plan_id", s.PlanID),
		zap.String("platform", platform),
	)
	return s, nil
}

// ExecuteSession runs a pending session to completion or to the next
// waiting_input boundary.
func (m *Manager) ExecuteSession(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot execute session %s in status %s", ErrInvalidSessionState, id, s.Status)
	}

	running := StatusRunning
	if s, err = m.store.UpdateSession(ctx, id, Update{Status: &running}); err != nil {
		return nil, fmt.Errorf("mark session running: %w", err)
	}
	m.publish(s.ID, streaming.Event{Type: streaming.TypeSessionStarted})

	return m.runSession(ctx, s)
}

// ResumeSession supplies the values a waiting session is suspended on
// and continues execution. The resolver is rebuilt from the persisted
// step results before continuing; this must hold across any number of
// pause/resume cycles.
func (m *Manager) ResumeSession(ctx context.Context, id string, values map[string]interface{}) (*Session, error) {
	s, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusWaitingInput || s.PendingInput == nil {
		return nil, fmt.Errorf("%w: cannot resume session %s in status %s", ErrInvalidSessionState, id, s.Status)
	}

	p, err := m.loadPlan(ctx, s)
	if err != nil {
		return nil, err
	}

	pending := *s.PendingInput
	results := append(append([]plan.StepResult{}, s.StepResults...), plan.StepResult{
		StepID:     pending.StepID,
		Type:       plan.KindUserInput,
		Success:    true,
		Values:     values,
		ExecutedAt: time.Now(),
	})

	running := StatusRunning
	next := p.NextStepID(pending.StepID)
	current := next
	if current == 0 {
		current = pending.StepID
	}
	s, err = m.store.UpdateSession(ctx, id, Update{
		Status:            &running,
		StepResults:       results,
		CurrentStepID:     &current,
		ClearPendingInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("record resume: %w", err)
	}

	metrics.SessionsResumed.Inc()
	m.publish(s.ID, streaming.Event{Type: streaming.TypeSessionResumed, StepID: pending.StepID})
	m.logger.Info("Resumed session",
		zap.String("session_id", s.ID),
		zap.Int("step_id", pending.StepID),
	)

	if next == 0 {
		// The pending input was the last step.
		return m.finishSession(ctx, s, p, nil)
	}
	return m.runSessionWithPlan(ctx, s, p)
}

// RetrySession creates a new session derived from an existing one. Its
// step results are truncated to those with stepId < fromStepID
// (exclusive boundary); fromStepID 0 restarts from the beginning. The
// original session is never mutated.
func (m *Manager) RetrySession(ctx context.Context, id string, fromStepID int) (*Session, error) {
	orig, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := m.loadPlan(ctx, orig)
	if err != nil {
		return nil, err
	}

	kept := make([]plan.StepResult, 0, len(orig.StepResults))
	if fromStepID > 0 {
		for _, r := range orig.StepResults {
			if r.StepID < fromStepID {
				kept = append(kept, r)
			}
		}
	}

	current := p.FirstStepID()
	if fromStepID > 0 {
		if _, ok := p.Step(fromStepID); ok {
			current = fromStepID
		} else if next := p.NextStepID(fromStepID - 1); next != 0 {
			current = next
		}
	}

	ctxCopy := make(map[string]interface{}, len(orig.Context))
	for k, v := range orig.Context {
		ctxCopy[k] = v
	}

	now := time.Now()
	retry := &Session{
		ID:              uuid.New().String(),
		PlanID:          orig.PlanID,
		PlanVersion:     orig.PlanVersion,
		Status:          StatusPending,
		CurrentStepID:   current,
		StepResults:     kept,
		Context:         ctxCopy,
		RetryCount:      orig.RetryCount + 1,
		ParentSessionID: orig.ID,
		Platform:        orig.Platform,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.SaveSession(ctx, retry); err != nil {
		return nil, fmt.Errorf("save retry session: %w", err)
	}

	metrics.SessionsRetried.Inc()
	m.publish(retry.ID, streaming.Event{Type: streaming.TypeSessionRetried, Data: map[string]interface{}{
		"parent_session_id": orig.ID,
		"from_step_id":      fromStepID,
		"retry_count":       retry.RetryCount,
	}})
	m.logger.Info("Created retry session",
		zap.String("session_id", retry.ID),
		zap.String("parent_session_id", orig.ID),
		zap.Int("from_step_id", fromStepID),
		zap.Int("retry_count", retry.RetryCount),
	)
	return retry, nil
}

// GetSession loads one session.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	return m.store.LoadSession(ctx, id)
}

// ListSessions lists sessions newest-first.
func (m *Manager) ListSessions(ctx context.Context, f Filter, p Page) ([]*Session, error) {
	return m.store.ListSessions(ctx, f, p)
}

// GetExecutionStats aggregates every session matching the plan's exact
// id or its version-independent base id.
func (m *Manager) GetExecutionStats(ctx context.Context, planID string) (*Stats, error) {
	return m.store.Stats(ctx, BasePlanID(planID))
}

func (m *Manager) loadPlan(ctx context.Context, s *Session) (*plan.Plan, error) {
	p, err := m.plans.GetPlan(ctx, s.PlanID, s.PlanVersion)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", s.PlanID, err)
	}
	return p, nil
}

func (m *Manager) runSession(ctx context.Context, s *Session) (*Session, error) {
	p, err := m.loadPlan(ctx, s)
	if err != nil {
		return nil, err
	}
	return m.runSessionWithPlan(ctx, s, p)
}

// runSessionWithPlan drives the executor from the session's current
// step, persisting after every recorded step result.
func (m *Manager) runSessionWithPlan(ctx context.Context, s *Session, p *plan.Plan) (*Session, error) {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	// Rebuild a fresh resolver from the persisted results. In-memory
	// resolver state never survives a suspension.
	res := resolver.New()
	for _, r := range s.StepResults {
		if r.Success {
			res.SetResult(r.StepID, r.Value())
		}
	}

	exec := executor.NewForPlan(p, m.dispatcher, res, m.logger, executor.Options{
		StepTimeout: m.opts.StepTimeout,
		Variables:   s.Context,
	})

	hook := func(r *plan.StepResult, next int) error {
		s.StepResults = append(s.StepResults, *r)
		current := s.CurrentStepID
		if next != 0 {
			current = next
		}
		updated, err := m.store.UpdateSession(ctx, s.ID, Update{
			StepResults:   s.StepResults,
			CurrentStepID: &current,
			Context:       s.Context,
		})
		if err != nil {
			return err
		}
		*s = *updated

		evtType := streaming.TypeStepCompleted
		if !r.Success {
			evtType = streaming.TypeStepFailed
		}
		m.publish(s.ID, streaming.Event{Type: evtType, StepID: r.StepID, Message: r.Error})
		return nil
	}

	result, err := exec.Run(ctx, p, s.CurrentStepID, hook)
	if err != nil {
		var inputReq *executor.InputRequiredError
		if errors.As(err, &inputReq) {
			return m.suspendSession(ctx, s, inputReq)
		}
		// Infrastructure failure: the session stays inspectable, the
		// error surfaces to the caller.
		failed := StatusFailed
		now := time.Now()
		if updated, uerr := m.store.UpdateSession(ctx, s.ID, Update{Status: &failed, CompletedAt: &now}); uerr == nil {
			*s = *updated
		}
		metrics.SessionsCompleted.WithLabelValues(string(StatusFailed)).Inc()
		m.publish(s.ID, streaming.Event{Type: streaming.TypeSessionFailed, Message: err.Error()})
		return s, err
	}
	return m.finishSession(ctx, s, p, result)
}

// suspendSession parks the session at a user-input boundary.
func (m *Manager) suspendSession(ctx context.Context, s *Session, inputReq *executor.InputRequiredError) (*Session, error) {
	waiting := StatusWaitingInput
	current := inputReq.StepID
	s, err := m.store.UpdateSession(ctx, s.ID, Update{
		Status:        &waiting,
		CurrentStepID: &current,
		PendingInput: &PendingInput{
			SurfaceID: s.Platform,
			StepID:    inputReq.StepID,
			Schema:    inputReq.Schema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("suspend session: %w", err)
	}

	metrics.SessionsSuspended.Inc()
	m.publish(s.ID, streaming.Event{Type: streaming.TypeInputRequired, StepID: inputReq.StepID, Data: map[string]interface{}{
		"schema": inputReq.Schema,
	}})
	m.logger.Info("Session waiting for input",
		zap.String("session_id", s.ID),
		zap.Int("step_id", inputReq.StepID),
	)
	return s, nil
}

// finishSession records the terminal state. A nil result means the run
// ended exactly on its final user-input step. The persisted result
// always spans the whole run: after a pause/resume cycle the executor
// only saw the continuation, while the session carries every recorded
// step result since creation.
func (m *Manager) finishSession(ctx context.Context, s *Session, p *plan.Plan, result *plan.ExecutionResult) (*Session, error) {
	if result == nil {
		result = &plan.ExecutionResult{
			PlanID:      p.ID,
			Success:     true,
			CompletedAt: time.Now(),
		}
	}
	result.StepResults = s.StepResults
	result.StartedAt = s.CreatedAt
	if result.Success {
		if n := len(s.StepResults); n > 0 {
			result.FinalResult = s.StepResults[n-1].Value()
		}
	}

	status := StatusCompleted
	if !result.Success {
		status = StatusFailed
	}
	now := time.Now()
	s, err := m.store.UpdateSession(ctx, s.ID, Update{
		Status:      &status,
		Result:      result,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}

	metrics.SessionsCompleted.WithLabelValues(string(status)).Inc()
	evtType := streaming.TypeSessionCompleted
	if status == StatusFailed {
		evtType = streaming.TypeSessionFailed
	}
	m.publish(s.ID, streaming.Event{Type: evtType, Message: result.Error})
	m.logger.Info("Session finished",
		zap.String("session_id", s.ID),
		zap.String("status", string(status)),
		zap.Int("steps", len(s.StepResults)),
	)
	return s, nil
}

func (m *Manager) publish(sessionID string, evt streaming.Event) {
	if m.events == nil {
		return
	}
	m.events.Publish(sessionID, evt)
}
