// Package executor runs one plan's steps in declared order against a
// resolver and an external dispatch capability. The linear Executor
// handles function-call and user-input steps; ConditionalExecutor
// extends it with branch evaluation.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/dispatch"
	"github.com/Kocoro-lab/stepflow/internal/metrics"
	"github.com/Kocoro-lab/stepflow/internal/plan"
	"github.com/Kocoro-lab/stepflow/internal/resolver"
)

// StepHook is called after every recorded step result with the id of
// the step that will run next (0 when the plan is done). Returning an
// error aborts the run; the session layer uses this to persist after
// each step.
type StepHook func(res *plan.StepResult, nextStepID int) error

// PlanExecutor runs a plan from a given step. Implemented by Executor
// and ConditionalExecutor.
type PlanExecutor interface {
	Run(ctx context.Context, p *plan.Plan, fromStepID int, hook StepHook) (*plan.ExecutionResult, error)
}

// Options configures an executor.
type Options struct {
	// StepTimeout bounds each function-call dispatch; 0 disables the
	// timeout entirely.
	StepTimeout time.Duration
	// Input supplies user-input values on the non-session path. When
	// nil, reaching a user-input step surfaces InputRequiredError.
	Input dispatch.InputRequester
	// SurfaceID identifies the surface input requests are addressed to.
	SurfaceID string
	// Variables are run-scoped values condition expressions may name.
	Variables map[string]interface{}
}

// Executor executes function-call and user-input steps sequentially.
type Executor struct {
	dispatcher dispatch.Dispatcher
	resolver   *resolver.Resolver
	logger     *zap.Logger
	opts       Options
}

// New creates a linear step executor.
func New(d dispatch.Dispatcher, res *resolver.Resolver, logger *zap.Logger, opts Options) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{dispatcher: d, resolver: res, logger: logger, opts: opts}
}

// NewForPlan selects the executor variant for the plan: conditional
// when the plan contains a condition step, linear otherwise.
func NewForPlan(p *plan.Plan, d dispatch.Dispatcher, res *resolver.Resolver, logger *zap.Logger, opts Options) PlanExecutor {
	if p.HasConditions() {
		return NewConditional(d, res, logger, opts)
	}
	return New(d, res, logger, opts)
}

// Resolver returns the resolver this executor records results into.
func (e *Executor) Resolver() *resolver.Resolver { return e.resolver }

// Run executes the plan from fromStepID (the plan's first step when 0)
// until completion, the first failure, or an input-required boundary.
func (e *Executor) Run(ctx context.Context, p *plan.Plan, fromStepID int, hook StepHook) (*plan.ExecutionResult, error) {
	return e.run(ctx, p, fromStepID, hook, e.executeStep)
}

// stepFunc executes one step and names the step to run next.
type stepFunc func(ctx context.Context, p *plan.Plan, s plan.Step) (*plan.StepResult, int, error)

func (e *Executor) run(ctx context.Context, p *plan.Plan, fromStepID int, hook StepHook, step stepFunc) (*plan.ExecutionResult, error) {
	started := time.Now()
	if fromStepID == 0 {
		fromStepID = p.FirstStepID()
	}

	var results []plan.StepResult
	current := fromStepID
	for current != 0 {
		s, ok := p.Step(current)
		if !ok {
			return nil, fmt.Errorf("plan %s has no step %d", p.ID, current)
		}

		res, next, err := step(ctx, p, s)
		if err != nil {
			// Input-required and hook failures propagate untouched.
			return nil, err
		}
		results = append(results, *res)
		if res.Success {
			e.resolver.SetResult(res.StepID, res.Value())
		}
		metrics.StepsExecuted.WithLabelValues(string(res.Type), stepStatus(res)).Inc()
		if hook != nil {
			if err := hook(res, next); err != nil {
				return nil, fmt.Errorf("step hook: %w", err)
			}
		}
		if !res.Success {
			// Fail fast: remaining steps never execute.
			e.logger.Warn("Step failed, stopping plan",
				zap.String("plan_id", p.ID),
				zap.Int("step_id", res.StepID),
				zap.String("error", res.Error),
			)
			return &plan.ExecutionResult{
				PlanID:      p.ID,
				StepResults: results,
				Success:     false,
				Error:       res.Error,
				StartedAt:   started,
				CompletedAt: time.Now(),
			}, nil
		}
		current = next
	}

	result := &plan.ExecutionResult{
		PlanID:      p.ID,
		StepResults: results,
		Success:     true,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if len(results) > 0 {
		result.FinalResult = results[len(results)-1].Value()
	}
	return result, nil
}

func (e *Executor) executeStep(ctx context.Context, p *plan.Plan, s plan.Step) (*plan.StepResult, int, error) {
	next := p.NextStepID(s.StepID())
	switch st := s.(type) {
	case plan.FunctionCallStep:
		res := e.runFunctionCall(ctx, st)
		return res, next, nil
	case plan.UserInputStep:
		res, err := e.runUserInput(ctx, st)
		if err != nil {
			return nil, 0, err
		}
		return res, next, nil
	default:
		return nil, 0, fmt.Errorf("step %d: %s steps require the conditional executor", s.StepID(), s.Kind())
	}
}

func (e *Executor) runFunctionCall(ctx context.Context, s plan.FunctionCallStep) *plan.StepResult {
	started := time.Now()
	res := &plan.StepResult{StepID: s.ID, Type: plan.KindFunctionCall, ExecutedAt: started}
	defer func() {
		metrics.StepDuration.WithLabelValues(string(plan.KindFunctionCall)).
			Observe(float64(time.Since(started).Milliseconds()))
	}()

	params, err := e.resolver.ResolveAll(s.Parameters)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !e.dispatcher.Has(s.FunctionName) {
		res.Error = fmt.Sprintf("function %q is not available", s.FunctionName)
		return res
	}

	out, err := e.dispatch(ctx, s, params)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !out.Success {
		res.Error = out.Error
		if res.Error == "" {
			res.Error = fmt.Sprintf("function %q failed", s.FunctionName)
		}
		return res
	}
	res.Success = true
	res.Result = out.Result
	return res
}

// dispatch invokes the capability under the per-step timeout. A step
// already dispatched cannot be cancelled; on expiry its goroutine is
// abandoned and the step is marked timed out.
func (e *Executor) dispatch(ctx context.Context, s plan.FunctionCallStep, params map[string]interface{}) (*dispatch.Result, error) {
	if e.opts.StepTimeout <= 0 {
		out, err := e.dispatcher.Execute(ctx, s.FunctionName, params)
		if err != nil {
			return nil, fmt.Errorf("dispatch %q: %w", s.FunctionName, err)
		}
		return out, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	type outcome struct {
		res *dispatch.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.dispatcher.Execute(callCtx, s.FunctionName, params)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("dispatch %q: %w", s.FunctionName, o.err)
		}
		return o.res, nil
	case <-callCtx.Done():
		// The parent context firing is a cancelled run, not a timeout.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dispatch %q: %w", s.FunctionName, err)
		}
		metrics.StepTimeouts.Inc()
		return nil, &StepTimeoutError{StepID: s.ID, Timeout: e.opts.StepTimeout}
	}
}

func (e *Executor) runUserInput(ctx context.Context, s plan.UserInputStep) (*plan.StepResult, error) {
	if e.opts.Input == nil {
		return nil, &InputRequiredError{StepID: s.ID, Schema: s.Schema}
	}
	values, err := e.opts.Input.RequestInput(ctx, e.opts.SurfaceID, strconv.Itoa(s.ID))
	if err != nil {
		if isInputRequired(err) {
			return nil, &InputRequiredError{StepID: s.ID, Schema: s.Schema}
		}
		return &plan.StepResult{
			StepID:     s.ID,
			Type:       plan.KindUserInput,
			Error:      err.Error(),
			ExecutedAt: time.Now(),
		}, nil
	}
	return &plan.StepResult{
		StepID:     s.ID,
		Type:       plan.KindUserInput,
		Success:    true,
		Values:     values,
		ExecutedAt: time.Now(),
	}, nil
}

func stepStatus(res *plan.StepResult) string {
	if res.Success {
		return "success"
	}
	return "failure"
}
