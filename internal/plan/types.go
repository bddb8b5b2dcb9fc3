// Package plan defines the execution plan model consumed by the step
// engine: plans, the step sum type, parameter values, and the records
// produced by execution.
package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// StepKind discriminates the step sum type.
type StepKind string

const (
	KindFunctionCall StepKind = "function_call"
	KindUserInput    StepKind = "user_input"
	KindCondition    StepKind = "condition"
)

// Step is one unit of work in a plan. Exactly three implementations
// exist: FunctionCallStep, UserInputStep and ConditionStep.
type Step interface {
	StepID() int
	Kind() StepKind
}

// FunctionCallStep invokes a named function through the dispatch
// capability with resolved parameters.
type FunctionCallStep struct {
	ID           int                       `json:"step_id"`
	FunctionName string                    `json:"function_name"`
	Parameters   map[string]ParameterValue `json:"parameters,omitempty"`
}

func (s FunctionCallStep) StepID() int    { return s.ID }
func (s FunctionCallStep) Kind() StepKind { return KindFunctionCall }

// UserInputStep suspends execution until a human supplies values
// matching the schema.
type UserInputStep struct {
	ID     int                    `json:"step_id"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

func (s UserInputStep) StepID() int    { return s.ID }
func (s UserInputStep) Kind() StepKind { return KindUserInput }

// BranchTargets names the step to jump to for each outcome of a
// condition. A zero target falls through to the next step in order.
type BranchTargets struct {
	True  int `json:"true,omitempty" yaml:"true"`
	False int `json:"false,omitempty" yaml:"false"`
}

// ConditionStep evaluates a boolean expression against accumulated
// results and selects the next step from its branch targets.
type ConditionStep struct {
	ID         int           `json:"step_id"`
	Expression string        `json:"expression"`
	Targets    BranchTargets `json:"branch_targets"`
}

func (s ConditionStep) StepID() int    { return s.ID }
func (s ConditionStep) Kind() StepKind { return KindCondition }

// Plan is an externally produced, immutable ordered set of steps.
type Plan struct {
	ID      string `json:"id" yaml:"id"`
	Request string `json:"user_request,omitempty" yaml:"user_request"`
	Steps   []Step `json:"steps" yaml:"-"`
	Status  string `json:"status,omitempty" yaml:"status"`
}

// Step returns the step with the given id.
func (p *Plan) Step(id int) (Step, bool) {
	for _, s := range p.Steps {
		if s.StepID() == id {
			return s, true
		}
	}
	return nil, false
}

// FirstStepID returns the lowest step id, or 0 for an empty plan.
func (p *Plan) FirstStepID() int {
	first := 0
	for _, s := range p.Steps {
		if first == 0 || s.StepID() < first {
			first = s.StepID()
		}
	}
	return first
}

// NextStepID returns the smallest step id strictly greater than id,
// or 0 when no such step exists. Step ids need not be contiguous.
func (p *Plan) NextStepID(id int) int {
	next := 0
	for _, s := range p.Steps {
		sid := s.StepID()
		if sid > id && (next == 0 || sid < next) {
			next = sid
		}
	}
	return next
}

// HasConditions reports whether the plan contains any condition step.
// Its presence selects the conditional executor variant.
func (p *Plan) HasConditions() bool {
	for _, s := range p.Steps {
		if s.Kind() == KindCondition {
			return true
		}
	}
	return false
}

// StepIDs returns all step ids in ascending order.
func (p *Plan) StepIDs() []int {
	ids := make([]int, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.StepID())
	}
	sort.Ints(ids)
	return ids
}

// Validate checks structural invariants: at least one step, positive
// unique step ids, function names present, branch targets resolvable.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.ID)
	}
	seen := make(map[int]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		id := s.StepID()
		if id <= 0 {
			return fmt.Errorf("plan %s: step id must be positive, got %d", p.ID, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("plan %s: duplicate step id %d", p.ID, id)
		}
		seen[id] = struct{}{}
		switch st := s.(type) {
		case FunctionCallStep:
			if st.FunctionName == "" {
				return fmt.Errorf("plan %s: step %d is missing a function name", p.ID, id)
			}
		case ConditionStep:
			if st.Expression == "" {
				return fmt.Errorf("plan %s: step %d is missing a condition expression", p.ID, id)
			}
		}
	}
	// Branch targets must name real steps.
	for _, s := range p.Steps {
		cond, ok := s.(ConditionStep)
		if !ok {
			continue
		}
		for _, target := range []int{cond.Targets.True, cond.Targets.False} {
			if target == 0 {
				continue
			}
			if _, ok := seen[target]; !ok {
				return fmt.Errorf("plan %s: step %d branches to unknown step %d", p.ID, cond.ID, target)
			}
		}
	}
	return nil
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepID     int       `json:"step_id"`
	Type       StepKind  `json:"type"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`

	// Type-specific payloads.
	Result interface{}            `json:"result,omitempty"` // function_call
	Values map[string]interface{} `json:"values,omitempty"` // user_input
}

// Value returns the payload later steps may reference: the function
// result, or the supplied values for a user-input step.
func (r *StepResult) Value() interface{} {
	if r.Type == KindUserInput {
		return mapToInterface(r.Values)
	}
	return r.Result
}

func mapToInterface(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}

// ExecutionResult is the terminal record of one plan run.
type ExecutionResult struct {
	PlanID      string       `json:"plan_id"`
	StepResults []StepResult `json:"step_results"`
	FinalResult interface{}  `json:"final_result,omitempty"`
	Success     bool         `json:"success"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// stepEnvelope is the wire form of a step; the type field selects the
// concrete variant on decode.
type stepEnvelope struct {
	StepID       int                    `json:"step_id"`
	Type         StepKind               `json:"type"`
	FunctionName string                 `json:"function_name,omitempty"`
	Parameters   parameterMap           `json:"parameters,omitempty"`
	Schema       map[string]interface{} `json:"schema,omitempty"`
	Expression   string                 `json:"expression,omitempty"`
	Targets      *BranchTargets         `json:"branch_targets,omitempty"`
}

func (env stepEnvelope) step() (Step, error) {
	switch env.Type {
	case KindFunctionCall:
		return FunctionCallStep{ID: env.StepID, FunctionName: env.FunctionName, Parameters: map[string]ParameterValue(env.Parameters)}, nil
	case KindUserInput:
		return UserInputStep{ID: env.StepID, Schema: env.Schema}, nil
	case KindCondition:
		var targets BranchTargets
		if env.Targets != nil {
			targets = *env.Targets
		}
		return ConditionStep{ID: env.StepID, Expression: env.Expression, Targets: targets}, nil
	default:
		return nil, fmt.Errorf("unknown step type %q (step %d)", env.Type, env.StepID)
	}
}

func envelopeFor(s Step) stepEnvelope {
	env := stepEnvelope{StepID: s.StepID(), Type: s.Kind()}
	switch st := s.(type) {
	case FunctionCallStep:
		env.FunctionName = st.FunctionName
		env.Parameters = parameterMap(st.Parameters)
	case UserInputStep:
		env.Schema = st.Schema
	case ConditionStep:
		env.Expression = st.Expression
		targets := st.Targets
		env.Targets = &targets
	}
	return env
}

// MarshalJSON encodes the plan with typed step envelopes.
func (p Plan) MarshalJSON() ([]byte, error) {
	envs := make([]stepEnvelope, len(p.Steps))
	for i, s := range p.Steps {
		envs[i] = envelopeFor(s)
	}
	return json.Marshal(struct {
		ID      string         `json:"id"`
		Request string         `json:"user_request,omitempty"`
		Steps   []stepEnvelope `json:"steps"`
		Status  string         `json:"status,omitempty"`
	}{p.ID, p.Request, envs, p.Status})
}

// UnmarshalJSON decodes typed step envelopes into the step sum type.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string         `json:"id"`
		Request string         `json:"user_request"`
		Steps   []stepEnvelope `json:"steps"`
		Status  string         `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	steps := make([]Step, 0, len(raw.Steps))
	for _, env := range raw.Steps {
		s, err := env.step()
		if err != nil {
			return err
		}
		steps = append(steps, s)
	}
	p.ID = raw.ID
	p.Request = raw.Request
	p.Steps = steps
	p.Status = raw.Status
	return nil
}
