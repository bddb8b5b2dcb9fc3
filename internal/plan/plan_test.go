package plan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookingPlanJSON = `{
  "id": "trip-booking@2",
  "user_request": "Book a trip to Osaka",
  "steps": [
    {
      "step_id": 1,
      "type": "function_call",
      "function_name": "search_flights",
      "parameters": {
        "destination": {"type": "literal", "value": "Osaka"},
        "passengers": {"type": "literal", "value": 2}
      }
    },
    {
      "step_id": 2,
      "type": "user_input",
      "schema": {"fields": ["seat_preference"]}
    },
    {
      "step_id": 3,
      "type": "condition",
      "expression": "step.1.result.price < 500",
      "branch_targets": {"true": 4, "false": 5}
    },
    {
      "step_id": 4,
      "type": "function_call",
      "function_name": "book_flight",
      "parameters": {
        "flight": {"type": "reference", "path": "step.1.result.flightId"},
        "options": {
          "type": "composite",
          "fields": {
            "seat": {"type": "reference", "path": "step.2.result.seat_preference"},
            "insurance": {"type": "literal", "value": false}
          }
        }
      }
    },
    {
      "step_id": 5,
      "type": "function_call",
      "function_name": "notify_user"
    }
  ]
}`

func TestPlanDecodeJSON(t *testing.T) {
	var p Plan
	require.NoError(t, json.Unmarshal([]byte(bookingPlanJSON), &p))

	assert.Equal(t, "trip-booking@2", p.ID)
	require.Len(t, p.Steps, 5)

	fc, ok := p.Steps[0].(FunctionCallStep)
	require.True(t, ok)
	assert.Equal(t, "search_flights", fc.FunctionName)
	assert.Equal(t, Literal{Value: "Osaka"}, fc.Parameters["destination"])

	ui, ok := p.Steps[1].(UserInputStep)
	require.True(t, ok)
	assert.Equal(t, 2, ui.ID)
	assert.Contains(t, ui.Schema, "fields")

	cond, ok := p.Steps[2].(ConditionStep)
	require.True(t, ok)
	assert.Equal(t, "step.1.result.price < 500", cond.Expression)
	assert.Equal(t, BranchTargets{True: 4, False: 5}, cond.Targets)

	book, ok := p.Steps[3].(FunctionCallStep)
	require.True(t, ok)
	assert.Equal(t, Reference{Path: "step.1.result.flightId"}, book.Parameters["flight"])
	comp, ok := book.Parameters["options"].(Composite)
	require.True(t, ok)
	assert.Equal(t, Literal{Value: false}, comp.Fields["insurance"])
}

func TestPlanRoundTrip(t *testing.T) {
	var p Plan
	require.NoError(t, json.Unmarshal([]byte(bookingPlanJSON), &p))

	encoded, err := json.Marshal(p)
	require.NoError(t, err)

	var again Plan
	require.NoError(t, json.Unmarshal(encoded, &again))
	assert.Equal(t, p.Steps, again.Steps)
	assert.Equal(t, p.ID, again.ID)
}

func TestPlanDecodeUnknownStepType(t *testing.T) {
	_, err := LoadJSON([]byte(`{"id":"p","steps":[{"step_id":1,"type":"teleport"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step type")
}

func TestPlanValidate(t *testing.T) {
	step := func(id int) Step { return FunctionCallStep{ID: id, FunctionName: "f"} }

	cases := []struct {
		name    string
		plan    Plan
		wantErr string
	}{
		{"NoID", Plan{Steps: []Step{step(1)}}, "plan id is required"},
		{"NoSteps", Plan{ID: "p"}, "has no steps"},
		{"ZeroStepID", Plan{ID: "p", Steps: []Step{step(0)}}, "must be positive"},
		{"DuplicateStepID", Plan{ID: "p", Steps: []Step{step(1), step(1)}}, "duplicate step id"},
		{"MissingFunctionName", Plan{ID: "p", Steps: []Step{FunctionCallStep{ID: 1}}}, "missing a function name"},
		{"MissingExpression", Plan{ID: "p", Steps: []Step{ConditionStep{ID: 1}}}, "missing a condition expression"},
		{"UnknownBranchTarget", Plan{ID: "p", Steps: []Step{
			ConditionStep{ID: 1, Expression: "true", Targets: BranchTargets{True: 9}},
		}}, "branches to unknown step"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.plan.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	valid := Plan{ID: "p", Steps: []Step{step(1), step(3), step(7)}}
	assert.NoError(t, valid.Validate())
}

func TestPlanStepOrdering(t *testing.T) {
	// Step ids need not be contiguous.
	p := Plan{ID: "p", Steps: []Step{
		FunctionCallStep{ID: 3, FunctionName: "c"},
		FunctionCallStep{ID: 1, FunctionName: "a"},
		FunctionCallStep{ID: 7, FunctionName: "d"},
	}}

	assert.Equal(t, 1, p.FirstStepID())
	assert.Equal(t, 3, p.NextStepID(1))
	assert.Equal(t, 7, p.NextStepID(3))
	assert.Equal(t, 7, p.NextStepID(4))
	assert.Equal(t, 0, p.NextStepID(7))
	assert.Equal(t, []int{1, 3, 7}, p.StepIDs())
	assert.False(t, p.HasConditions())

	_, ok := p.Step(4)
	assert.False(t, ok)
}

func TestStepResultValue(t *testing.T) {
	fn := StepResult{StepID: 1, Type: KindFunctionCall, Success: true, Result: "out"}
	assert.Equal(t, "out", fn.Value())

	in := StepResult{StepID: 2, Type: KindUserInput, Success: true, Values: map[string]interface{}{"seat": "12A"}}
	assert.Equal(t, map[string]interface{}{"seat": "12A"}, in.Value())

	empty := StepResult{StepID: 3, Type: KindUserInput, Success: true}
	assert.Nil(t, empty.Value())
}
