package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookingPlanYAML = `id: trip-booking
user_request: Book a trip to Osaka
steps:
  - step_id: 1
    type: function_call
    function_name: search_flights
    parameters:
      destination:
        type: literal
        value: Osaka
  - step_id: 2
    type: condition
    expression: step.1.result.price < 500
    branch_targets:
      "true": 3
      "false": 4
  - step_id: 3
    type: function_call
    function_name: book_flight
    parameters:
      flight:
        type: reference
        path: step.1.result.flightId
  - step_id: 4
    type: function_call
    function_name: notify_user
`

func TestLoadYAML(t *testing.T) {
	p, err := LoadYAML([]byte(bookingPlanYAML))
	require.NoError(t, err)

	require.Len(t, p.Steps, 4)
	cond, ok := p.Steps[1].(ConditionStep)
	require.True(t, ok)
	assert.Equal(t, BranchTargets{True: 3, False: 4}, cond.Targets)

	book, ok := p.Steps[2].(FunctionCallStep)
	require.True(t, ok)
	assert.Equal(t, Reference{Path: "step.1.result.flightId"}, book.Parameters["flight"])
}

func TestLoadJSONRejectsInvalid(t *testing.T) {
	_, err := LoadJSON([]byte(`{"id":"p","steps":[]}`))
	require.Error(t, err)

	_, err = LoadJSON([]byte(`not json`))
	require.Error(t, err)
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trip-booking.yaml"), []byte(bookingPlanYAML), 0o644))

	p, err := LoadYAML([]byte(bookingPlanYAML))
	require.NoError(t, err)
	p.ID = "trip-booking@2"
	versioned, err := p.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trip-booking@2.json"), versioned, 0o644))

	src := NewDirSource(dir)
	ctx := context.Background()

	t.Run("Unversioned", func(t *testing.T) {
		got, err := src.GetPlan(ctx, "trip-booking", "")
		require.NoError(t, err)
		assert.Equal(t, "trip-booking", got.ID)
	})

	t.Run("Versioned", func(t *testing.T) {
		got, err := src.GetPlan(ctx, "trip-booking", "2")
		require.NoError(t, err)
		assert.Equal(t, "trip-booking@2", got.ID)
	})

	t.Run("VersionFallsBack", func(t *testing.T) {
		got, err := src.GetPlan(ctx, "trip-booking", "9")
		require.NoError(t, err)
		assert.Equal(t, "trip-booking", got.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := src.GetPlan(ctx, "missing", "")
		require.Error(t, err)
	})

	t.Run("RejectsPathTraversal", func(t *testing.T) {
		_, err := src.GetPlan(ctx, "../trip-booking", "")
		require.Error(t, err)
	})
}
