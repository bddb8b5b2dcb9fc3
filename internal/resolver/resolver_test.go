package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/stepflow/internal/plan"
)

func TestResolveLiteral(t *testing.T) {
	r := New()

	// Literals pass through unchanged, including zero values.
	cases := []interface{}{
		"hello",
		42,
		0,
		false,
		nil,
		"",
		map[string]interface{}{},
		[]interface{}{},
		map[string]interface{}{"nested": []interface{}{1, 2}},
	}
	for _, v := range cases {
		got, err := r.Resolve(plan.Literal{Value: v})
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestResolveReference(t *testing.T) {
	r := New()
	r.SetResult(1, map[string]interface{}{
		"basePrice": 2250.0,
		"items": []interface{}{
			map[string]interface{}{"sku": "A-1"},
			map[string]interface{}{"sku": "B-2"},
		},
	})

	t.Run("WholeResult", func(t *testing.T) {
		got, err := r.Resolve(plan.Reference{Path: "step.1.result"})
		require.NoError(t, err)
		m, ok := got.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 2250.0, m["basePrice"])
	})

	t.Run("FieldPath", func(t *testing.T) {
		got, err := r.Resolve(plan.Reference{Path: "step.1.result.basePrice"})
		require.NoError(t, err)
		assert.Equal(t, 2250.0, got)
	})

	t.Run("PathWithoutResultPrefix", func(t *testing.T) {
		// "step.1.basePrice" addresses the same field.
		got, err := r.Resolve(plan.Reference{Path: "step.1.basePrice"})
		require.NoError(t, err)
		assert.Equal(t, 2250.0, got)
	})

	t.Run("ArrayIndex", func(t *testing.T) {
		got, err := r.Resolve(plan.Reference{Path: "step.1.result.items.1.sku"})
		require.NoError(t, err)
		assert.Equal(t, "B-2", got)
	})

	t.Run("ArrayIndexOutOfRange", func(t *testing.T) {
		_, err := r.Resolve(plan.Reference{Path: "step.1.result.items.5.sku"})
		var notFound *FieldNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "5", notFound.Segment)
	})
}

func TestResolveReferenceErrors(t *testing.T) {
	r := New()
	r.SetResult(1, map[string]interface{}{"name": "x", "scalar": 7})
	r.SetResult(3, nil)

	t.Run("MalformedReference", func(t *testing.T) {
		for _, ref := range []string{"step", "step.0.result", "step.x.result", "result.1", "step.1", "step.-1.result"} {
			_, err := r.Resolve(plan.Reference{Path: ref})
			var invalid *InvalidReferenceError
			require.ErrorAs(t, err, &invalid, "reference %q", ref)
		}
	})

	t.Run("StepNotRecorded", func(t *testing.T) {
		_, err := r.Resolve(plan.Reference{Path: "step.2.result"})
		var notFound *StepResultNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, 2, notFound.StepID)
		assert.Equal(t, []int{1, 3}, notFound.Available)
	})

	t.Run("MissingField", func(t *testing.T) {
		_, err := r.Resolve(plan.Reference{Path: "step.1.result.missing"})
		var notFound *FieldNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "missing", notFound.Segment)
	})

	t.Run("PathIntoScalar", func(t *testing.T) {
		_, err := r.Resolve(plan.Reference{Path: "step.1.result.scalar.deeper"})
		var access *FieldAccessError
		require.ErrorAs(t, err, &access)
	})

	t.Run("PathIntoNil", func(t *testing.T) {
		// A recorded nil is present but cannot be walked into.
		_, err := r.Resolve(plan.Reference{Path: "step.3.result.field"})
		var access *FieldAccessError
		require.ErrorAs(t, err, &access)
	})

	t.Run("RecordedNilResolvesWhole", func(t *testing.T) {
		got, err := r.Resolve(plan.Reference{Path: "step.3.result"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestResolveComposite(t *testing.T) {
	r := New()
	r.SetResult(1, map[string]interface{}{"city": "Osaka"})

	got, err := r.Resolve(plan.Composite{Fields: map[string]plan.ParameterValue{
		"destination": plan.Reference{Path: "step.1.result.city"},
		"nights":      plan.Literal{Value: 3},
		"traveler": plan.Composite{Fields: map[string]plan.ParameterValue{
			"name": plan.Literal{Value: "Aiko"},
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"destination": "Osaka",
		"nights":      3,
		"traveler":    map[string]interface{}{"name": "Aiko"},
	}, got)

	// A failure anywhere in the tree fails the whole composite.
	_, err = r.Resolve(plan.Composite{Fields: map[string]plan.ParameterValue{
		"ok":  plan.Literal{Value: 1},
		"bad": plan.Reference{Path: "step.9.result"},
	}})
	require.Error(t, err)
}

func TestResolveAll(t *testing.T) {
	r := New()
	r.SetResult(1, "done")

	t.Run("AllEntries", func(t *testing.T) {
		got, err := r.ResolveAll(map[string]plan.ParameterValue{
			"prev": plan.Reference{Path: "step.1.result"},
			"n":    plan.Literal{Value: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"prev": "done", "n": 2}, got)
	})

	t.Run("AtomicFailure", func(t *testing.T) {
		got, err := r.ResolveAll(map[string]plan.ParameterValue{
			"ok":  plan.Literal{Value: 1},
			"bad": plan.Reference{Path: "step.2.result"},
		})
		require.Error(t, err)
		assert.Nil(t, got)
		assert.Contains(t, err.Error(), `parameter "bad"`)
		var notFound *StepResultNotFoundError
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestResultPresence(t *testing.T) {
	r := New()
	_, ok := r.GetResult(1)
	assert.False(t, ok)

	// A recorded nil counts as present.
	r.SetResult(1, nil)
	v, ok := r.GetResult(1)
	assert.True(t, ok)
	assert.Nil(t, v)

	// Re-recording overwrites.
	r.SetResult(1, "second")
	v, _ = r.GetResult(1)
	assert.Equal(t, "second", v)

	r.SetResult(4, 1)
	r.SetResult(2, 1)
	assert.Equal(t, []int{1, 2, 4}, r.Available())

	r.Reset()
	_, ok = r.GetResult(1)
	assert.False(t, ok)
	assert.Empty(t, r.Available())
}
