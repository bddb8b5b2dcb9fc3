package resolver

import (
	"fmt"
	"strings"
)

// ReferenceGrammar is the accepted reference syntax, quoted in
// diagnostics so a malformed plan is easy to correct.
const ReferenceGrammar = "step.<positive-integer>.(result|result.<path>|<path>)"

// InvalidReferenceError reports a reference string that does not match
// the grammar.
type InvalidReferenceError struct {
	Reference string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid reference %q: expected %s", e.Reference, ReferenceGrammar)
}

// StepResultNotFoundError reports a reference into a step that has no
// recorded result yet. Available carries the recorded step ids, sorted,
// for diagnostics.
type StepResultNotFoundError struct {
	StepID    int
	Available []int
}

func (e *StepResultNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no result recorded for step %d (no steps recorded)", e.StepID)
	}
	ids := make([]string, len(e.Available))
	for i, id := range e.Available {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("no result recorded for step %d (recorded steps: %s)", e.StepID, strings.Join(ids, ", "))
}

// FieldNotFoundError reports a path segment missing from the stored
// value.
type FieldNotFoundError struct {
	Reference string
	Segment   string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("reference %q: field %q not found", e.Reference, e.Segment)
}

// FieldAccessError reports an attempt to index into a value that is not
// an object or array, null included.
type FieldAccessError struct {
	Reference string
	Segment   string
}

func (e *FieldAccessError) Error() string {
	return fmt.Sprintf("reference %q: cannot access field %q on a non-object value", e.Reference, e.Segment)
}
