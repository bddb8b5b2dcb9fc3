// Package resolver resolves step parameters against the results
// accumulated during a single plan run. Resolution is synchronous,
// single-threaded and side-effect free beyond the resolver's own map;
// the session layer rebuilds a fresh resolver from persisted results
// on every resume.
package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/stepflow/internal/plan"
)

var referencePattern = regexp.MustCompile(`^step\.([1-9][0-9]*)\.(.+)$`)

// Resolver maps step ids to their recorded result values.
type Resolver struct {
	results map[int]interface{}
}

// New returns an empty resolver.
func New() *Resolver {
	return &Resolver{results: make(map[int]interface{})}
}

// SetResult records or overwrites the result value for a step.
func (r *Resolver) SetResult(stepID int, value interface{}) {
	r.results[stepID] = value
}

// GetResult returns the stored value for a step and whether one was
// ever recorded. A recorded nil is present; an unrecorded step is not.
func (r *Resolver) GetResult(stepID int) (interface{}, bool) {
	v, ok := r.results[stepID]
	return v, ok
}

// Reset drops all recorded results.
func (r *Resolver) Reset() {
	r.results = make(map[int]interface{})
}

// Available returns the recorded step ids in ascending order.
func (r *Resolver) Available() []int {
	ids := make([]int, 0, len(r.results))
	for id := range r.results {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Resolve materializes a parameter value: literals pass through
// unchanged, references are looked up and walked, composites recurse.
func (r *Resolver) Resolve(p plan.ParameterValue) (interface{}, error) {
	switch v := p.(type) {
	case plan.Literal:
		return v.Value, nil
	case plan.Reference:
		return r.resolveReference(v.Path)
	case plan.Composite:
		out := make(map[string]interface{}, len(v.Fields))
		for name, nested := range v.Fields {
			resolved, err := r.Resolve(nested)
			if err != nil {
				return nil, err
			}
			out[name] = resolved
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown parameter value %T", p)
	}
}

// ResolveAll resolves every entry of the mapping. It fails atomically:
// if any entry is unresolvable no partial mapping is returned.
func (r *Resolver) ResolveAll(params map[string]plan.ParameterValue) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(params))
	for name, p := range params {
		resolved, err := r.Resolve(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveReference(ref string) (interface{}, error) {
	m := referencePattern.FindStringSubmatch(ref)
	if m == nil {
		return nil, &InvalidReferenceError{Reference: ref}
	}
	stepID, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, &InvalidReferenceError{Reference: ref}
	}
	value, ok := r.results[stepID]
	if !ok {
		return nil, &StepResultNotFoundError{StepID: stepID, Available: r.Available()}
	}

	rest := m[2]
	if rest == "result" {
		return value, nil
	}
	// "result.<path>" and "<path>" address the same fields.
	path := strings.TrimPrefix(rest, "result.")
	return walkPath(ref, value, strings.Split(path, "."))
}

func walkPath(ref string, value interface{}, segments []string) (interface{}, error) {
	current := value
	for _, seg := range segments {
		switch container := current.(type) {
		case map[string]interface{}:
			v, ok := container[seg]
			if !ok {
				return nil, &FieldNotFoundError{Reference: ref, Segment: seg}
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil, &FieldNotFoundError{Reference: ref, Segment: seg}
			}
			current = container[idx]
		default:
			return nil, &FieldAccessError{Reference: ref, Segment: seg}
		}
	}
	return current, nil
}
