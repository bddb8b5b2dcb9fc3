package plan

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadJSON parses and validates a plan document in JSON wire form.
func LoadJSON(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadYAML parses and validates a plan document in YAML form. The
// document is normalized through the JSON wire form so both formats
// share one set of envelope rules.
func LoadYAML(data []byte) (*Plan, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	bridged, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return nil, fmt.Errorf("normalize plan: %w", err)
	}
	return LoadJSON(bridged)
}

// normalizeYAML rewrites map[interface{}]interface{} keys (emitted by
// yaml.v3 for non-string keys) into string-keyed maps so the document
// survives the JSON bridge.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
