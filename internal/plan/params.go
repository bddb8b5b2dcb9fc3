package plan

import (
	"encoding/json"
	"fmt"
)

// ParameterKind discriminates the parameter value sum type.
type ParameterKind string

const (
	ParamLiteral   ParameterKind = "literal"
	ParamReference ParameterKind = "reference"
	ParamComposite ParameterKind = "composite"
)

// ParameterValue is a step parameter: a literal, a reference to a
// prior step's result, or a composite mapping of nested parameters.
type ParameterValue interface {
	ParamKind() ParameterKind
}

// Literal carries a value verbatim, including null, zero and empty
// values.
type Literal struct {
	Value interface{} `json:"value"`
}

func (Literal) ParamKind() ParameterKind { return ParamLiteral }

// Reference addresses a prior step's result with the grammar
// step.<positive-integer>.(result|result.<path>|<path>).
type Reference struct {
	Path string `json:"path"`
}

func (Reference) ParamKind() ParameterKind { return ParamReference }

// Composite is a mapping of field names to nested parameter values,
// resolved recursively to a plain mapping of the same shape.
type Composite struct {
	Fields map[string]ParameterValue `json:"fields"`
}

func (Composite) ParamKind() ParameterKind { return ParamComposite }

// paramEnvelope is the wire form of a parameter value.
type paramEnvelope struct {
	Type   ParameterKind              `json:"type"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Path   string                     `json:"path,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

// UnmarshalParameterValue decodes a single wire-form parameter value.
func UnmarshalParameterValue(data []byte) (ParameterValue, error) {
	var env paramEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case ParamLiteral:
		var v interface{}
		if len(env.Value) > 0 {
			if err := json.Unmarshal(env.Value, &v); err != nil {
				return nil, err
			}
		}
		return Literal{Value: v}, nil
	case ParamReference:
		return Reference{Path: env.Path}, nil
	case ParamComposite:
		fields := make(map[string]ParameterValue, len(env.Fields))
		for name, raw := range env.Fields {
			nested, err := UnmarshalParameterValue(raw)
			if err != nil {
				return nil, fmt.Errorf("composite field %q: %w", name, err)
			}
			fields[name] = nested
		}
		return Composite{Fields: fields}, nil
	default:
		return nil, fmt.Errorf("unknown parameter type %q", env.Type)
	}
}

// MarshalParameterValue encodes a parameter value in wire form.
func MarshalParameterValue(p ParameterValue) ([]byte, error) {
	switch v := p.(type) {
	case Literal:
		return json.Marshal(struct {
			Type  ParameterKind `json:"type"`
			Value interface{}   `json:"value"`
		}{ParamLiteral, v.Value})
	case Reference:
		return json.Marshal(struct {
			Type ParameterKind `json:"type"`
			Path string        `json:"path"`
		}{ParamReference, v.Path})
	case Composite:
		fields := make(map[string]json.RawMessage, len(v.Fields))
		for name, nested := range v.Fields {
			raw, err := MarshalParameterValue(nested)
			if err != nil {
				return nil, err
			}
			fields[name] = raw
		}
		return json.Marshal(struct {
			Type   ParameterKind              `json:"type"`
			Fields map[string]json.RawMessage `json:"fields"`
		}{ParamComposite, fields})
	default:
		return nil, fmt.Errorf("unknown parameter value %T", p)
	}
}

// parameterMap exists so map[string]ParameterValue round-trips through
// encoding/json inside step envelopes.
type parameterMap map[string]ParameterValue

func (m parameterMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m))
	for name, p := range m {
		raw, err := MarshalParameterValue(p)
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return json.Marshal(out)
}

func (m *parameterMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(map[string]ParameterValue, len(raw))
	for name, r := range raw {
		p, err := UnmarshalParameterValue(r)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = p
	}
	*m = out
	return nil
}
