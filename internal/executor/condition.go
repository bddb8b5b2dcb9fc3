package executor

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/Kocoro-lab/stepflow/internal/plan"
	"github.com/Kocoro-lab/stepflow/internal/resolver"
)

// EvalCondition evaluates a boolean branch expression against recorded
// step results and run variables. The grammar supports comparisons
// (==, !=, <, <=, >, >=), boolean combinators (&&, ||, !), parentheses,
// string/number/bool/null literals, step references in the resolver
// grammar and bare variable names.
func EvalCondition(expr string, r *resolver.Resolver, vars map[string]interface{}) (bool, error) {
	toks, err := lexCondition(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{toks: toks, resolver: r, vars: vars}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if !p.eof() {
		return false, fmt.Errorf("unexpected %q in expression", p.peek().text)
	}
	return truthy(v), nil
}

type condToken struct {
	kind string // num, str, ident, op
	text string
}

func lexCondition(expr string) ([]condToken, error) {
	var toks []condToken
	s := []rune(expr)
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')' || c == '!':
			// "!=" is consumed as one operator below.
			if c == '!' && i+1 < len(s) && s[i+1] == '=' {
				toks = append(toks, condToken{"op", "!="})
				i += 2
				break
			}
			toks = append(toks, condToken{"op", string(c)})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(s) || s[i+1] != c {
				return nil, fmt.Errorf("unexpected %q in expression", string(c))
			}
			toks = append(toks, condToken{"op", string(c) + string(c)})
			i += 2
		case c == '=' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) && s[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "=" {
				return nil, fmt.Errorf("unexpected %q in expression (use ==)", "=")
			}
			toks = append(toks, condToken{"op", op})
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(s) && s[j] != quote {
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string in expression")
			}
			toks = append(toks, condToken{"str", string(s[i+1 : j])})
			i = j + 1
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(s) && unicode.IsDigit(s[i+1])):
			j := i + 1
			for j < len(s) && (unicode.IsDigit(s[j]) || s[j] == '.') {
				j++
			}
			toks = append(toks, condToken{"num", string(s[i:j])})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i + 1
			for j < len(s) && (unicode.IsLetter(s[j]) || unicode.IsDigit(s[j]) || s[j] == '_' || s[j] == '.') {
				j++
			}
			toks = append(toks, condToken{"ident", string(s[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q in expression", string(c))
		}
	}
	return toks, nil
}

type condParser struct {
	toks     []condToken
	pos      int
	resolver *resolver.Resolver
	vars     map[string]interface{}
}

func (p *condParser) eof() bool        { return p.pos >= len(p.toks) }
func (p *condParser) peek() condToken  { return p.toks[p.pos] }
func (p *condParser) next() condToken  { t := p.toks[p.pos]; p.pos++; return t }
func (p *condParser) acceptOp(op string) bool {
	if !p.eof() && p.peek().kind == "op" && p.peek().text == op {
		p.pos++
		return true
	}
	return false
}

func (p *condParser) parseOr() (interface{}, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *condParser) parseAnd() (interface{}, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *condParser) parseUnary() (interface{}, error) {
	if p.acceptOp("!") {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (interface{}, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.eof() || p.peek().kind != "op" {
		return left, nil
	}
	op := p.peek().text
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		p.pos++
	default:
		return left, nil
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return compare(op, left, right)
}

func (p *condParser) parseOperand() (interface{}, error) {
	if p.eof() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.next()
	switch t.kind {
	case "num":
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return f, nil
	case "str":
		return t.text, nil
	case "ident":
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "nil":
			return nil, nil
		}
		if strings.HasPrefix(t.text, "step.") {
			return p.resolver.Resolve(plan.Reference{Path: t.text})
		}
		v, ok := p.vars[t.text]
		if !ok {
			return nil, fmt.Errorf("unknown variable %q", t.text)
		}
		return v, nil
	case "op":
		if t.text == "(" {
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp(")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q in expression", t.text)
}

func compare(op string, left, right interface{}) (interface{}, error) {
	lf, lNum := toFloat(left)
	rf, rNum := toFloat(right)
	switch op {
	case "==":
		if lNum && rNum {
			return lf == rf, nil
		}
		return reflect.DeepEqual(left, right), nil
	case "!=":
		if lNum && rNum {
			return lf != rf, nil
		}
		return !reflect.DeepEqual(left, right), nil
	}
	// Ordering requires two numbers or two strings.
	if lNum && rNum {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot compare %T and %T with %s", left, right, op)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}
