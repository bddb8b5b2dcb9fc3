// Package dispatch declares the external capabilities the executor
// consumes: named function dispatch and synchronous input requests.
// Implementations live outside the engine; a local registry, a remote
// protocol client or a composite of several all satisfy Dispatcher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Result is the outcome of one function invocation.
type Result struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Dispatcher executes named functions with resolved parameters.
type Dispatcher interface {
	// Has reports whether the capability can execute the named function.
	Has(name string) bool
	// Execute runs the named function. A failed invocation may be
	// reported either through Result.Success or through the error.
	Execute(ctx context.Context, name string, params map[string]interface{}) (*Result, error)
}

// ErrInputRequired is returned by an InputRequester whose nature is to
// signal that a human must supply the value, so a session-aware caller
// can suspend instead of failing.
var ErrInputRequired = errors.New("user input required")

// InputRequester supplies user-input values synchronously. Used only on
// the non-session path where no persistence is required.
type InputRequester interface {
	RequestInput(ctx context.Context, surfaceID, componentID string) (map[string]interface{}, error)
}

// Func adapts a plain function into the dispatch capability.
type Func func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// FuncMap is a minimal in-process Dispatcher keyed by function name,
// used by tests and embedding programs that bring their own functions.
type FuncMap map[string]Func

func (m FuncMap) Has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m FuncMap) Execute(ctx context.Context, name string, params map[string]interface{}) (*Result, error) {
	fn, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("function %q not registered", name)
	}
	out, err := fn(ctx, params)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Result: out}, nil
}
