// Package tool defines the invocation boundary between planned actions and
// the systems that carry them out. Executors resolve an action's tool by
// name from a Registry and invoke it with the action's bound parameters.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meridian-ops/meridian/internal/types"
)

// Result is the outcome of a single tool invocation.
type Result struct {
	// Success reports whether the invocation achieved its effect.
	Success bool

	// Data carries tool-specific output for downstream consumers.
	Data map[string]any

	// Error describes the failure when Success is false.
	Error string
}

// Invoker executes one named capability. Implementations must be safe for
// concurrent use; executors may invoke independent actions in parallel.
type Invoker interface {
	// Name returns the tool's registry key.
	Name() string

	// Invoke performs the capability with the given parameters. A failed
	// invocation returns a Result with Success false rather than an error;
	// the error return is reserved for infrastructure problems such as a
	// cancelled context.
	Invoke(ctx context.Context, params map[string]any) (Result, error)
}

// Registry resolves tools by name.
//
// Thread-safe: all methods can be called concurrently.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Invoker
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Invoker)}
}

// Register adds a tool under its own name, replacing any previous
// registration with the same name.
func (r *Registry) Register(t Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, types.NewError(types.TOOL_NOT_FOUND, fmt.Sprintf("no tool registered under %q", name))
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// FuncTool adapts a plain function into an Invoker.
type FuncTool struct {
	ToolName string
	Fn       func(ctx context.Context, params map[string]any) (Result, error)
}

// Name returns the tool's registry key.
func (f FuncTool) Name() string { return f.ToolName }

// Invoke calls the wrapped function.
func (f FuncTool) Invoke(ctx context.Context, params map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return f.Fn(ctx, params)
}

// StubRegistry returns a registry in which every named tool succeeds
// immediately, echoing its parameters. Useful for dry runs and tests.
func StubRegistry(names ...string) *Registry {
	r := NewRegistry()
	for _, name := range names {
		r.Register(FuncTool{
			ToolName: name,
			Fn: func(_ context.Context, params map[string]any) (Result, error) {
				return Result{Success: true, Data: params}, nil
			},
		})
	}
	return r
}
