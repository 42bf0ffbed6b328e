package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fractary/faber/internal/definition"
)

// Function is an in-process callable exposed to tool definitions. It must
// honor ctx cancellation at its own suspension points.
type Function func(ctx context.Context, params map[string]any) (any, error)

// DefaultFunctionTimeout bounds a function call when the definition sets none.
const DefaultFunctionTimeout = 300 * time.Second

// moduleRegistry maps module names to their callables. Lookup is by exact
// name equality: a definition naming "os_evil" never reaches a module
// registered as "os", and prefix matching is deliberately absent.
type moduleRegistry struct {
	mu      sync.RWMutex
	modules map[string]map[string]Function
}

func newModuleRegistry() *moduleRegistry {
	return &moduleRegistry{modules: make(map[string]map[string]Function)}
}

func (r *moduleRegistry) register(module string, funcs map[string]Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[module]
	if !ok {
		m = make(map[string]Function, len(funcs))
		r.modules[module] = m
	}
	for name, fn := range funcs {
		m[name] = fn
	}
}

func (r *moduleRegistry) lookup(module, function string) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("module %q is not in the function allowlist", module)
	}
	fn, ok := m[function]
	if !ok {
		return nil, fmt.Errorf("function %q not found in module %q", function, module)
	}
	if fn == nil {
		return nil, fmt.Errorf("function %q in module %q is not callable", function, module)
	}
	return fn, nil
}

// executeFunction resolves the callable through the allowlist and invokes
// it on the worker pool under a timeout. A function still running after its
// deadline is abandoned; its result is discarded when it finally returns.
func (e *Executor) executeFunction(ctx context.Context, tool *definition.Tool, params map[string]any) (map[string]any, error) {
	impl := tool.Implementation
	fn, err := e.modules.lookup(impl.Module, impl.Function)
	if err != nil {
		return nil, err
	}

	timeout := DefaultFunctionTimeout
	if impl.TimeoutSeconds > 0 {
		timeout = time.Duration(impl.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.workers.Acquire(callCtx, 1); err != nil {
		return nil, fmt.Errorf("acquire worker: %w", err)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer e.workers.Release(1)
		v, err := fn(callCtx, params)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("%s.%s: %w", impl.Module, impl.Function, out.err)
		}
		return wrapResult(out.value), nil
	case <-callCtx.Done():
		e.logger.Warn("function call abandoned",
			"module", impl.Module,
			"function", impl.Function,
			"timeout", timeout)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s.%s cancelled: %w", impl.Module, impl.Function, ctx.Err())
		}
		return nil, fmt.Errorf("%s.%s timed out after %s", impl.Module, impl.Function, timeout)
	}
}

// wrapResult normalizes a function return value: map results pass through,
// anything else is wrapped as {result: value}.
func wrapResult(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		if _, ok := m["status"]; !ok {
			m["status"] = "success"
		}
		return m
	}
	return map[string]any{"status": "success", "result": v}
}
