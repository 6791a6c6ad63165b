// Package wasmrt hosts the in-process language runtimes: a Python
// interpreter compiled to WASM (run through wazero) and an embedded
// in-memory SQL engine. Both are session-scoped: lazily created,
// cached for the playground's lifetime, torn down when it unmounts.
package wasmrt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Interpreter runs Python source and captures stdout/stderr. The
// wazero-backed implementation lives in wazero.go; tests substitute a
// fake.
type Interpreter interface {
	Run(ctx context.Context, source string, stdin io.Reader) (stdout, stderr string, err error)
	Close(ctx context.Context) error
}

// InterpreterFactory creates the interpreter on first use.
type InterpreterFactory func(ctx context.Context) (Interpreter, error)

// PythonRuntime lazily loads and caches one interpreter instance.
// Load is idempotent: concurrent or repeated calls create exactly one
// instance.
type PythonRuntime struct {
	factory InterpreterFactory

	mu     sync.Mutex
	interp Interpreter
}

func NewPythonRuntime(factory InterpreterFactory) *PythonRuntime {
	return &PythonRuntime{factory: factory}
}

// Load instantiates the interpreter if it is not already cached. A
// second call while loaded is a no-op; a failed load is retried on
// the next call.
func (p *PythonRuntime) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interp != nil {
		return nil
	}
	interp, err := p.factory(ctx)
	if err != nil {
		return fmt.Errorf("load python runtime: %w", err)
	}
	p.interp = interp
	return nil
}

// Ready reports whether the interpreter is loaded. Run is gated on
// readiness in the UI; the first Run loads on demand.
func (p *PythonRuntime) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interp != nil
}

// Run executes source with fresh output buffers. inputs are queued
// lines served by a substitute input() in order, each echoed as
// prompt+value so the transcript reads like an interactive session;
// once exhausted input() returns the empty string.
//
// On an execution error the error message is the sole output,
// prefixed "Error: ". On success stderr, if non-empty, is appended
// under an [Error] marker without suppressing stdout.
func (p *PythonRuntime) Run(ctx context.Context, source string, inputs []string) string {
	if err := p.Load(ctx); err != nil {
		return "Error: " + err.Error()
	}
	p.mu.Lock()
	interp := p.interp
	p.mu.Unlock()

	stdout, stderr, err := interp.Run(ctx, wrapWithInputQueue(source, inputs), strings.NewReader(""))
	if err != nil {
		msg := lastLine(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return "Error: " + msg
	}

	out := stdout
	if strings.TrimSpace(stderr) != "" {
		out += "\n[Error]\n" + stderr
	}
	return out
}

// Close releases the cached interpreter. A subsequent Load creates a
// fresh one.
func (p *PythonRuntime) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interp == nil {
		return nil
	}
	err := p.interp.Close(ctx)
	p.interp = nil
	return err
}

// wrapWithInputQueue prepends the substitute input() when queued lines
// were supplied. The queue literal is JSON, which is a valid Python
// list of strings.
func wrapWithInputQueue(source string, inputs []string) string {
	if len(inputs) == 0 {
		return source
	}
	queue, err := json.Marshal(inputs)
	if err != nil {
		return source
	}
	prelude := "_input_queue = " + string(queue) + `
def input(prompt=""):
    if _input_queue:
        _value = _input_queue.pop(0)
        print(str(prompt) + _value)
        return _value
    return ""
`
	return prelude + source
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
