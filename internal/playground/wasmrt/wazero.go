package wasmrt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// wazeroInterpreter runs a WASI-compiled Python build. The module is
// compiled once and instantiated per Run.
type wazeroInterpreter struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// WazeroFactory returns an InterpreterFactory that reads the Python
// WASM binary from wasmPath on first load.
func WazeroFactory(wasmPath string) InterpreterFactory {
	return func(ctx context.Context) (Interpreter, error) {
		binary, err := os.ReadFile(wasmPath)
		if err != nil {
			return nil, fmt.Errorf("read python wasm: %w", err)
		}

		rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("instantiate WASI: %w", err)
		}

		compiled, err := rt.CompileModule(ctx, binary)
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("compile python wasm: %w", err)
		}

		return &wazeroInterpreter{runtime: rt, compiled: compiled}, nil
	}
}

func (w *wazeroInterpreter) Run(ctx context.Context, source string, stdin io.Reader) (string, string, error) {
	var stdout, stderr bytes.Buffer

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStdin(stdin).
		WithArgs("python", "-c", source).
		WithName("")

	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, moduleConfig)
	if mod != nil {
		mod.Close(ctx)
	}
	if err != nil {
		// A zero exit is a clean termination, not a failure.
		if exitErr, ok := err.(*sys.ExitError); ok && exitErr.ExitCode() == 0 {
			err = nil
		}
	}
	return stdout.String(), stderr.String(), err
}

func (w *wazeroInterpreter) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}
