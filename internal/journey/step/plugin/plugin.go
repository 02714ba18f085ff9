// Package plugin implements a WASM-backed journey.PluginExecutor for
// the custom_plugin step, using
// wazero so no cgo or external process is required to run a tenant's
// plugin module.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/meridianid/authserver/internal/journey"
)

// request is the JSON document written to a plugin module's stdin.
type request struct {
	Config    map[string]any `json:"config"`
	Data      map[string]any `json:"data"`
	UserInput map[string]any `json:"user_input"`
}

// response is the JSON document a plugin module writes to stdout
// (Continue, Complete, RequireInput, Branch, or Fail).
type response struct {
	Action      string         `json:"action"`
	Data        map[string]any `json:"data"`
	Target      string         `json:"target"`
	ViewName    string         `json:"view_name"`
	Code        string         `json:"code"`
	Description string         `json:"description"`
}

// Executor runs registered WASM plugin modules in a shared wazero
// runtime, one fresh module instance per invocation.
type Executor struct {
	runtime  wazero.Runtime
	mu       sync.RWMutex
	compiled map[string]wazero.CompiledModule
}

// NewExecutor constructs an Executor with a fresh wazero runtime and
// the WASI preview1 host imports a typical plugin toolchain (TinyGo,
// Rust) targets.
func NewExecutor(ctx context.Context) (*Executor, error) {
	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("plugin: instantiating WASI: %w", err)
	}
	return &Executor{runtime: runtime, compiled: map[string]wazero.CompiledModule{}}, nil
}

// Register compiles and registers a plugin module's WASM bytes under a
// reference name usable from a journey policy's "plugin" config.
func (e *Executor) Register(ctx context.Context, pluginRef string, wasm []byte) error {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("plugin: compiling %q: %w", pluginRef, err)
	}
	e.mu.Lock()
	e.compiled[pluginRef] = compiled
	e.mu.Unlock()
	return nil
}

// Close releases the underlying wazero runtime and every compiled
// module.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Invoke implements journey.PluginExecutor.
func (e *Executor) Invoke(ctx context.Context, pluginRef string, config, data, userInput map[string]any) (*journey.StepResult, error) {
	e.mu.RLock()
	compiled, ok := e.compiled[pluginRef]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: no module registered for %q", pluginRef)
	}

	in, err := json.Marshal(request{Config: config, Data: data, UserInput: userInput})
	if err != nil {
		return nil, fmt.Errorf("plugin: marshalling request: %w", err)
	}
	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(in)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithName(pluginRef)

	mod, err := e.runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("plugin: running %q: %w (stderr: %s)", pluginRef, err, stderr.String())
	}
	defer mod.Close(ctx)

	var out response
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("plugin: decoding %q output: %w", pluginRef, err)
	}

	switch out.Action {
	case "Continue", "Complete", "":
		return journey.Success(out.Data), nil
	case "RequireInput":
		viewName := out.ViewName
		if viewName == "" {
			viewName = "custom_plugin"
		}
		return journey.ShowUI(viewName, out.Data), nil
	case "Branch":
		return journey.Branch(out.Target, out.Data), nil
	case "Fail":
		return journey.Fail(out.Code, out.Description), nil
	default:
		return nil, fmt.Errorf("plugin: %q returned unknown action %q", pluginRef, out.Action)
	}
}
