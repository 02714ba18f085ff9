package step

import (
	"context"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// CustomPluginType is the "custom_plugin" step type.
const CustomPluginType = "custom_plugin"

// CustomPluginHandler delegates execution entirely to the tenant's
// configured PluginExecutor, which runs a managed or WASM plugin and
// returns one of Continue/Complete/RequireInput/Branch/Fail translated
// straight into a StepResult. A plugin returns one of Continue,
// Complete, RequireInput, Branch, or Fail. The concrete WASM runtime
// lives in
// internal/journey/step/plugin, keeping this package free of a wazero
// dependency for policies that never use the step.
type CustomPluginHandler struct{}

// Type implements journey.StepHandler.
func (*CustomPluginHandler) Type() string { return CustomPluginType }

// Execute implements journey.StepHandler.
func (*CustomPluginHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	executor := ec.Services().Plugins
	if executor == nil {
		return journey.Fail("server_error", "custom_plugin: no plugin executor configured"), nil
	}
	pluginRef := ec.ConfigString("plugin")
	if pluginRef == "" {
		return journey.Fail("invalid_request", "custom_plugin: no plugin configured"), nil
	}
	return executor.Invoke(ctx, pluginRef, step.Config, ec.Data(), ec.UserInput())
}
