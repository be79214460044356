package tools

import (
	"context"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lalo-ai/lalocore/core"
)

// Executor wraps a Registry with the dispatch pipeline spec §4.2 names:
// existence check, enabled check, permission check, JSON-schema parameter
// validation, invoke, then wrap the result (or panic/error) into a uniform
// ExecutionResult — grounded on original_source's
// ToolRegistry.execute_tool/BaseTool.execute_with_validation.
type Executor struct {
	registry *Registry
	logger   core.Logger
}

// NewExecutor builds an Executor over registry.
func NewExecutor(registry *Registry, logger core.Logger) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("tool/executor")
	}
	return &Executor{registry: registry, logger: logger}
}

// Invoke runs the named tool for principal with params, enforcing the
// permission gate and JSON-schema parameter validation before dispatch.
func (e *Executor) Invoke(ctx context.Context, principal core.Principal, name string, params map[string]interface{}) (ExecutionResult, error) {
	start := time.Now()

	tool, ok := e.registry.Get(name)
	if !ok {
		err := core.NewEngineError("tools.Invoke", core.ErrNotFound, "tool not found: "+name)
		return ExecutionResult{Success: false, Error: err.Error()}, err
	}
	if !e.registry.IsEnabled(name) {
		err := core.NewEngineError("tools.Invoke", core.ErrPermissionDenied, "tool is disabled: "+name)
		return ExecutionResult{Success: false, Error: err.Error()}, err
	}

	required := e.registry.RequiredPermissions(name)
	if len(required) > 0 && !principal.HasAnyPermission(required...) {
		err := core.NewEngineError("tools.Invoke", core.ErrPermissionDenied,
			"principal lacks any of the required permissions for "+name+": "+strings.Join(required, ", "))
		e.logger.WarnWithContext(ctx, "permission denied", map[string]interface{}{"tool": name, "principal": principal.UserID})
		return ExecutionResult{Success: false, Error: err.Error()}, err
	}

	def := tool.Definition()
	if err := validateParams(def, params); err != nil {
		wrapped := core.NewEngineError("tools.Invoke", core.ErrValidationFailed, err.Error())
		return ExecutionResult{Success: false, Error: wrapped.Error()}, wrapped
	}

	result, err := e.safeExecute(ctx, tool, params)
	result.ExecutionTime = time.Since(start)
	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
		e.logger.ErrorWithContext(ctx, "tool execution failed", map[string]interface{}{"tool": name, "error": err.Error()})
		return result, err
	}
	return result, nil
}

// safeExecute recovers a panicking tool into an ExecutionResult, following
// original_source's execute_with_validation guarantee that a tool "should
// not raise exceptions" but is defended against anyway.
func (e *Executor) safeExecute(ctx context.Context, tool Tool, params map[string]interface{}) (result ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewEngineError("tools.Invoke", core.ErrExecutionFailed, "tool panicked")
			result = ExecutionResult{Success: false, Error: err.Error()}
		}
	}()
	return tool.Execute(ctx, params)
}

// validateParams compiles a JSON Schema document from def's parameters and
// validates params against it (spec §4.2's "tool-parameter validation via
// JSON Schema"), catching missing required fields, wrong types, and enum
// violations before the tool body ever runs.
func validateParams(def Definition, params map[string]interface{}) error {
	schemaDoc := buildSchemaDoc(def)

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(def.Name+".json", schemaDoc); err != nil {
		return err
	}
	schema, err := compiler.Compile(def.Name + ".json")
	if err != nil {
		return err
	}
	return schema.Validate(params)
}

func buildSchemaDoc(def Definition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	var required []string

	for _, p := range def.Parameters {
		prop := map[string]interface{}{
			"type":        jsonSchemaType(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func jsonSchemaType(t string) string {
	switch t {
	case "number":
		return "number"
	case "boolean":
		return "boolean"
	case "array":
		return "array"
	case "object":
		return "object"
	default:
		return "string"
	}
}
