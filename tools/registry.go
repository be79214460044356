// Package tools implements C2, the Tool Registry and sandboxed Executor:
// a uniform invocation surface over the seven tool categories (filesystem,
// database, code execution, web search, RAG, HTTP API, image generation),
// grounded on the
// teacher's orchestration.AgentCatalog (mutex-guarded map + index, logger
// conventions) and original_source/core/tools/{base,registry}.py (the
// ToolDefinition/ToolExecutionResult shape and the execute-with-validation
// flow, including the permission-gated dispatch in registry.py's
// execute_tool).
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lalo-ai/lalocore/core"
)

// Parameter describes one tool input, mirroring original_source's
// ToolParameter (name/type/description/required/default/enum).
type Parameter struct {
	Name        string
	Type        string // "string", "number", "boolean", "array", "object"
	Description string
	Required    bool
	Default     interface{}
	Enum        []interface{}
}

// Definition is a tool's registration and discovery metadata.
type Definition struct {
	Name             string
	Description      string
	Category         string
	Parameters       []Parameter
	RequiresApproval bool
	CostEstimate     *float64
}

// ExecutionResult is the uniform result every tool invocation returns,
// grounded on original_source's ToolExecutionResult.
type ExecutionResult struct {
	Success       bool
	Output        interface{}
	Error         string
	ExecutionTime time.Duration
	TokensUsed    int
	Cost          float64
	Metadata      map[string]interface{}
}

// Tool is the interface every concrete tool category implements.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, params map[string]interface{}) (ExecutionResult, error)
}

// EnabledTool optionally reports whether a tool is currently usable (e.g.
// the code-exec tool disables itself when its sandbox runtime is absent).
type EnabledTool interface {
	Enabled() bool
}

// Registry is the central tool catalog: discovery, permission requirements,
// enable/disable, and lookup (spec §4.2), grounded on original_source's
// ToolRegistry singleton reshaped into an explicit, mutex-guarded Go type
// rather than a module-level global.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	permissions map[string][]string // tool name -> required permissions (any-of)
	disabled    map[string]bool
	logger      core.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("tool/registry")
	}
	return &Registry{
		tools:       make(map[string]Tool),
		permissions: make(map[string][]string),
		disabled:    make(map[string]bool),
		logger:      logger,
	}
}

// Register adds a tool under the required permissions a caller must hold
// at least one of (spec §4.2). Returns an error if the name is already
// registered or the definition is incomplete.
func (r *Registry) Register(tool Tool, requiredPermissions ...string) error {
	def := tool.Definition()
	if def.Name == "" || def.Description == "" {
		return core.NewEngineError("tools.Register", core.ErrInvalidInput, "tool must have name and description")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return core.NewEngineError("tools.Register", core.ErrInvalidInput, fmt.Sprintf("tool %q already registered", def.Name))
	}

	r.tools[def.Name] = tool
	r.permissions[def.Name] = requiredPermissions
	r.logger.Info("registered tool", map[string]interface{}{"tool": def.Name, "category": def.Category})
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the definitions of every registered tool.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// IsEnabled reports whether the named tool is both registered and not
// disabled, and, for tools that implement EnabledTool, currently usable.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	t, ok := r.tools[name]
	disabled := r.disabled[name]
	r.mu.RUnlock()
	if !ok || disabled {
		return false
	}
	if et, ok := t.(EnabledTool); ok {
		return et.Enabled()
	}
	return true
}

// Enable/Disable toggle a registered tool's availability.
func (r *Registry) Enable(name string)  { r.setDisabled(name, false) }
func (r *Registry) Disable(name string) { r.setDisabled(name, true) }

func (r *Registry) setDisabled(name string, disabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = disabled
}

// RequiredPermissions returns the permission names a principal needs at
// least one of to invoke the named tool.
func (r *Registry) RequiredPermissions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.permissions[name]
}
