package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools"
)

type echoTool struct{}

func (echoTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "echo",
		Description: "echoes its input",
		Parameters: []tools.Parameter{
			{Name: "message", Type: "string", Description: "text to echo", Required: true},
		},
	}
}

func (echoTool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	return tools.ExecutionResult{Success: true, Output: params["message"]}, nil
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool{}))

	_, ok := reg.Get("echo")
	assert.True(t, ok)
	assert.Len(t, reg.List(), 1)

	err := reg.Register(echoTool{})
	assert.Error(t, err)
}

func TestExecutorRejectsMissingRequiredParam(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool{}))
	exec := tools.NewExecutor(reg, nil)

	_, err := exec.Invoke(context.Background(), core.Principal{UserID: "u1"}, "echo", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err) == false)
}

func TestExecutorEnforcesPermissions(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool{}, "tools:echo"))
	exec := tools.NewExecutor(reg, nil)

	_, err := exec.Invoke(context.Background(), core.Principal{UserID: "u1"}, "echo", map[string]interface{}{"message": "hi"})
	require.Error(t, err)
	assert.True(t, core.IsPermissionError(err))

	principal := core.Principal{UserID: "u1", Permissions: map[string]struct{}{"tools:echo": {}}}
	result, err := exec.Invoke(context.Background(), principal, "echo", map[string]interface{}{"message": "hi"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Output)
}

func TestExecutorRespectsDisabled(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool{}))
	reg.Disable("echo")
	exec := tools.NewExecutor(reg, nil)

	_, err := exec.Invoke(context.Background(), core.Principal{UserID: "u1"}, "echo", map[string]interface{}{"message": "hi"})
	require.Error(t, err)
}

func TestExecutorReturnsNotFoundForUnknownTool(t *testing.T) {
	reg := tools.NewRegistry(nil)
	exec := tools.NewExecutor(reg, nil)

	_, err := exec.Invoke(context.Background(), core.Principal{UserID: "u1"}, "missing", nil)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}
