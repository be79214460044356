package filesystem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools/filesystem"
)

func TestWriteReadRoundTrip(t *testing.T) {
	tool, err := filesystem.New(t.TempDir(), 1024)
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), map[string]interface{}{
		"op": "write", "path": "notes.txt", "content": "hello",
	})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"op": "read", "path": "notes.txt",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	out := result.Output.(map[string]interface{})
	assert.Equal(t, "hello", out["content"])
}

func TestPathTraversalIsRejected(t *testing.T) {
	tool, err := filesystem.New(t.TempDir(), 1024)
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"op": "read", "path": "../../../etc/passwd",
	})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestDeleteRefusesDirectories(t *testing.T) {
	root := t.TempDir()
	tool, err := filesystem.New(root, 1024)
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), map[string]interface{}{
		"op": "write", "path": "sub/file.txt", "content": "x",
	})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"op": "delete", "path": "sub",
	})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrSandboxViolation.Error(), core.Kind(err))
}

func TestWriteRejectsOversizedContent(t *testing.T) {
	tool, err := filesystem.New(t.TempDir(), 4)
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"op": "write", "path": "big.txt", "content": "too big for the cap",
	})
	require.Error(t, err)
	assert.False(t, result.Success)
}
