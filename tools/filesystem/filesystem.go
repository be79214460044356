// Package filesystem implements the sandboxed read/write/list/delete tool
// from spec §4.2, grounded on original_source/core/tools/file_operations.py:
// path-traversal defense via a root-relative join check, a MIME/extension
// allowlist, a byte cap, and a deliberate refusal to delete directories.
package filesystem

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools"
)

var allowedMIMEPrefixes = []string{"text/", "application/json", "application/xml", "image/png", "image/jpeg"}
var allowedTextExtensions = []string{".txt", ".md", ".json", ".csv", ".xml", ".log"}

// Tool is the sandboxed filesystem tool. Root is the sandbox directory every
// relative path is resolved against; MaxBytes bounds both reads and writes.
type Tool struct {
	Root     string
	MaxBytes int64
}

// New builds a filesystem Tool rooted at root, creating it if necessary.
func New(root string, maxBytes int64) (*Tool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Tool{Root: abs, MaxBytes: maxBytes}, nil
}

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "file_operations",
		Description: "Sandboxed file operations within the workspace (read/write/list/delete)",
		Category:    "filesystem",
		Parameters: []tools.Parameter{
			{Name: "op", Type: "string", Description: "Operation: read|write|list|delete", Required: true,
				Enum: []interface{}{"read", "write", "list", "delete"}},
			{Name: "path", Type: "string", Description: "Relative file or directory path under the sandbox root", Required: true},
			{Name: "content", Type: "string", Description: "Content to write (when op=write)", Required: false},
		},
	}
}

// safeJoin resolves rel against root and rejects any path traversal outside
// it, mirroring original_source's _safe_join.
func safeJoin(root, rel string) (string, error) {
	candidate := filepath.Clean(filepath.Join(root, rel))
	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", core.NewEngineError("filesystem.safeJoin", core.ErrSandboxViolation, "path traversal detected; access denied")
	}
	return candidate, nil
}

func isAllowedType(path string) bool {
	m := mime.TypeByExtension(filepath.Ext(path))
	if m == "" {
		for _, ext := range allowedTextExtensions {
			if strings.HasSuffix(path, ext) {
				return true
			}
		}
		return false
	}
	for _, prefix := range allowedMIMEPrefixes {
		if m == prefix || strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	op, _ := params["op"].(string)
	relPath, _ := params["path"].(string)
	content, hasContent := params["content"].(string)

	target, err := safeJoin(t.Root, relPath)
	if err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	switch op {
	case "list":
		return t.list(relPath, target)
	case "read":
		return t.read(relPath, target)
	case "write":
		if !hasContent {
			return fail(core.ErrInvalidInput, "missing content for write")
		}
		return t.write(relPath, target, content)
	case "delete":
		return t.delete(relPath, target)
	default:
		return fail(core.ErrInvalidInput, "unknown operation: "+op)
	}
}

func (t *Tool) list(relPath, target string) (tools.ExecutionResult, error) {
	info, err := os.Stat(target)
	if err != nil {
		return fail(core.ErrNotFound, "path not found")
	}
	if !info.IsDir() {
		return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
			"type": "file", "path": relPath, "size": info.Size(),
		}}, nil
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return fail(core.ErrInternal, err.Error())
	}
	items := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		item := map[string]interface{}{"name": entry.Name(), "is_dir": entry.IsDir()}
		if !entry.IsDir() {
			if fi, err := entry.Info(); err == nil {
				item["size"] = fi.Size()
			}
		}
		items = append(items, item)
	}
	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"type": "dir", "path": relPath, "items": items,
	}}, nil
}

func (t *Tool) read(relPath, target string) (tools.ExecutionResult, error) {
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return fail(core.ErrNotFound, "file not found")
	}
	if !isAllowedType(target) {
		return fail(core.ErrSandboxViolation, "disallowed file type")
	}
	if info.Size() > t.MaxBytes {
		return fail(core.ErrSandboxViolation, "file too large")
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return fail(core.ErrInternal, err.Error())
	}
	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"path": relPath, "content": string(data),
	}}, nil
}

func (t *Tool) write(relPath, target, content string) (tools.ExecutionResult, error) {
	if !isAllowedType(target) {
		return fail(core.ErrSandboxViolation, "disallowed file type for write")
	}
	data := []byte(content)
	if int64(len(data)) > t.MaxBytes {
		return fail(core.ErrSandboxViolation, "content too large")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fail(core.ErrInternal, err.Error())
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fail(core.ErrInternal, err.Error())
	}
	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"path": relPath, "bytes": len(data),
	}}, nil
}

func (t *Tool) delete(relPath, target string) (tools.ExecutionResult, error) {
	info, err := os.Stat(target)
	if err != nil {
		return fail(core.ErrNotFound, "file not found")
	}
	if info.IsDir() {
		return fail(core.ErrSandboxViolation, "refusing to delete directories for safety")
	}
	if err := os.Remove(target); err != nil {
		return fail(core.ErrInternal, err.Error())
	}
	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{"deleted": relPath}}, nil
}

// fail builds a classified ExecutionResult/error pair so core.Kind(err)
// routes through the right case in handler.userFacingMessage instead of
// falling through to the generic internal-error default.
func fail(kind error, msg string) (tools.ExecutionResult, error) {
	err := core.NewEngineError("filesystem", kind, msg)
	return tools.ExecutionResult{Success: false, Error: msg}, err
}
