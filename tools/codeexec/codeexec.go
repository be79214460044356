// Package codeexec implements the sandboxed code execution tool from spec
// §4.2, grounded on original_source/core/tools/code_executor.py: container
// isolation, network disabled, memory/CPU quotas, a ≤300s timeout, and an
// ephemeral read-only workspace — adapted from the original's docker-py
// calls onto github.com/docker/docker's client SDK (already present in the
// example corpus's dependency graph via goadesign-goa-ai's container
// tooling).
package codeexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools"
)

const maxTimeout = 300 * time.Second

// Tool runs untrusted code in ephemeral, network-disabled containers.
type Tool struct {
	client      *client.Client
	available   bool
	timeout     time.Duration
	memoryLimit int64 // bytes
	cpuQuota    int64 // microseconds per 100ms period, docker convention
	pythonImage string
	nodeImage   string
}

// Config mirrors the spec §6 code-exec knobs (CODE_EXEC_TIMEOUT/
// _MEMORY_LIMIT/_CPU_QUOTA).
type Config struct {
	Timeout     time.Duration
	MemoryBytes int64
	CPUQuota    int64
	PythonImage string
	NodeImage   string
}

// New builds a Tool; it probes Docker's availability at construction time
// (original_source's _check_docker_availability) and disables itself
// permanently if the daemon cannot be reached.
func New(cfg Config) *Tool {
	t := &Tool{
		timeout:     cfg.Timeout,
		memoryLimit: cfg.MemoryBytes,
		cpuQuota:    cfg.CPUQuota,
		pythonImage: cfg.PythonImage,
		nodeImage:   cfg.NodeImage,
	}
	if t.timeout <= 0 || t.timeout > maxTimeout {
		t.timeout = 30 * time.Second
	}
	if t.pythonImage == "" {
		t.pythonImage = "python:3.11-slim"
	}
	if t.nodeImage == "" {
		t.nodeImage = "node:18-slim"
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return t
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return t
	}
	t.client = cli
	t.available = true
	return t
}

// Enabled reports whether Docker was reachable at construction.
func (t *Tool) Enabled() bool { return t.available }

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "code_executor",
		Description: "Execute code safely in an isolated container. Supports Python and JavaScript/Node.js. Network access is disabled.",
		Category:    "codeexec",
		Parameters: []tools.Parameter{
			{Name: "code", Type: "string", Description: "The code to execute", Required: true},
			{Name: "language", Type: "string", Description: "python or javascript", Required: true,
				Enum: []interface{}{"python", "javascript", "js", "node"}},
			{Name: "timeout", Type: "number", Description: "Maximum execution time in seconds (max 300)", Required: false},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	if !t.available {
		err := core.NewEngineError("codeexec.Execute", core.ErrDependencyUnavailable, "container runtime is not available")
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	code, _ := params["code"].(string)
	language := normalizeLanguage(fmt.Sprintf("%v", params["language"]))
	if language == "" {
		return tools.ExecutionResult{Success: false, Error: "unsupported language"}, nil
	}

	timeout := t.timeout
	if v, ok := params["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	image, filename := t.pythonImage, "script.py"
	cmd := []string{"python", "/workspace/script.py"}
	if language == "javascript" {
		image, filename = t.nodeImage, "script.js"
		cmd = []string{"node", "/workspace/script.js"}
	}

	workdir, err := os.MkdirTemp("", "lalo-codeexec-*")
	if err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}
	defer os.RemoveAll(workdir)

	if err := os.WriteFile(filepath.Join(workdir, filename), []byte(code), 0o644); err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := t.run(runCtx, image, cmd, workdir)
	elapsed := time.Since(start)

	if runCtx.Err() != nil {
		timeoutErr := core.NewEngineError("codeexec.Execute", core.ErrTimeout, fmt.Sprintf("execution timed out after %s", timeout))
		return tools.ExecutionResult{
			Success: false,
			Error:   timeoutErr.Error(),
			Output:  map[string]interface{}{"stdout": stdout, "stderr": stderr, "exit_code": -1},
		}, timeoutErr
	}
	if err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	return tools.ExecutionResult{
		Success: exitCode == 0,
		Output: map[string]interface{}{
			"stdout": stdout, "stderr": stderr, "exit_code": exitCode, "execution_time_ms": elapsed.Milliseconds(),
		},
		Metadata: map[string]interface{}{"language": language, "timeout": timeout.String()},
	}, nil
}

func (t *Tool) run(ctx context.Context, image string, cmd []string, workdir string) (stdout, stderr string, exitCode int, err error) {
	resp, err := t.client.ContainerCreate(ctx,
		&container.Config{Image: image, Cmd: cmd, WorkingDir: "/workspace"},
		&container.HostConfig{
			NetworkMode: "none",
			Binds:       []string{workdir + ":/workspace:ro"},
			Resources: container.Resources{
				Memory:   t.memoryLimit,
				CPUQuota: t.cpuQuota,
			},
			AutoRemove: true,
		},
		nil, nil, "",
	)
	if err != nil {
		return "", "", -1, err
	}

	if err := t.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", "", -1, err
	}

	statusCh, errCh := t.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", "", -1, err
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		_ = t.client.ContainerStop(context.Background(), resp.ID, container.StopOptions{})
		return "", "", -1, ctx.Err()
	}

	logs, err := t.client.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", exitCode, err
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, logs); err != nil {
		return "", "", exitCode, err
	}
	return outBuf.String(), errBuf.String(), exitCode, nil
}

func normalizeLanguage(lang string) string {
	switch lang {
	case "python":
		return "python"
	case "javascript", "js", "node":
		return "javascript"
	default:
		return ""
	}
}
