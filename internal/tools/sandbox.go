package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// PythonSandboxTool runs a short Python snippet in a subprocess, killed on
// context cancellation or timeout. Grounds end-to-end scenario 4 (a looping
// snippet that must be killed after the per-tool timeout).
type PythonSandboxTool struct {
	Interpreter    string // defaults to "python3"
	ToolTimeout    time.Duration
}

func (t *PythonSandboxTool) Name() string        { return "run_python" }
func (t *PythonSandboxTool) Description() string { return "Executes a short Python snippet and returns its stdout." }
func (t *PythonSandboxTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"code": map[string]any{"type": "string"}},
		"required":   []any{"code"},
	}
}
func (t *PythonSandboxTool) Timeout() time.Duration { return t.ToolTimeout }

func (t *PythonSandboxTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	code, _ := args["code"].(string)
	if code == "" {
		return "", fmt.Errorf("missing code")
	}
	interp := t.Interpreter
	if interp == "" {
		interp = "python3"
	}

	tmp, err := os.CreateTemp("", "sandbox-*.py")
	if err != nil {
		return "", fmt.Errorf("create temp script: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp script: %w", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, interp, tmp.Name())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("timeout: process killed after exceeding the bound")
		}
		return "", fmt.Errorf("execution failed: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// FileReadTool reads a file relative to root, rejecting path escapes.
type FileReadTool struct {
	Root string
}

func (t *FileReadTool) Name() string        { return "read_file" }
func (t *FileReadTool) Description() string { return "Reads a text file under the configured root directory." }
func (t *FileReadTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []any{"path"},
	}
}
func (t *FileReadTool) Timeout() time.Duration { return 5 * time.Second }
func (t *FileReadTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	full, err := safeJoin(t.Root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}
