package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"autoforge/internal/logging"
)

// CommandBackend runs an external generator. The rendered prompt goes to
// the command's stdin, its working directory is the task's output dir,
// and whatever files it leaves behind become the result.
type CommandBackend struct {
	command []string
	timeout time.Duration
}

// NewCommandBackend parses the configured command line. A zero timeout
// falls back to two minutes.
func NewCommandBackend(command string, timeout time.Duration) (*CommandBackend, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("backend command must not be empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommandBackend{command: parts, timeout: timeout}, nil
}

func (c *CommandBackend) Name() string { return "command:" + c.command[0] }

func (c *CommandBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.OutputDir == "" {
		return nil, fmt.Errorf("command backend needs an output dir")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := BuildPrompt(req)
	cmd := exec.CommandContext(runCtx, c.command[0], c.command[1:]...)
	cmd.Dir = req.OutputDir
	cmd.Stdin = strings.NewReader(prompt)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("backend command timed out after %s: %w", c.timeout, runCtx.Err())
		}
		return nil, fmt.Errorf("backend command failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	files, err := collectFiles(req.OutputDir)
	if err != nil {
		return nil, err
	}
	logging.BackendDebug("command backend produced %d files for %s", len(files), req.TaskID)
	return &Result{
		Files:   files,
		Summary: strings.TrimSpace(string(out)),
	}, nil
}
