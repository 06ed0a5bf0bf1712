package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// LocalRunner implements Runner by shelling out on this machine. It is used
// when sitepub runs on the host that serves the site.
type LocalRunner struct {
	shell  string
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// NewLocalRunner creates a runner that interprets scripts with shell.
// Command output is streamed to stdout and stderr.
func NewLocalRunner(shell string, stdout, stderr io.Writer, logger *slog.Logger) *LocalRunner {
	if shell == "" {
		shell = "sh"
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{shell: shell, stdout: stdout, stderr: stderr, logger: logger}
}

// Run executes command in dir after activate
func (r *LocalRunner) Run(ctx context.Context, dir, activate, command string) error {
	script := Script(dir, activate, command)
	r.logger.Debug("running local command", "shell", r.shell, "script", script)

	cmd := exec.CommandContext(ctx, r.shell, "-c", script)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			return &ExitError{Command: command, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("failed to run %q: %w", command, err)
	}
	return nil
}
