// Package remote runs shell commands inside a working directory on the
// deployment target, optionally wrapped in an environment activation step.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// Runner executes a command in dir on the target. When activate is non-empty
// it runs first in the same shell invocation, so whatever it changes (PATH,
// virtualenv, ...) only applies to command.
type Runner interface {
	Run(ctx context.Context, dir, activate, command string) error
}

// ExitError reports a command that ran but exited non-zero
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
}

// Script composes the shell script executed for a Run call.
func Script(dir, activate, command string) string {
	parts := make([]string, 0, 3)
	if dir != "" {
		parts = append(parts, "cd "+ShellQuote(dir))
	}
	if strings.TrimSpace(activate) != "" {
		parts = append(parts, activate)
	}
	parts = append(parts, command)
	return strings.Join(parts, " && ")
}

// shellCommand wraps a script so it is interpreted by shell regardless of the
// login shell on the other end.
func shellCommand(shell, script string) string {
	return shell + " -c " + ShellQuote(script)
}

// ShellQuote wraps s in single quotes, escaping any embedded single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
