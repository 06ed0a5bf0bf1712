// Package failure classifies deployment errors so the CLI can report which
// kind of step failed and exit with a matching status code.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the broad class of a deployment failure.
type Kind string

const (
	KindConfig     Kind = "config"     // invalid or unreadable configuration
	KindConflict   Kind = "conflict"   // a working copy could not be advanced cleanly
	KindRemote     Kind = "remote"     // a remote command exited non-zero or could not run
	KindFilesystem Kind = "filesystem" // unreadable or unwritable file during a rewrite
)

// Error wraps an underlying error with the step that failed and its kind.
type Error struct {
	Kind Kind
	Step string
	Err  error
}

// New wraps err as a failure of the given kind raised by step.
func New(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// StepOf returns the step recorded on the outermost *Error in err's chain.
func StepOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Step
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case KindConfig:
		return 7
	case KindConflict:
		return 8
	case KindRemote:
		return 9
	case KindFilesystem:
		return 11
	default:
		return 1
	}
}
