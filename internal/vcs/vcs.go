// Package vcs synchronises the site sources with their canonical repository:
// pushing the local working copy and building the command that updates the
// working copy on the deployment target.
package vcs

import (
	"context"
	"errors"
	"strings"
)

// ErrNonFastForward is returned when the canonical repository has commits
// the local branch does not contain.
var ErrNonFastForward = errors.New("push rejected: remote contains commits not present locally")

// Pusher publishes a local branch to the canonical repository
type Pusher interface {
	// Push sends branch (the checked-out branch when empty) of the working
	// copy at dir to url.
	Push(ctx context.Context, dir, url, branch string) error
}

// PullCommand returns the shell command that fast-forwards a remote working
// copy to url. An empty branch pulls the tracked upstream branch.
func PullCommand(url, branch string) string {
	cmd := "git pull --ff-only " + shellQuote(url)
	if branch != "" {
		cmd += " " + shellQuote(branch)
	}
	return cmd
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

func isHTTPSURL(url string) bool {
	return strings.HasPrefix(url, "https://")
}
