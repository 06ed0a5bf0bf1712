package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPullCommand(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		branch string
		want   string
	}{
		{name: "upstream branch", url: "ssh://git@example.org/site.git", want: "git pull --ff-only 'ssh://git@example.org/site.git'"},
		{name: "explicit branch", url: "git@example.org:site.git", branch: "main", want: "git pull --ff-only 'git@example.org:site.git' 'main'"},
		{name: "quote in url", url: "/srv/it's.git", want: `git pull --ff-only '/srv/it'\''s.git'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PullCommand(tt.url, tt.branch))
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple path", input: "/home/user/.ssh/key", want: "'/home/user/.ssh/key'"},
		{name: "path with spaces", input: "/home/my user/key", want: "'/home/my user/key'"},
		{name: "path with single quote", input: "/home/user's/key", want: "'/home/user'\\''s/key'"},
		{name: "empty string", input: "", want: "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shellQuote(tt.input))
		})
	}
}

func TestSSHUser(t *testing.T) {
	assert.Equal(t, "git", sshUser("git@github.com:org/site.git"))
	assert.Equal(t, "hg", sshUser("ssh://hg@bitbucket.org/org/site"))
	assert.Equal(t, "git", sshUser("ssh://example.org/site.git"))
	assert.Equal(t, "git", sshUser("ssh://example.org/path@weird"))
}
