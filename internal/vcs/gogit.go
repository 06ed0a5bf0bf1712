package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// anonymousRemote names the in-memory remote used for pushes so the working
// copy's configured remotes are never modified.
const anonymousRemote = "sitepub"

// GoGitClient implements Pusher with go-git, without requiring a git binary
type GoGitClient struct {
	sshKeyFile     string
	httpsTokenFile string
	logger         *slog.Logger
}

// NewGoGitClient creates a pusher. At most one of the credential files is used,
// matched against the URL scheme.
func NewGoGitClient(sshKeyFile, httpsTokenFile string, logger *slog.Logger) *GoGitClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoGitClient{sshKeyFile: sshKeyFile, httpsTokenFile: httpsTokenFile, logger: logger}
}

// Push sends the branch to url
func (c *GoGitClient) Push(ctx context.Context, dir, url, branch string) error {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("open working copy %s: %w", dir, err)
	}

	if branch == "" {
		head, err := repo.Head()
		if err != nil {
			return fmt.Errorf("resolve HEAD: %w", err)
		}
		if !head.Name().IsBranch() {
			return fmt.Errorf("HEAD is detached; set repo.branch to choose what to push")
		}
		branch = head.Name().Short()
	}

	ref := plumbing.NewBranchReferenceName(branch)
	local, err := repo.Reference(ref, true)
	if err != nil {
		return fmt.Errorf("local branch %q: %w", branch, err)
	}

	auth, err := c.authMethod(url)
	if err != nil {
		return err
	}

	remote := git.NewRemote(repo.Storer, &gitcfg.RemoteConfig{Name: anonymousRemote, URLs: []string{url}})
	c.logger.Debug("pushing branch", "branch", branch, "commit", local.Hash().String())

	err = remote.PushContext(ctx, &git.PushOptions{
		RemoteName: anonymousRemote,
		RefSpecs:   []gitcfg.RefSpec{gitcfg.RefSpec(ref.String() + ":" + ref.String())},
		Auth:       auth,
	})
	switch {
	case err == nil:
		c.logger.Info("pushed branch", "branch", branch, "commit", local.Hash().String()[:8])
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		c.logger.Info("canonical repository already up to date", "branch", branch)
		return nil
	case strings.Contains(err.Error(), "non-fast-forward"):
		return fmt.Errorf("%w (%v)", ErrNonFastForward, err)
	default:
		return fmt.Errorf("push %s: %w", branch, err)
	}
}

// authMethod builds go-git credentials matching the URL scheme. A nil method
// lets go-git fall back to its defaults (ssh-agent for ssh URLs).
func (c *GoGitClient) authMethod(url string) (transport.AuthMethod, error) {
	if c.sshKeyFile != "" && isSSHURL(url) {
		keys, err := ssh.NewPublicKeysFromFile(sshUser(url), c.sshKeyFile, os.Getenv("SITEPUB_SSH_PASSPHRASE"))
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from %s: %w", c.sshKeyFile, err)
		}
		return keys, nil
	}

	if c.httpsTokenFile != "" && isHTTPSURL(url) {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
		}
		return &http.BasicAuth{
			Username: "x-access-token",
			Password: strings.TrimSpace(string(token)),
		}, nil
	}

	return nil, nil
}

// sshUser extracts the login from git@host:path or ssh://user@host/path URLs.
func sshUser(url string) string {
	rest := strings.TrimPrefix(url, "ssh://")
	if at := strings.Index(rest, "@"); at > 0 {
		user := rest[:at]
		if !strings.ContainsAny(user, "/:") {
			return user
		}
	}
	return "git"
}
