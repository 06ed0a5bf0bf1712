package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ShellClient implements Pusher by shelling out to the git command. It honours
// the operator's git configuration (credential helpers, hooks, signing).
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
	logger         *slog.Logger
}

// NewShellClient creates a new pusher that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string, logger *slog.Logger) *ShellClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
		logger:         logger,
	}
}

// Push runs git push for the branch against url
func (c *ShellClient) Push(ctx context.Context, dir, url, branch string) error {
	refspec := "HEAD"
	if branch != "" {
		ref := "refs/heads/" + branch
		refspec = ref + ":" + ref
	}

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "push", "--porcelain", url, refspec)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}

	c.logger.Debug("running git push", "dir", dir, "refspec", refspec)
	output, err := cmd.CombinedOutput()
	if err != nil {
		out := string(output)
		if strings.Contains(out, "[rejected]") || strings.Contains(out, "non-fast-forward") || strings.Contains(out, "fetch first") {
			return fmt.Errorf("%w: %s", ErrNonFastForward, strings.TrimSpace(out))
		}
		return fmt.Errorf("git push failed: %w: %s", err, strings.TrimSpace(out))
	}
	c.logger.Info("pushed branch", "refspec", refspec)
	return nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && isSSHURL(url) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && isHTTPSURL(url) {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The token travels in the environment and is read by an inline
		// credential helper, never embedded in the command line.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "SITEPUB_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$SITEPUB_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "push").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}
