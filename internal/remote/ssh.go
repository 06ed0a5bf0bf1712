package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// PassphraseEnv names the variable holding the passphrase of an encrypted key.
const PassphraseEnv = "SITEPUB_SSH_PASSPHRASE"

const dialTimeout = 30 * time.Second

// SSHConfig describes how to reach the target host
type SSHConfig struct {
	Address               string // host:port
	User                  string
	KeyFile               string // empty: use ssh-agent
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Shell                 string
}

// SSHRunner implements Runner over an SSH connection that is opened on the
// first Run and reused until Close.
type SSHRunner struct {
	cfg    SSHConfig
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	mu        sync.Mutex
	client    *ssh.Client
	agentConn net.Conn // ssh-agent socket, when authenticating through the agent
}

// NewSSHRunner creates a runner for the given target. No connection is made
// until the first command runs.
func NewSSHRunner(cfg SSHConfig, stdout, stderr io.Writer, logger *slog.Logger) *SSHRunner {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
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
	return &SSHRunner{cfg: cfg, stdout: stdout, stderr: stderr, logger: logger}
}

// Run executes command in dir after activate on the remote host
func (r *SSHRunner) Run(ctx context.Context, dir, activate, command string) error {
	client, err := r.connect(ctx)
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer func() {
		_ = session.Close()
	}()
	session.Stdout = r.stdout
	session.Stderr = r.stderr

	remoteCmd := shellCommand(r.cfg.Shell, Script(dir, activate, command))
	r.logger.Debug("running remote command", "host", r.cfg.Address, "command", remoteCmd)

	// Closing the session unblocks Wait when the operator interrupts.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGTERM)
			_ = session.Close()
		case <-done:
		}
	}()

	err = session.Run(remoteCmd)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("remote command %q interrupted: %w", command, ctx.Err())
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: command, Code: exitErr.ExitStatus()}
	}
	return fmt.Errorf("remote command %q failed: %w", command, err)
}

// Close closes the underlying connection and the ssh-agent socket, if any
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.client != nil {
		err = r.client.Close()
		r.client = nil
	}
	r.closeAgent()
	return err
}

func (r *SSHRunner) closeAgent() {
	if r.agentConn != nil {
		_ = r.agentConn.Close()
		r.agentConn = nil
	}
}

func (r *SSHRunner) connect(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	clientCfg, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.Address)
	if err != nil {
		r.closeAgent()
		return nil, fmt.Errorf("failed to connect to %s: %w", r.cfg.Address, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, r.cfg.Address, clientCfg)
	if err != nil {
		_ = conn.Close()
		r.closeAgent()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", r.cfg.Address, err)
	}

	r.logger.Info("connected to remote host", "host", r.cfg.Address, "user", r.cfg.User)
	r.client = ssh.NewClient(c, chans, reqs)
	return r.client, nil
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := r.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := r.hostKeyCallback()
	if err != nil {
		r.closeAgent()
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}, nil
}

func (r *SSHRunner) authMethods() ([]ssh.AuthMethod, error) {
	if r.cfg.KeyFile != "" {
		signer, err := loadSigner(r.cfg.KeyFile, os.Getenv(PassphraseEnv))
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("no ssh key configured and SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ssh-agent: %w", err)
	}
	r.agentConn = conn
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, nil
}

func (r *SSHRunner) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if r.cfg.InsecureIgnoreHostKey {
		r.logger.Warn("host key verification disabled", "host", r.cfg.Address)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if r.cfg.KnownHostsFile == "" {
		return nil, fmt.Errorf("known_hosts file is required unless host key checking is disabled")
	}
	cb, err := knownhosts.New(r.cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// loadSigner reads a private key, decrypting it with passphrase when needed
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", path, err)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("ssh key %s is encrypted; set %s", path, PassphraseEnv)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt ssh key %s: %w", path, err)
	}
	return signer, nil
}
