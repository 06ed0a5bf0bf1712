package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RemoteDriver selects how commands reach the target host
type RemoteDriver string

const (
	RemoteSSH   RemoteDriver = "ssh"
	RemoteLocal RemoteDriver = "local"
)

// VCSDriver selects how local changes are pushed
type VCSDriver string

const (
	VCSGoGit VCSDriver = "go-git"
	VCSShell VCSDriver = "shell"
)

// CacheBustMode defines where the asset reference rewrite runs
type CacheBustMode string

const (
	CacheBustRemote CacheBustMode = "remote"
	CacheBustLocal  CacheBustMode = "local"
	CacheBustOff    CacheBustMode = "off"
)

// Config represents the complete sitepub configuration
type Config struct {
	Remote    RemoteConfig    `yaml:"remote"`
	Repo      RepoConfig      `yaml:"repo"`
	Auth      AuthConfig      `yaml:"auth"`
	Build     BuildConfig     `yaml:"build"`
	CacheBust CacheBustConfig `yaml:"cachebust"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RemoteConfig configures the deployment target
type RemoteConfig struct {
	Driver                RemoteDriver `yaml:"driver"`
	Host                  string       `yaml:"host"`
	Port                  int          `yaml:"port"`
	User                  string       `yaml:"user"`
	Path                  string       `yaml:"path"`
	Activate              string       `yaml:"activate"`
	Shell                 string       `yaml:"shell"`
	SSHKeyFile            string       `yaml:"ssh_key_file"`
	KnownHostsFile        string       `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool         `yaml:"insecure_ignore_host_key"`
}

// RepoConfig configures the canonical source repository
type RepoConfig struct {
	URL      string    `yaml:"url"`
	LocalDir string    `yaml:"local_dir"`
	Branch   string    `yaml:"branch"`
	Driver   VCSDriver `yaml:"driver"`
}

// AuthConfig configures push authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// BuildConfig configures the remote site build
type BuildConfig struct {
	Command   string `yaml:"command"`
	OutputDir string `yaml:"output_dir"`
}

// CacheBustConfig configures the asset reference rewrite
type CacheBustConfig struct {
	Mode          CacheBustMode `yaml:"mode"`
	LocalDir      string        `yaml:"local_dir"`
	RemoteCommand string        `yaml:"remote_command"`
	AssetExts     []string      `yaml:"asset_exts"`
	PageExts      []string      `yaml:"page_exts"`
	Param         string        `yaml:"param"`
}

// MetricsConfig configures run metrics export
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Defaults shared with commands that run without a config file.
var (
	DefaultAssetExts = []string{".css"}
	DefaultPageExts  = []string{".html"}
)

const (
	DefaultParam     = "m"
	DefaultOutputDir = "_build/html"
	DefaultShell     = "bash"
)

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables and a leading ~ in string fields
func (c *Config) expandEnv() {
	c.Remote.Host = os.ExpandEnv(c.Remote.Host)
	c.Remote.User = os.ExpandEnv(c.Remote.User)
	c.Remote.Path = os.ExpandEnv(c.Remote.Path)
	c.Remote.Activate = os.ExpandEnv(c.Remote.Activate)
	c.Remote.SSHKeyFile = expandHome(os.ExpandEnv(c.Remote.SSHKeyFile))
	c.Remote.KnownHostsFile = expandHome(os.ExpandEnv(c.Remote.KnownHostsFile))
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Repo.LocalDir = expandHome(os.ExpandEnv(c.Repo.LocalDir))
	c.Repo.Branch = os.ExpandEnv(c.Repo.Branch)
	c.Auth.SSHKeyFile = expandHome(os.ExpandEnv(c.Auth.SSHKeyFile))
	c.Auth.HTTPSTokenFile = expandHome(os.ExpandEnv(c.Auth.HTTPSTokenFile))
	c.Build.Command = os.ExpandEnv(c.Build.Command)
	c.Build.OutputDir = os.ExpandEnv(c.Build.OutputDir)
	c.CacheBust.LocalDir = expandHome(os.ExpandEnv(c.CacheBust.LocalDir))
	c.CacheBust.RemoteCommand = os.ExpandEnv(c.CacheBust.RemoteCommand)
	c.Metrics.Textfile = expandHome(os.ExpandEnv(c.Metrics.Textfile))
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Remote.Driver == "" {
		c.Remote.Driver = RemoteSSH
	}
	if c.Remote.Port == 0 {
		c.Remote.Port = 22
	}
	if c.Remote.Shell == "" {
		c.Remote.Shell = DefaultShell
	}
	if c.Remote.KnownHostsFile == "" && !c.Remote.InsecureIgnoreHostKey {
		c.Remote.KnownHostsFile = expandHome("~/.ssh/known_hosts")
	}
	if c.Repo.LocalDir == "" {
		c.Repo.LocalDir = "."
	}
	if c.Repo.Driver == "" {
		c.Repo.Driver = VCSGoGit
	}
	if c.Build.OutputDir == "" {
		c.Build.OutputDir = DefaultOutputDir
	}
	if c.CacheBust.Mode == "" {
		c.CacheBust.Mode = CacheBustRemote
	}
	if len(c.CacheBust.AssetExts) == 0 {
		c.CacheBust.AssetExts = append([]string(nil), DefaultAssetExts...)
	}
	if len(c.CacheBust.PageExts) == 0 {
		c.CacheBust.PageExts = append([]string(nil), DefaultPageExts...)
	}
	if c.CacheBust.Param == "" {
		c.CacheBust.Param = DefaultParam
	}
	if c.CacheBust.RemoteCommand == "" {
		c.CacheBust.RemoteCommand = "sitepub refresh-css --dir " + c.Build.OutputDir
	}
	if c.CacheBust.LocalDir == "" && c.Remote.Path != "" {
		c.CacheBust.LocalDir = c.OutputPath()
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate remote target
	switch c.Remote.Driver {
	case RemoteSSH:
		if c.Remote.Host == "" {
			return fmt.Errorf("remote.host is required for the ssh driver")
		}
		if c.Remote.User == "" {
			return fmt.Errorf("remote.user is required for the ssh driver")
		}
		if c.Remote.Port < 1 || c.Remote.Port > 65535 {
			return fmt.Errorf("remote.port out of range: %d", c.Remote.Port)
		}
	case RemoteLocal:
		// valid
	default:
		return fmt.Errorf("invalid remote.driver: %s (must be ssh or local)", c.Remote.Driver)
	}
	if c.Remote.Path == "" {
		return fmt.Errorf("remote.path is required")
	}
	if !filepath.IsAbs(c.Remote.Path) {
		return fmt.Errorf("remote.path must be an absolute path: %s", c.Remote.Path)
	}

	// Validate repo config
	if c.Repo.URL == "" {
		return fmt.Errorf("repo.url is required")
	}
	switch c.Repo.Driver {
	case VCSGoGit, VCSShell:
		// valid
	default:
		return fmt.Errorf("invalid repo.driver: %s (must be go-git or shell)", c.Repo.Driver)
	}

	// Validate build
	if c.Build.Command == "" {
		return fmt.Errorf("build.command is required")
	}
	if filepath.IsAbs(c.Build.OutputDir) {
		return fmt.Errorf("build.output_dir must be relative to remote.path: %s", c.Build.OutputDir)
	}

	// Validate cache-busting
	switch c.CacheBust.Mode {
	case CacheBustRemote, CacheBustOff:
		// valid
	case CacheBustLocal:
		if c.CacheBust.LocalDir == "" {
			return fmt.Errorf("cachebust.local_dir is required in local mode")
		}
	default:
		return fmt.Errorf("invalid cachebust.mode: %s (must be remote, local, or off)", c.CacheBust.Mode)
	}
	for _, ext := range append(append([]string(nil), c.CacheBust.AssetExts...), c.CacheBust.PageExts...) {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("cachebust extensions must start with a dot: %q", ext)
		}
	}
	if !isQueryKey(c.CacheBust.Param) {
		return fmt.Errorf("cachebust.param must be alphanumeric: %q", c.CacheBust.Param)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but repo.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but repo.url does not use HTTPS scheme")
	}

	return nil
}

func isQueryKey(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// OutputPath returns the absolute path of the built site on the target
func (c *Config) OutputPath() string {
	return filepath.Join(c.Remote.Path, c.Build.OutputDir)
}

// Address returns host:port for the ssh driver
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Remote.Host, c.Remote.Port)
}

// AuthMethod returns a description of the configured push auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Repo.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Repo.URL, "git@") || strings.HasPrefix(c.Repo.URL, "ssh://")
}
