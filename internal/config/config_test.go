package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sitepub.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
remote:
  host: "173.255.241.59"
  user: "praveen"
  path: "/home/praveen/site"
  activate: "source /home/praveen/.virtualenvs/site/bin/activate"
  known_hosts_file: "/home/praveen/.ssh/known_hosts"

repo:
  url: "ssh://git@example.org/praveen/site.git"

build:
  command: "make html"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Remote.Host != "173.255.241.59" {
		t.Errorf("expected host 173.255.241.59, got %s", cfg.Remote.Host)
	}
	if cfg.Remote.Port != 22 {
		t.Errorf("expected default port 22, got %d", cfg.Remote.Port)
	}
	if cfg.Remote.Driver != RemoteSSH {
		t.Errorf("expected default driver ssh, got %s", cfg.Remote.Driver)
	}
	if cfg.Repo.Driver != VCSGoGit {
		t.Errorf("expected default vcs driver go-git, got %s", cfg.Repo.Driver)
	}
	if cfg.Build.OutputDir != DefaultOutputDir {
		t.Errorf("expected default output dir %s, got %s", DefaultOutputDir, cfg.Build.OutputDir)
	}
	if cfg.CacheBust.Mode != CacheBustRemote {
		t.Errorf("expected default cachebust mode remote, got %s", cfg.CacheBust.Mode)
	}
	if cfg.CacheBust.Param != "m" {
		t.Errorf("expected default param m, got %s", cfg.CacheBust.Param)
	}
	if cfg.CacheBust.RemoteCommand != "sitepub refresh-css --dir _build/html" {
		t.Errorf("unexpected remote command: %s", cfg.CacheBust.RemoteCommand)
	}
	if cfg.CacheBust.LocalDir != "/home/praveen/site/_build/html" {
		t.Errorf("unexpected local dir: %s", cfg.CacheBust.LocalDir)
	}
	if len(cfg.CacheBust.AssetExts) != 1 || cfg.CacheBust.AssetExts[0] != ".css" {
		t.Errorf("unexpected asset exts: %v", cfg.CacheBust.AssetExts)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SITEPUB_TEST_HOST", "docs.example.org")
	t.Setenv("SITEPUB_TEST_ROOT", "/srv/docs")

	path := writeConfig(t, `
remote:
  host: "${SITEPUB_TEST_HOST}"
  user: "deploy"
  path: "${SITEPUB_TEST_ROOT}"
  insecure_ignore_host_key: true
repo:
  url: "https://example.org/docs.git"
build:
  command: "make html"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.Host != "docs.example.org" {
		t.Errorf("expected expanded host, got %s", cfg.Remote.Host)
	}
	if cfg.Remote.Path != "/srv/docs" {
		t.Errorf("expected expanded path, got %s", cfg.Remote.Path)
	}
	if cfg.Remote.KnownHostsFile != "" {
		t.Errorf("known_hosts default must not apply when host keys are ignored, got %s", cfg.Remote.KnownHostsFile)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "remote: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SITEPUB_TEST_FROM_DOTENV=dotenv\nSITEPUB_TEST_PRESET=dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SITEPUB_TEST_PRESET", "process")
	t.Cleanup(func() { _ = os.Unsetenv("SITEPUB_TEST_FROM_DOTENV") })

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	if got := os.Getenv("SITEPUB_TEST_FROM_DOTENV"); got != "dotenv" {
		t.Errorf("expected dotenv value, got %q", got)
	}
	if got := os.Getenv("SITEPUB_TEST_PRESET"); got != "process" {
		t.Errorf("existing variable must not be overridden, got %q", got)
	}

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("empty path should be ignored, got %v", err)
	}
}

func validConfig() Config {
	cfg := Config{
		Remote: RemoteConfig{
			Host: "example.org",
			User: "deploy",
			Path: "/srv/site",
		},
		Repo: RepoConfig{
			URL: "git@example.org:site.git",
		},
		Build: BuildConfig{
			Command: "make html",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing host for ssh",
			mutate:  func(c *Config) { c.Remote.Host = "" },
			wantErr: "remote.host is required",
		},
		{
			name:    "missing user for ssh",
			mutate:  func(c *Config) { c.Remote.User = "" },
			wantErr: "remote.user is required",
		},
		{
			name: "local driver needs no host",
			mutate: func(c *Config) {
				c.Remote.Driver = RemoteLocal
				c.Remote.Host = ""
				c.Remote.User = ""
			},
		},
		{
			name:    "unknown remote driver",
			mutate:  func(c *Config) { c.Remote.Driver = "telnet" },
			wantErr: "invalid remote.driver",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Remote.Port = 70000 },
			wantErr: "remote.port out of range",
		},
		{
			name:    "relative remote path",
			mutate:  func(c *Config) { c.Remote.Path = "srv/site" },
			wantErr: "remote.path must be an absolute path",
		},
		{
			name:    "missing remote path",
			mutate:  func(c *Config) { c.Remote.Path = "" },
			wantErr: "remote.path is required",
		},
		{
			name:    "missing repo URL",
			mutate:  func(c *Config) { c.Repo.URL = "" },
			wantErr: "repo.url is required",
		},
		{
			name:    "unknown vcs driver",
			mutate:  func(c *Config) { c.Repo.Driver = "hg" },
			wantErr: "invalid repo.driver",
		},
		{
			name:    "missing build command",
			mutate:  func(c *Config) { c.Build.Command = "" },
			wantErr: "build.command is required",
		},
		{
			name:    "absolute output dir",
			mutate:  func(c *Config) { c.Build.OutputDir = "/var/www" },
			wantErr: "build.output_dir must be relative",
		},
		{
			name:    "unknown cachebust mode",
			mutate:  func(c *Config) { c.CacheBust.Mode = "sometimes" },
			wantErr: "invalid cachebust.mode",
		},
		{
			name: "local mode without dir",
			mutate: func(c *Config) {
				c.CacheBust.Mode = CacheBustLocal
				c.CacheBust.LocalDir = ""
			},
			wantErr: "cachebust.local_dir is required",
		},
		{
			name:    "extension without dot",
			mutate:  func(c *Config) { c.CacheBust.AssetExts = []string{"css"} },
			wantErr: "must start with a dot",
		},
		{
			name:    "param with query syntax",
			mutate:  func(c *Config) { c.CacheBust.Param = "v=1&m" },
			wantErr: "cachebust.param must be alphanumeric",
		},
		{
			name: "both auth methods",
			mutate: func(c *Config) {
				c.Auth.SSHKeyFile = "/key"
				c.Auth.HTTPSTokenFile = "/token"
			},
			wantErr: "only one of ssh_key_file or https_token_file",
		},
		{
			name:    "https token with ssh URL",
			mutate:  func(c *Config) { c.Auth.HTTPSTokenFile = "/token" },
			wantErr: "does not use HTTPS scheme",
		},
		{
			name: "ssh key with https URL",
			mutate: func(c *Config) {
				c.Repo.URL = "https://example.org/site.git"
				c.Auth.SSHKeyFile = "/key"
			},
			wantErr: "does not use an SSH scheme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthMethod(t *testing.T) {
	cfg := validConfig()
	if got := cfg.AuthMethod(); got != "none" {
		t.Errorf("expected none, got %s", got)
	}
	cfg.Auth.SSHKeyFile = "/key"
	if got := cfg.AuthMethod(); got != "ssh" {
		t.Errorf("expected ssh, got %s", got)
	}
	cfg.Auth = AuthConfig{HTTPSTokenFile: "/token"}
	if got := cfg.AuthMethod(); got != "https" {
		t.Errorf("expected https, got %s", got)
	}
}

func TestURLSchemes(t *testing.T) {
	tests := []struct {
		url       string
		wantSSH   bool
		wantHTTPS bool
	}{
		{url: "git@example.org:site.git", wantSSH: true},
		{url: "ssh://git@example.org/site.git", wantSSH: true},
		{url: "https://example.org/site.git", wantHTTPS: true},
		{url: "/srv/git/site.git"},
	}
	for _, tt := range tests {
		cfg := Config{Repo: RepoConfig{URL: tt.url}}
		if cfg.IsSSH() != tt.wantSSH {
			t.Errorf("IsSSH(%s) = %v, want %v", tt.url, cfg.IsSSH(), tt.wantSSH)
		}
		if cfg.IsHTTPS() != tt.wantHTTPS {
			t.Errorf("IsHTTPS(%s) = %v, want %v", tt.url, cfg.IsHTTPS(), tt.wantHTTPS)
		}
	}
}

func TestOutputPathAndAddress(t *testing.T) {
	cfg := validConfig()
	if got := cfg.OutputPath(); got != "/srv/site/_build/html" {
		t.Errorf("unexpected output path %s", got)
	}
	if got := cfg.Address(); got != "example.org:22" {
		t.Errorf("unexpected address %s", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/.ssh/id_ed25519"); got != filepath.Join(home, ".ssh/id_ed25519") {
		t.Errorf("unexpected expansion %s", got)
	}
	if got := expandHome("/abs/key"); got != "/abs/key" {
		t.Errorf("absolute path must be unchanged, got %s", got)
	}
}
