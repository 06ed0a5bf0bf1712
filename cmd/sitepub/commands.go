package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/schaermu/sitepub/internal/cachebust"
	"github.com/schaermu/sitepub/internal/config"
	"github.com/schaermu/sitepub/internal/failure"
	"github.com/schaermu/sitepub/internal/metrics"
	"github.com/schaermu/sitepub/internal/publish"
	"github.com/schaermu/sitepub/internal/remote"
	"github.com/schaermu/sitepub/internal/vcs"
)

var (
	dryRun       bool
	refreshDir   string
	refreshWatch bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Push, pull, build and refresh stylesheet references",
	Long: `Deploy pushes the local working copy to the canonical repository, fast-forwards
the working copy on the target to it, runs the build command there inside the
configured environment activation, and finally refreshes the cache-busting
stamps on the built pages.

Nothing is rolled back when a step fails: fix the cause and run deploy again.`,
	RunE: runDeploy,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh-css",
	Short: "Stamp stylesheet references in built pages with their modification time",
	Long: `Refresh-css rewrites every reference to a stylesheet in the built HTML pages to
carry the stylesheet's modification time as a query parameter, e.g.
href="style.css?m=1700000000". Running it again without changes leaves every
page untouched.

With --dir it works on that directory and needs no config file; this is the
form deploy runs on the target. Without --dir it follows cachebust.mode.`,
	RunE: runRefreshCSS,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	// Create dependencies
	runner, closeRunner := newRunner(cfg, logger)
	defer closeRunner()

	engine := publish.NewEngine(cfg, newPusher(cfg, logger), runner, publish.NewRefresher(cfg, runner, logger), logger, dryRun)
	recorder := newRecorder(cfg)
	if recorder != nil {
		engine.WithRecorder(recorder)
		defer writeMetrics(recorder, cfg.Metrics.Textfile, logger)
	}

	if err := engine.Deploy(ctx); err != nil {
		logger.Error("deploy failed", "step", failure.StepOf(err), "error", err)
		return err
	}
	return nil
}

func runRefreshCSS(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	if refreshDir != "" {
		opts := cachebust.Options{
			Dir:       refreshDir,
			AssetExts: config.DefaultAssetExts,
			PageExts:  config.DefaultPageExts,
			Param:     config.DefaultParam,
		}
		// An explicit config still supplies the extensions and parameter
		if cfgFile != "" {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			opts = cachebustOptions(cfg, refreshDir)
		}
		return refreshDirectory(ctx, cachebust.NewRewriter(opts, logger), logger)
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	if refreshWatch {
		if cfg.CacheBust.Mode != config.CacheBustLocal {
			return failure.New(failure.KindConfig, "", errors.New("--watch needs --dir or cachebust.mode local"))
		}
		return refreshDirectory(ctx, cachebust.NewRewriter(cachebustOptions(cfg, cfg.CacheBust.LocalDir), logger), logger)
	}

	runner, closeRunner := newRunner(cfg, logger)
	defer closeRunner()

	engine := publish.NewEngine(cfg, nil, runner, publish.NewRefresher(cfg, runner, logger), logger, false)
	if err := engine.RefreshCSS(ctx); err != nil {
		logger.Error("refresh failed", "error", err)
		return err
	}
	return nil
}

// refreshDirectory runs one pass, or watches when --watch is set.
func refreshDirectory(ctx context.Context, rw *cachebust.Rewriter, logger *slog.Logger) error {
	if !refreshWatch {
		_, err := rw.Refresh(ctx)
		return err
	}
	return rw.Watch(ctx, func(report *cachebust.Report, err error) {
		if err != nil {
			logger.Error("refresh failed", "error", err)
			return
		}
		logger.Info("refresh completed", "pages_rewritten", report.Rewritten, "references", report.References)
	})
}

func cachebustOptions(cfg *config.Config, dir string) cachebust.Options {
	return cachebust.Options{
		Dir:       dir,
		AssetExts: cfg.CacheBust.AssetExts,
		PageExts:  cfg.CacheBust.PageExts,
		Param:     cfg.CacheBust.Param,
	}
}

// newRunner returns the command runner for the configured target and a
// function releasing its connection.
func newRunner(cfg *config.Config, logger *slog.Logger) (remote.Runner, func()) {
	if cfg.Remote.Driver == config.RemoteLocal {
		return remote.NewLocalRunner(cfg.Remote.Shell, os.Stdout, os.Stderr, logger), func() {}
	}

	r := remote.NewSSHRunner(remote.SSHConfig{
		Address:               cfg.Address(),
		User:                  cfg.Remote.User,
		KeyFile:               cfg.Remote.SSHKeyFile,
		KnownHostsFile:        cfg.Remote.KnownHostsFile,
		InsecureIgnoreHostKey: cfg.Remote.InsecureIgnoreHostKey,
		Shell:                 cfg.Remote.Shell,
	}, os.Stdout, os.Stderr, logger)
	return r, func() {
		if err := r.Close(); err != nil {
			logger.Warn("failed to close ssh connection", "error", err)
		}
	}
}

func newPusher(cfg *config.Config, logger *slog.Logger) vcs.Pusher {
	if cfg.Repo.Driver == config.VCSShell {
		return vcs.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile, logger)
	}
	return vcs.NewGoGitClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile, logger)
}

// newRecorder returns a Prometheus recorder when a textfile is configured.
func newRecorder(cfg *config.Config) *metrics.PrometheusRecorder {
	if cfg.Metrics.Textfile == "" {
		return nil
	}
	return metrics.NewPrometheusRecorder()
}

func writeMetrics(recorder *metrics.PrometheusRecorder, path string, logger *slog.Logger) {
	if err := recorder.WriteTextfile(path); err != nil {
		logger.Warn("failed to write metrics", "path", path, "error", err)
		return
	}
	logger.Debug("metrics written", "path", path)
}
