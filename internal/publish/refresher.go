package publish

import (
	"context"
	"log/slog"

	"github.com/schaermu/sitepub/internal/cachebust"
	"github.com/schaermu/sitepub/internal/config"
	"github.com/schaermu/sitepub/internal/failure"
	"github.com/schaermu/sitepub/internal/remote"
)

// Refresher refreshes the cache-busting stamps of a built site
type Refresher interface {
	// Refresh runs one pass. The report is nil when the pass ran elsewhere.
	Refresh(ctx context.Context) (*cachebust.Report, error)
	// Describe says what Refresh would do, for dry runs.
	Describe() string
}

// NewRefresher returns the refresher for the configured cachebust mode, or
// nil when the refresh is off.
func NewRefresher(cfg *config.Config, runner remote.Runner, logger *slog.Logger) Refresher {
	switch cfg.CacheBust.Mode {
	case config.CacheBustLocal:
		return NewLocalRefresher(cachebust.Options{
			Dir:       cfg.CacheBust.LocalDir,
			AssetExts: cfg.CacheBust.AssetExts,
			PageExts:  cfg.CacheBust.PageExts,
			Param:     cfg.CacheBust.Param,
		}, logger)
	case config.CacheBustRemote:
		return NewRemoteRefresher(runner, cfg.Remote.Path, cfg.Remote.Activate, cfg.CacheBust.RemoteCommand)
	default:
		return nil
	}
}

// LocalRefresher rewrites a site directory on this machine
type LocalRefresher struct {
	rewriter *cachebust.Rewriter
	dir      string
}

func NewLocalRefresher(opts cachebust.Options, logger *slog.Logger) *LocalRefresher {
	return &LocalRefresher{rewriter: cachebust.NewRewriter(opts, logger), dir: opts.Dir}
}

func (r *LocalRefresher) Refresh(ctx context.Context) (*cachebust.Report, error) {
	return r.rewriter.Refresh(ctx)
}

func (r *LocalRefresher) Describe() string {
	return "rewrite asset references in " + r.dir
}

// RemoteRefresher runs the refresh command on the target, where the built
// site lives.
type RemoteRefresher struct {
	runner   remote.Runner
	dir      string
	activate string
	command  string
}

func NewRemoteRefresher(runner remote.Runner, dir, activate, command string) *RemoteRefresher {
	return &RemoteRefresher{runner: runner, dir: dir, activate: activate, command: command}
}

func (r *RemoteRefresher) Refresh(ctx context.Context) (*cachebust.Report, error) {
	if err := r.runner.Run(ctx, r.dir, r.activate, r.command); err != nil {
		return nil, failure.New(failure.KindRemote, "", err)
	}
	return nil, nil
}

func (r *RemoteRefresher) Describe() string {
	return remote.Script(r.dir, r.activate, r.command)
}
