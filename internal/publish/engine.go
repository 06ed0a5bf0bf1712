// Package publish deploys a documentation site: it pushes the local sources,
// updates and builds the working copy on the target, then refreshes the
// cache-busting stamps on the built pages.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/schaermu/sitepub/internal/config"
	"github.com/schaermu/sitepub/internal/failure"
	"github.com/schaermu/sitepub/internal/metrics"
	"github.com/schaermu/sitepub/internal/remote"
	"github.com/schaermu/sitepub/internal/vcs"
)

// Step names, as reported in logs, metrics and errors.
const (
	StepPush    = "push"
	StepPull    = "pull"
	StepBuild   = "build"
	StepRefresh = "refresh-css"
)

// step is one unit of a deploy run
type step struct {
	name   string
	kind   failure.Kind // kind used when the error carries none
	detail string       // what the step does, for dry-run output
	run    func(ctx context.Context) error
}

// Engine orchestrates the deploy process
type Engine struct {
	cfg       *config.Config
	pusher    vcs.Pusher
	runner    remote.Runner
	refresher Refresher
	recorder  metrics.Recorder
	logger    *slog.Logger
	dryRun    bool
}

// NewEngine creates a new deploy engine. A nil refresher disables the
// asset reference refresh.
func NewEngine(cfg *config.Config, pusher vcs.Pusher, runner remote.Runner, refresher Refresher, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:       cfg,
		pusher:    pusher,
		runner:    runner,
		refresher: refresher,
		recorder:  metrics.NoopRecorder{},
		logger:    logger,
		dryRun:    dryRun,
	}
}

// WithRecorder sets the metrics recorder
func (e *Engine) WithRecorder(r metrics.Recorder) *Engine {
	if r != nil {
		e.recorder = r
	}
	return e
}

// Deploy pushes, pulls, builds and refreshes, in that order. The first
// failing step stops the run and is returned as a *failure.Error; effects
// of earlier steps are not undone.
func (e *Engine) Deploy(ctx context.Context) error {
	logger := e.logger.With("run_id", uuid.NewString())
	logger.Info("starting deploy",
		"repo", e.cfg.Repo.URL,
		"branch", e.cfg.Repo.Branch,
		"target", e.target(),
		"path", e.cfg.Remote.Path,
		"dry_run", e.dryRun)

	steps := []step{e.pushStep(), e.pullStep(), e.buildStep()}
	if e.refresher != nil {
		steps = append(steps, e.refreshStep())
	} else {
		logger.Info("asset reference refresh disabled", "mode", e.cfg.CacheBust.Mode)
	}

	if err := e.runSteps(ctx, logger, steps); err != nil {
		e.recorder.IncDeploy(outcome(err))
		return err
	}

	if e.dryRun {
		logger.Info("dry-run complete, no changes applied")
		return nil
	}
	e.recorder.IncDeploy(metrics.OutcomeSuccess)
	logger.Info("deploy completed successfully")
	return nil
}

// RefreshCSS runs only the asset reference refresh. It is not a deploy and
// records no deploy outcome.
func (e *Engine) RefreshCSS(ctx context.Context) error {
	logger := e.logger.With("run_id", uuid.NewString())
	if e.refresher == nil {
		logger.Info("asset reference refresh disabled", "mode", e.cfg.CacheBust.Mode)
		return nil
	}
	return e.runSteps(ctx, logger, []step{e.refreshStep()})
}

func (e *Engine) runSteps(ctx context.Context, logger *slog.Logger, steps []step) error {
	for _, s := range steps {
		if e.dryRun {
			logger.Info("dry-run: would run step", "step", s.name, "action", s.detail)
			continue
		}

		logger.Info("running step", "step", s.name)
		start := time.Now()
		err := s.run(ctx)
		elapsed := time.Since(start)
		e.recorder.ObserveStep(s.name, elapsed, err == nil)

		if err != nil {
			err = classify(s, err)
			logger.Error("step failed", "step", s.name, "duration", elapsed, "error", err)
			return err
		}
		logger.Info("step completed", "step", s.name, "duration", elapsed)
	}
	return nil
}

// classify attaches the step name to err, keeping any kind the step's
// collaborator already assigned.
func classify(s step, err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Step == "" {
		fe.Step = s.name
		return fe
	}
	if _, ok := failure.KindOf(err); ok {
		return err
	}
	return failure.New(s.kind, s.name, err)
}

func outcome(err error) string {
	if errors.Is(err, context.Canceled) {
		return metrics.OutcomeCanceled
	}
	return metrics.OutcomeFailed
}

func (e *Engine) pushStep() step {
	repo := e.cfg.Repo
	return step{
		name:   StepPush,
		kind:   failure.KindConflict,
		detail: fmt.Sprintf("push %s to %s", repo.LocalDir, repo.URL),
		run: func(ctx context.Context) error {
			return e.pusher.Push(ctx, repo.LocalDir, repo.URL, repo.Branch)
		},
	}
}

// pullStep updates the target's working copy. A dirty or unreachable working
// copy is a conflict, whatever the exit status.
func (e *Engine) pullStep() step {
	command := vcs.PullCommand(e.cfg.Repo.URL, e.cfg.Repo.Branch)
	return step{
		name:   StepPull,
		kind:   failure.KindConflict,
		detail: remote.Script(e.cfg.Remote.Path, "", command),
		run: func(ctx context.Context) error {
			return e.runner.Run(ctx, e.cfg.Remote.Path, "", command)
		},
	}
}

func (e *Engine) buildStep() step {
	r := e.cfg.Remote
	return step{
		name:   StepBuild,
		kind:   failure.KindRemote,
		detail: remote.Script(r.Path, r.Activate, e.cfg.Build.Command),
		run: func(ctx context.Context) error {
			return e.runner.Run(ctx, r.Path, r.Activate, e.cfg.Build.Command)
		},
	}
}

func (e *Engine) refreshStep() step {
	return step{
		name:   StepRefresh,
		kind:   failure.KindFilesystem,
		detail: e.refresher.Describe(),
		run: func(ctx context.Context) error {
			report, err := e.refresher.Refresh(ctx)
			if report != nil {
				e.recorder.ObserveRewrite(report.Pages, report.Rewritten, report.References)
			}
			return err
		},
	}
}

func (e *Engine) target() string {
	if e.cfg.Remote.Driver == config.RemoteLocal {
		return "local"
	}
	return e.cfg.Remote.User + "@" + e.cfg.Address()
}
