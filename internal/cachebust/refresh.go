package cachebust

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schaermu/sitepub/internal/failure"
)

const defaultDebounce = 500 * time.Millisecond

// Options configures a rewrite pass
type Options struct {
	Dir       string   // built site root
	AssetExts []string // e.g. .css
	PageExts  []string // e.g. .html
	Param     string   // query parameter carrying the version
	Debounce  time.Duration
}

// Report summarises a rewrite pass
type Report struct {
	Assets     int // assets found
	Pages      int // pages scanned
	Rewritten  int // pages whose content changed
	References int // asset references found across all pages
}

// Rewriter runs cache-busting passes over a built site
type Rewriter struct {
	opts   Options
	logger *slog.Logger
}

// NewRewriter creates a rewriter for opts.Dir
func NewRewriter(opts Options, logger *slog.Logger) *Rewriter {
	if opts.Param == "" {
		opts.Param = "m"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{opts: opts, logger: logger}
}

// Refresh stamps every asset reference in every page under the site root.
// Pages are only written when their content changes. The first I/O error
// aborts the pass; pages written before it keep their new content.
func (r *Rewriter) Refresh(ctx context.Context) (*Report, error) {
	assets, pages, err := Scan(r.opts.Dir, r.opts.AssetExts, r.opts.PageExts)
	if err != nil {
		return nil, failure.New(failure.KindFilesystem, "", fmt.Errorf("scan %s: %w", r.opts.Dir, err))
	}

	report := &Report{Assets: len(assets), Pages: len(pages)}
	r.logger.Info("discovered site files", "dir", r.opts.Dir, "assets", len(assets), "pages", len(pages))
	for _, a := range assets {
		r.logger.Debug("asset version", "asset", a.RelPath, "version", a.Version)
	}

	if len(assets) == 0 {
		return report, nil
	}

	rules := NewRules(assets, r.opts.Param)
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		content, err := os.ReadFile(page)
		if err != nil {
			return report, failure.New(failure.KindFilesystem, "", fmt.Errorf("read %s: %w", page, err))
		}

		updated, refs := rules.Rewrite(content)
		report.References += refs
		if bytes.Equal(updated, content) {
			continue
		}

		if err := writeFileAtomic(page, updated); err != nil {
			return report, failure.New(failure.KindFilesystem, "", fmt.Errorf("write %s: %w", page, err))
		}
		report.Rewritten++
		r.logger.Debug("rewrote page", "page", page, "references", refs)
	}

	r.logger.Info("asset references refreshed",
		"pages_rewritten", report.Rewritten,
		"references", report.References)
	return report, nil
}

// writeFileAtomic replaces path with data via a temp file and rename,
// keeping the original permissions.
func writeFileAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".sitepub-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(info.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
