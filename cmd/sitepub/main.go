package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/sitepub/internal/config"
	"github.com/schaermu/sitepub/internal/failure"
)

const defaultConfigFile = "sitepub.yaml"

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(failure.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitepub",
	Short: "Publish a documentation site to its host",
	Long: `sitepub pushes the local site sources to their canonical repository, updates
and builds the working copy on the host that serves the site, and stamps every
stylesheet reference in the built pages with the stylesheet's modification time
so browsers fetch changed styles instead of stale cached copies.

Each step runs only after the previous one succeeded. A failure stops the run
and sitepub exits with a status naming the kind of failure:

  7   configuration error
  8   push or pull conflict
  9   remote command failed
  11  filesystem error while rewriting pages`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sitepub %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+defaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Deploy command flags
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Refresh command flags
	refreshCmd.Flags().StringVar(&refreshDir, "dir", "", "rewrite this directory directly, without a config file")
	refreshCmd.Flags().BoolVar(&refreshWatch, "watch", false, "keep running and refresh whenever a stylesheet changes")

	// Add commands
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadConfig loads the env file and the configuration. Every error it
// returns is a config failure.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, failure.New(failure.KindConfig, "", err)
	}

	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		configPath = defaultConfigFile
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, failure.New(failure.KindConfig, "", err)
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.URL,
		"remote_driver", cfg.Remote.Driver,
		"remote_path", cfg.Remote.Path,
		"push_auth", cfg.AuthMethod(),
		"cachebust_mode", cfg.CacheBust.Mode)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
