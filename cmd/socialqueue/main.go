package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialqueue/internal/bootstrap"
	"socialqueue/internal/config"
	"socialqueue/internal/constants"
	"socialqueue/internal/models"
	"socialqueue/internal/service"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes owner addresses)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("socialqueue %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := bootstrap.NewLogger(cfg.LogLevel, *verbose)
	if *verbose {
		logger.Info("Verbose logging enabled - owner addresses will be logged")
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting socialqueue")

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release resources")
		}
	}()

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(updated *models.Config) {
		if !*verbose {
			logger.SetLevel(bootstrap.NewLogger(updated.LogLevel, false).GetLevel())
		}
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped; API tokens will not reload")
		}
	}()

	ctx = service.WithVerboseLogging(ctx, *verbose)

	scheduler, err := service.NewScheduler(app.Scanner, cfg.Scanner.Schedule, logger)
	if err != nil {
		return err
	}
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()

	server := NewServer(cfg, app.Queue, app.Twitter, app.Feed, currentTokens(watcher, cfg), logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		scheduler.Stop()
		<-schedulerDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for in-flight scan ticks")
	}

	logger.Info("Server shutdown completed")
	return nil
}

// currentTokens reads API tokens from the watched config so rotated tokens
// apply without a restart. Before the watcher's first load, and if the file
// becomes unreadable, the startup config is used.
func currentTokens(watcher *config.ConfigWatcher, startup *models.Config) func() map[string]string {
	return func() map[string]string {
		if watcher != nil {
			if cfg := watcher.GetConfig(); cfg != nil {
				return cfg.APITokens
			}
		}
		return startup.APITokens
	}
}
