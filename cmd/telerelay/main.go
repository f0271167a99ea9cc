package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telerelay/internal/config"
	"telerelay/internal/database"
	"telerelay/internal/filter"
	"telerelay/internal/models"
	"telerelay/internal/privacy"
	"telerelay/internal/ratelimit"
	"telerelay/internal/relay"
	"telerelay/internal/retry"
	"telerelay/internal/stats"
	"telerelay/internal/tracing"
	"telerelay/pkg/telegram"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

const statsFlushInterval = 5 * time.Second

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("telerelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting telerelay")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg)

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	retryCfg := retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	}

	// The database open is retried: on a fresh host the volume may attach a
	// moment after the process starts.
	var db *database.Database
	err = retry.NewBackoff(retryCfg).Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}()

	if err := db.PruneHistory(ctx, cfg.Database.RetentionDays); err != nil {
		logger.WithError(err).Warn("Failed to prune old history rows")
	}

	// The configured keyword list is the source of truth; persist it, then
	// read back so the engine always reflects what the store holds.
	if err := db.SeedFilterRules(ctx, models.FilterRule{Keywords: cfg.Relay.Keywords}); err != nil {
		return fmt.Errorf("failed to persist filter rules: %w", err)
	}
	rules, err := db.LoadFilterRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load filter rules: %w", err)
	}

	tracker := stats.NewTracker(ctx, db, statsFlushInterval, logger)
	tracker.Start(ctx)
	defer tracker.Stop()

	tgClient := telegram.NewClient(telegram.ClientConfig{
		BaseURL:     cfg.Telegram.APIBaseURL,
		BotToken:    cfg.Telegram.BotToken,
		PollTimeout: time.Duration(cfg.Telegram.PollTimeoutSec) * time.Second,
		HTTPTimeout: time.Duration(cfg.Telegram.HTTPTimeoutSec) * time.Second,
	}, logger)

	controller, err := relay.NewController(
		relay.Config{
			SourceChat:      cfg.Relay.SourceChat,
			DestinationChat: cfg.Relay.DestinationChat,
			ForwardMedia:    cfg.Relay.ForwardMedia,
			MinSendInterval: time.Duration(cfg.Relay.DelaySeconds) * time.Second,
			MaxRetries:      cfg.Relay.MaxRetries,
			QueueSize:       cfg.Relay.QueueSize,
			Workers:         cfg.Relay.Workers,
			DrainGrace:      time.Duration(cfg.Relay.DrainGraceSec) * time.Second,
		},
		tgClient,
		filter.NewEngine(rules),
		ratelimit.New(time.Duration(cfg.Relay.DelaySeconds)*time.Second),
		tracker,
		db,
		retryCfg,
		logger,
	)
	if err != nil {
		return fmt.Errorf("invalid relay configuration: %w", err)
	}

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	defer controller.Stop()

	logger.WithFields(logrus.Fields{
		"source":      privacy.MaskChatID(cfg.Relay.SourceChat),
		"destination": privacy.MaskChatID(cfg.Relay.DestinationChat),
		"keywords":    len(rules.Keywords),
	}).Info("Relay pipeline initialized")

	server := NewServer(cfg.Server, controller, db, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func configureLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
		return
	}
	if cfg.LogLevel == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
