package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"jobescrow/config"
	"jobescrow/core"
	"jobescrow/observability/logging"
	telemetry "jobescrow/observability/otel"
	"jobescrow/rpc"
	"jobescrow/storage"
	"jobescrow/storage/index"
)

const envVar = "JOBD_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Environment
	}
	logger, closer := logging.Setup("jobd", env, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		Level:      cfg.LogLevel,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "jobd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("jobd stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("jobd stopped")
}

// run opens the ledger, seeds it and serves RPC until ctx is cancelled.
// Startup always completes; ctx only bounds the serving phase.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	setupCtx := context.WithoutCancel(ctx)
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(statePath(cfg))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db)
	if err != nil {
		return err
	}
	defer node.Close()
	node.SetLogger(logger)
	if err := node.SetLifetime(cfg.Jobs.Lifetime()); err != nil {
		return fmt.Errorf("jobs lifetime: %w", err)
	}
	if err := node.ApplyGenesis(setupCtx, &cfg.Genesis); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}

	server, err := rpc.NewServer(node, rpc.Config{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)
	if err != nil {
		return err
	}

	if path := indexPath(cfg); path != "" {
		idx, err := index.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Warn("index close failed", slog.Any("error", err))
			}
		}()
		node.SetIndexer(idx)
		server.SetIndex(idx)
		logger.Info("job index enabled", slog.String("path", path))
	}

	if ctx.Err() != nil {
		logger.Info("jobd cancelled before serving")
		return nil
	}
	logger.Info("jobd starting",
		slog.String("network", cfg.NetworkName),
		slog.String("listen", cfg.ListenAddress),
		slog.String("data_dir", cfg.DataDir))
	if err := server.Serve(ctx, cfg.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func statePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "state")
}

// indexPath resolves a relative index path against the data directory.
func indexPath(cfg *config.Config) string {
	path := strings.TrimSpace(cfg.Index.Path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.DataDir, path)
}
