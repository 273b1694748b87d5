package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hive/internal/config"
	"hive/internal/daemon"
	"hive/internal/logging"
	"hive/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, configPath, _, err := config.Load(os.Getenv(configEnvVar))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	provider, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = provider.Shutdown(context.Background())
	}()

	d, err := buildDaemon(cfg, configPath, logger, provider)
	if err != nil {
		logging.ErrorWithContext(logger, "create daemon", "daemon_create_failed", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		hint := "check store permissions"
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			hint = "stop the other hived instance first"
		}
		logging.ErrorWithContext(logger, "daemon start", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, hint),
		)
		return
	}
	if addr := d.APIAddr(); addr != "" {
		logger.Info("status API listening", logging.String("address", addr))
	}

	<-ctx.Done()
	logger.Info("hived shutting down")
}
