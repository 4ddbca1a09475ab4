package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spsgroup/spsadmin/internal/config"
	"github.com/spsgroup/spsadmin/internal/devapi"
	"github.com/spsgroup/spsadmin/internal/logger"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	srv, err := devapi.New(devapi.Options{
		DSN:         cfg.DevAPI.DSN,
		JWTSecret:   cfg.DevAPI.JWTSecret,
		CORSOrigins: cfg.DevAPI.CORSOrigins,
		Logger:      log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create dev API server")
	}

	log.Info().Str("version", version).Str("seed_user", devapi.SeedEmail).Msg("Starting spsadmin dev API...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx, cfg.DevAPI.Addr); err != nil {
		log.Fatal().Err(err).Msg("Dev API server failed")
	}
}
