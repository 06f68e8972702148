package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/config"
	"github.com/JakeFAU/crawler-sentinel/internal/logging"
	"github.com/JakeFAU/crawler-sentinel/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build failed", zap.Error(err))
		return err
	}
	return app.Run(ctx)
}
