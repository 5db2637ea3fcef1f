// Command actionlogd serves the action log over HTTP and ingests emitted actions from Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/godamri/helix-actionlog/app"
	"github.com/godamri/helix-actionlog/config"
	"github.com/godamri/helix-actionlog/content"
	"github.com/godamri/helix-actionlog/log"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file, hot-reloaded")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "actionlogd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader := app.NewConfigLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger := log.New(cfg.Log).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	cfgs := config.NewContainer(*cfg)
	reloader := config.NewReloader(loader, cfgs, logger.With("component", "config"))

	ctx := context.Background()
	svc, err := app.Build(ctx, cfgs, reloader, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	// The demo content lives in its own process; here its kinds are describe-only.
	if err := content.RegisterKinds(svc.Registry, nil); err != nil {
		return err
	}

	return app.NewRunner(logger).Run(ctx, svc.Components()...)
}
