package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/umflabs/wabridge/pkg/config"
	"github.com/umflabs/wabridge/pkg/daemon"
	"github.com/umflabs/wabridge/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "optional JSON config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		if err := logger.EnableFileLogging(cfg.LogFile); err != nil {
			logger.WarnCF("daemon", "File logging disabled", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	d, err := daemon.New(cfg)
	if err != nil {
		logger.FatalCF("daemon", "Startup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.FatalCF("daemon", "Bridge exited with error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
