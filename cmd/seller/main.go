// ====================================
// File: cmd/seller/main.go
// ====================================
package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/spl-seller/internal/config"
	"github.com/rovshanmuradov/spl-seller/internal/logger"
	"github.com/rovshanmuradov/spl-seller/internal/seller"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Starting SPL seller")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	if cfg.DebugLogging {
		debugCfg := logger.DefaultConfig()
		debugCfg.Development = true
		if debugLog, err := logger.New(debugCfg); err == nil {
			_ = log.Sync()
			log = debugLog
		}
	}

	runner, err := seller.NewRunner(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize seller", zap.Error(err))
	}

	if err := runner.Run(ctx); err != nil {
		log.Fatal("Seller execution error", zap.Error(err))
	}
}
