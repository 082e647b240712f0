// Package main bootstraps the fixed-path storage partitions: trading,
// signals, config, and the backtest run index. Historical and live-buffer
// partitions are created lazily, one per trading day, by their own
// writers — init_db only needs to touch the partitions every other
// binary assumes already exist.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "[init_db] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("failed to load config: %v", err)
		os.Exit(2)
	}

	mgr, err := storage.NewManager(cfg.Paths.StorageRoot)
	if err != nil {
		logger.Printf("failed to initialize storage manager at %q: %v", cfg.Paths.StorageRoot, err)
		os.Exit(1)
	}

	ctx := context.Background()

	trading := storage.NewTradingStore(mgr, "trading/trading.db")
	signals := storage.NewSignalsStore(mgr, "signals/signals.db")
	configStore := storage.NewConfigStore(mgr, "config/config.db")
	backtestIdx := storage.NewBacktestIndex(mgr, "backtest/index.db")

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"trading/trading.db", trading.EnsureSchema},
		{"signals/signals.db", signals.EnsureSchema},
		{"config/config.db", configStore.EnsureSchema},
		{"backtest/index.db", backtestIdx.EnsureSchema},
	}

	failed := false
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			logger.Printf("FAILED: %s: %v", step.name, err)
			failed = true
			continue
		}
		logger.Printf("OK: %s", step.name)
	}

	if failed {
		os.Exit(1)
	}
	logger.Println("all partitions initialized")
}
