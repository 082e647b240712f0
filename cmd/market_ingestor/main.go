// Package main runs the market data ingestor (C4): it dials the tick feed,
// buffers and periodically flushes ticks into today's live buffer
// partition, and folds those ticks into 1-minute candles.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/ingest"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/storage"
	"github.com/devraj-patel/tradecore/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols to aggregate (required)")
	wsURL := flag.String("feed-url", "", "tick feed websocket URL (overrides broker_config dhan.feed_url)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus /metrics on (empty disables)")
	flag.Parse()

	logger := log.New(os.Stdout, "[market_ingestor] ", log.LstdFlags|log.Lshortfile)

	symbols := splitNonEmpty(*symbolsFlag)
	if len(symbols) == 0 {
		logger.Println("at least one --symbols entry is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("failed to load config: %v", err)
		os.Exit(2)
	}

	cal, err := market.NewCalendar(cfg.MarketCalendarPath)
	if err != nil {
		logger.Printf("failed to load market calendar: %v", err)
		os.Exit(1)
	}

	mgr, err := storage.NewManager(cfg.Paths.StorageRoot)
	if err != nil {
		logger.Printf("failed to initialize storage manager: %v", err)
		os.Exit(1)
	}
	liveStore := storage.NewLiveBufferStore(mgr)
	clk := clock.NewRealClock()

	feedURL := *wsURL
	if feedURL == "" {
		feedURL = cfg.BrokerConfig[cfg.ActiveBroker]["feed_url"]
	}
	if feedURL == "" {
		logger.Println("no tick feed URL configured (--feed-url or broker_config[active].feed_url)")
		os.Exit(2)
	}

	source := ingest.NewWebSocketTickSource(feedURL, logger)
	buffer := ingest.NewTickBuffer(liveStore, clk, logger)
	aggregator := ingest.NewTickAggregator(liveStore, liveStore, cal, clk, symbols, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		go func() {
			if err := telemetry.Serve(*metricsAddr); err != nil {
				logger.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	ticks := make(chan market.Tick, 256)

	g, gctx := errgroup.WithContext(ctx)

	// Dial the feed and redial on disconnect until the context is cancelled.
	g.Go(func() error {
		for {
			if gctx.Err() != nil {
				return nil
			}
			if err := source.Run(gctx, ticks); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				logger.Printf("tick feed disconnected, redialing in 2s: %v", err)
				time.Sleep(2 * time.Second)
				continue
			}
			return nil
		}
	})

	// Fan incoming ticks into the buffer.
	g.Go(func() error {
		for {
			select {
			case t := <-ticks:
				buffer.Add(t)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		buffer.Run(gctx, 500*time.Millisecond)
		return nil
	})

	g.Go(func() error {
		aggregator.Run(gctx, 500*time.Millisecond)
		return nil
	})

	logger.Printf("ingesting %d symbols from %s", len(symbols), feedURL)
	if err := g.Wait(); err != nil {
		logger.Printf("ingestor stopped with error: %v", err)
		os.Exit(1)
	}

	aggregator.FlushAtSessionClose(context.Background())
	logger.Println("shutdown complete")
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
