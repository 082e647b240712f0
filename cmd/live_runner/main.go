// Package main runs the live trading runtime (C7-C11 wired together): it
// recovers any gap in the live buffer, drives strategies bar-by-bar
// against live (or simulated) data, and pushes approved signals through
// the execution engine to a broker.
//
// Modes:
//   - dry_run: signals are risk-checked and logged, never dispatched.
//   - paper:   dispatched to an in-process simulator that fills at the
//     quoted price.
//   - live:    dispatched to the configured broker. Requires the
//     dual-confirmation safety gate below.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devraj-patel/tradecore/internal/broker"
	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/order"
	"github.com/devraj-patel/tradecore/internal/position"
	"github.com/devraj-patel/tradecore/internal/recovery"
	"github.com/devraj-patel/tradecore/internal/resample"
	"github.com/devraj-patel/tradecore/internal/risk"
	"github.com/devraj-patel/tradecore/internal/runner"
	"github.com/devraj-patel/tradecore/internal/storage"
	"github.com/devraj-patel/tradecore/internal/strategy"
	"github.com/devraj-patel/tradecore/internal/telemetry"
	"github.com/devraj-patel/tradecore/internal/webhook"
)

const exchange = "NSE"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	modeFlag := flag.String("mode", "dry_run", "run mode: dry_run | paper | live")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols to trade (required)")
	strategiesFlag := flag.String("strategies", "", "comma-separated strategy ids to run (required)")
	timeframeFlag := flag.String("timeframe", "1m", "bar timeframe strategies evaluate on, e.g. 1m, 5m, 15m")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus /metrics on (empty disables)")
	flag.Parse()

	logger := log.New(os.Stdout, "[live_runner] ", log.LstdFlags|log.Lshortfile)

	symbols := splitNonEmpty(*symbolsFlag)
	strategyIDs := splitNonEmpty(*strategiesFlag)
	if len(symbols) == 0 || len(strategyIDs) == 0 {
		fmt.Fprintln(os.Stderr, "--symbols and --strategies are both required")
		os.Exit(2)
	}

	var mode execution.Mode
	switch *modeFlag {
	case "dry_run":
		mode = execution.DryRun
	case "paper":
		mode = execution.Paper
	case "live":
		mode = execution.Live
	default:
		fmt.Fprintf(os.Stderr, "invalid --mode %q (expected dry_run, paper, or live)\n", *modeFlag)
		os.Exit(2)
	}

	timeframe, err := parseTimeframe(*timeframeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --timeframe: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("failed to load config: %v", err)
		os.Exit(2)
	}
	logger.Printf("config loaded: broker=%s mode=%s capital=%.2f", cfg.ActiveBroker, *modeFlag, cfg.Capital)

	// ── Live mode safety gate ──
	// Both --confirm-live and ALGO_LIVE_CONFIRMED=true are required to
	// dispatch real orders. config.Load already rejected a live
	// TradingMode missing the env var; this additionally requires the
	// CLI flag and requires the two trading-mode concepts to agree.
	if mode == execution.Live {
		if cfg.TradingMode != config.ModeLive {
			logger.Fatalf("--mode live requires trading_mode: live in config (got %q)", cfg.TradingMode)
		}
		envConfirmed := os.Getenv("ALGO_LIVE_CONFIRMED") == "true"
		if !*confirmLive || !envConfirmed {
			printLiveModeBlocked(*confirmLive, envConfirmed)
			os.Exit(1)
		}
		logger.Println("LIVE MODE ACTIVE — real orders will be placed on the exchange")
	} else {
		logger.Printf("%s MODE — no real money at risk", strings.ToUpper(*modeFlag))
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
	histStore := storage.NewHistoricalStore(mgr)
	tradingStore := storage.NewTradingStore(mgr, "trading/trading.db")
	configStore := storage.NewConfigStore(mgr, "config/config.db")
	query := market.NewQuery(cal, histStore, liveStore, exchange)

	clk := clock.NewRealClock()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		go func() {
			if err := telemetry.Serve(*metricsAddr); err != nil {
				logger.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	runRecovery(ctx, cfg, cal, liveStore, symbols, clk, logger)

	riskMgr := risk.NewManager(cfg.Risk, cfg.Capital)
	cb := risk.NewCircuitBreaker(cfg.Risk.CircuitBreaker, logger)
	positions := position.NewTracker()
	orders := order.NewTracker()
	sectors := loadSectorMap(logger)
	bus := telemetry.NewBus(logger)
	equity := &capitalEquitySource{initial: cfg.Capital, positions: positions}

	var adapter *broker.ExecutionAdapter
	var engineBroker execution.BrokerAdapter
	switch mode {
	case execution.Paper:
		adapter = broker.NewExecutionAdapter(broker.NewPaperBrokerWithSlippage(cfg.Capital, cfg.SlippageBps), logger)
		engineBroker = adapter
	case execution.Live:
		brokerCfg, ok := cfg.BrokerConfig[cfg.ActiveBroker]
		if !ok {
			logger.Fatalf("no broker_config entry for active broker %q", cfg.ActiveBroker)
		}
		configJSON, err := json.Marshal(brokerCfg)
		if err != nil {
			logger.Fatalf("failed to marshal broker config: %v", err)
		}
		b, err := broker.New(cfg.ActiveBroker, configJSON)
		if err != nil {
			logger.Fatalf("failed to initialize broker %q: %v", cfg.ActiveBroker, err)
		}
		adapter = broker.NewExecutionAdapter(b, logger)
		engineBroker = adapter
	case execution.DryRun:
		// No broker: ProcessSignal in DRY_RUN never calls PlaceOrder.
	}

	scopeID := fmt.Sprintf("live-%s", uuid.New().String())
	engine := execution.NewEngine(mode, scopeID, engineBroker, riskMgr, positions, orders, tradingStore, bus, clk, equity, sectors, logger)
	engine.SetCircuitBreaker(cb)

	if err := engine.Rebuild(ctx); err != nil {
		logger.Printf("WARNING: engine rebuild from storage failed: %v", err)
	}

	var whServer *webhook.Server
	if adapter != nil && cfg.Webhook.Enabled {
		whServer = webhook.NewServer(webhook.Config{Port: cfg.Webhook.Port, Path: cfg.Webhook.Path, Enabled: cfg.Webhook.Enabled}, logger)
		whServer.OnOrderUpdate(func(u webhook.OrderUpdate) {
			deliverFillFromUpdate(adapter, u)
		})
		if err := whServer.Start(); err != nil {
			logger.Fatalf("failed to start webhook server: %v", err)
		}
	}

	strategies, err := buildStrategies(strategyIDs, cfg)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Printf("loaded %d strategies over %d symbols, timeframe=%s", len(strategies), len(symbols), timeframe)

	barSource := newBarSource(ctx, timeframe, liveStore, query, cal, symbols, logger)
	r := runner.New(symbols, strategies, barSource, clk, engine, configStore, true, logger)

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnChange(func(old, updated *config.Config) {
		riskMgr.UpdateRiskConfig(updated.Risk)
		cb.UpdateConfig(updated.Risk.CircuitBreaker)
		*cfg = *updated
		logger.Println("[hot-reload] risk config updated")
	})
	if err := watcher.Start(); err != nil {
		logger.Printf("WARNING: config watcher failed to start: %v", err)
	}
	defer watcher.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return r.Run(gctx)
	})
	if adapter != nil {
		g.Go(func() error {
			engine.RunReconciliation(gctx)
			return nil
		})
	}

	logger.Println("live runner started")
	if err := g.Wait(); err != nil {
		logger.Printf("runner stopped with error: %v", err)
	}

	shutdown(engine, whServer, logger)
}

// shutdown waits briefly for in-flight fills to drain, then tears down
// the webhook server.
func shutdown(engine *execution.Engine, whServer *webhook.Server, logger *log.Logger) {
	logger.Println("shutting down, draining pending fills")
	deadline := time.Now().Add(5 * time.Second)
	for engine.PendingFills() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if whServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := whServer.Shutdown(ctx); err != nil {
			logger.Printf("WARNING: webhook shutdown: %v", err)
		}
	}
	logger.Println("shutdown complete")
}

func runRecovery(ctx context.Context, cfg *config.Config, cal *market.Calendar, liveStore *storage.LiveBufferStore, symbols []string, clk clock.Clock, logger *log.Logger) {
	brokerCfg, ok := cfg.BrokerConfig["dhan"]
	if !ok {
		logger.Println("no dhan broker_config for historical backfill — recovery skipped")
		return
	}
	backfill, err := market.NewDhanHistoricalSource(market.DhanDataConfig{
		ClientID:       brokerCfg["client_id"],
		AccessToken:    brokerCfg["access_token"],
		BaseURL:        brokerCfg["base_url"],
		InstrumentFile: brokerCfg["instrument_file"],
	})
	if err != nil {
		logger.Printf("WARNING: historical backfill source unavailable: %v — recovery skipped", err)
		return
	}
	recMgr := recovery.NewManager(cal, liveStore, backfill, liveStore, logger)
	recMgr.Recover(ctx, symbols, clk.Now())
}

func printLiveModeBlocked(confirmLive, envConfirmed bool) {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "  ╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "  ║                    ⚠  LIVE MODE BLOCKED  ⚠                ║")
	fmt.Fprintln(os.Stderr, "  ╠═══════════════════════════════════════════════════════════╣")
	fmt.Fprintln(os.Stderr, "  ║  Live trading requires TWO explicit confirmations:       ║")
	fmt.Fprintln(os.Stderr, "  ║                                                           ║")
	fmt.Fprintln(os.Stderr, "  ║  1. CLI flag:   --confirm-live                            ║")
	fmt.Fprintln(os.Stderr, "  ║  2. Env var:    ALGO_LIVE_CONFIRMED=true                  ║")
	fmt.Fprintln(os.Stderr, "  ║                                                           ║")
	fmt.Fprintln(os.Stderr, "  ║  Example:                                                 ║")
	fmt.Fprintln(os.Stderr, "  ║  ALGO_LIVE_CONFIRMED=true ./live_runner \\                  ║")
	fmt.Fprintln(os.Stderr, "  ║    --mode live --confirm-live --symbols ... \\             ║")
	fmt.Fprintln(os.Stderr, "  ║    --strategies ...                                       ║")
	fmt.Fprintln(os.Stderr, "  ╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(os.Stderr, "")
	if !confirmLive {
		fmt.Fprintln(os.Stderr, "  MISSING: --confirm-live flag")
	}
	if !envConfirmed {
		fmt.Fprintln(os.Stderr, "  MISSING: ALGO_LIVE_CONFIRMED=true environment variable")
	}
	fmt.Fprintln(os.Stderr, "")
}

func deliverFillFromUpdate(adapter *broker.ExecutionAdapter, u webhook.OrderUpdate) {
	if u.Status != broker.OrderStatusCompleted {
		return
	}
	adapter.DeliverFill(execution.FillEvent{
		CorrelationID: u.CorrelationID,
		BrokerOrderID: u.OrderID,
		FillQuantity:  u.FilledQty,
		FillPrice:     u.AveragePrice,
		FillTime:      u.ReceivedAt,
	})
}

// capitalEquitySource reports starting capital plus realized PnL across
// every tracked position as current equity, satisfying execution.EquitySource.
type capitalEquitySource struct {
	mu        sync.Mutex
	initial   float64
	positions *position.Tracker
}

func (e *capitalEquitySource) Equity() risk.EquitySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	realized := 0.0
	for _, p := range e.positions.All() {
		realized += p.RealizedPnL
	}
	return risk.EquitySnapshot{InitialEquity: e.initial, CurrentEquity: e.initial + realized}
}

// loadSectorMap reads sector tags from the stock universe file, for the
// risk gate's sector concentration check. A missing or unparsable file
// disables the check rather than failing startup.
func loadSectorMap(logger *log.Logger) sectorTable {
	data, err := os.ReadFile("config/stock_universe.json")
	if err != nil {
		logger.Printf("[sectors] WARNING: cannot load stock_universe.json: %v — sector limits disabled", err)
		return sectorTable{}
	}
	var universe struct {
		Stocks []struct {
			Symbol string `json:"symbol"`
			Sector string `json:"sector"`
		} `json:"stocks"`
	}
	if err := json.Unmarshal(data, &universe); err != nil {
		logger.Printf("[sectors] WARNING: cannot parse stock_universe.json: %v — sector limits disabled", err)
		return sectorTable{}
	}
	table := make(sectorTable, len(universe.Stocks))
	for _, s := range universe.Stocks {
		table[s.Symbol] = s.Sector
	}
	return table
}

type sectorTable map[string]string

func (t sectorTable) Sector(symbol string) string { return t[symbol] }

func buildStrategies(ids []string, cfg *config.Config) ([]runner.Strategy, error) {
	ctors := map[string]func(config.RiskConfig, float64) runner.Strategy{
		"bollinger_squeeze": func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewBollingerSqueezeStrategy(r, c) },
		"breakout":          func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewBreakoutStrategy(r, c) },
		"macd_crossover":    func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewMACDCrossoverStrategy(r, c) },
		"mean_reversion":    func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewMeanReversionStrategy(r, c) },
		"momentum":          func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewMomentumStrategy(r, c) },
		"pullback":          func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewPullbackStrategy(r, c) },
		"trend_follow":      func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewTrendFollowStrategy(r, c) },
		"vwap_reversion":    func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewVWAPReversionStrategy(r, c) },
	}
	var out []runner.Strategy
	for _, id := range ids {
		ctor, ok := ctors[id]
		if !ok {
			return nil, fmt.Errorf("unknown strategy id %q", id)
		}
		out = append(out, ctor(cfg.Risk, cfg.Capital))
	}
	return out, nil
}

// liveBarSource polls the live buffer for the oldest 1-minute bar not yet
// handed to the caller, per symbol. The runner's own poll loop (every
// 500ms in streaming mode) drives how quickly a new bar is noticed.
type liveBarSource struct {
	mu        sync.Mutex
	liveStore *storage.LiveBufferStore
	cal       *market.Calendar
	lastSeen  map[string]time.Time
}

func newLiveBarSource(liveStore *storage.LiveBufferStore, cal *market.Calendar) *liveBarSource {
	return &liveBarSource{liveStore: liveStore, cal: cal, lastSeen: make(map[string]time.Time)}
}

func (s *liveBarSource) GetNextBar(symbol string) (market.OHLCVBar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(market.IST)
	from, ok := s.lastSeen[symbol]
	if !ok {
		from = s.cal.SessionOpen(now)
	} else {
		from = from.Add(time.Second)
	}

	bars, err := s.liveStore.ReadLiveCandles(context.Background(), symbol, time.Minute, from, now)
	if err != nil || len(bars) == 0 {
		return market.OHLCVBar{}, false
	}
	bar := bars[0]
	s.lastSeen[symbol] = bar.Timestamp
	return bar, true
}

// resampledBarSource hands out bars finalized by a resample.Provider fed
// by a resampleBridge.
type resampledBarSource struct {
	resampler *resample.Provider
}

func (s *resampledBarSource) GetNextBar(symbol string) (market.OHLCVBar, bool) {
	return s.resampler.GetNextBar(symbol)
}

// resampleBridge polls raw 1-minute bars and feeds each one into the
// resampler, the same roll-up-on-next-bar discipline backtest replay uses
// (internal/backtest's replayBarSource), adapted to polling instead of
// sequential replay.
type resampleBridge struct {
	raw       *liveBarSource
	resampler *resample.Provider
	symbols   []string
}

func (b *resampleBridge) run(ctx context.Context, logger *log.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range b.symbols {
				for {
					bar, ok := b.raw.GetNextBar(sym)
					if !ok {
						break
					}
					b.resampler.Feed(sym, bar)
				}
			}
		}
	}
}

func newBarSource(ctx context.Context, timeframe time.Duration, liveStore *storage.LiveBufferStore, query *market.Query, cal *market.Calendar, symbols []string, logger *log.Logger) runner.BarSource {
	raw := newLiveBarSource(liveStore, cal)
	if timeframe <= time.Minute {
		return raw
	}

	resampler := resample.NewProvider(query, cal, timeframe)
	for _, sym := range symbols {
		if _, err := resampler.Prime(ctx, sym, time.Now(), 50); err != nil {
			logger.Printf("resample: priming %s failed: %v", sym, err)
		}
	}
	bridge := &resampleBridge{raw: raw, resampler: resampler, symbols: symbols}
	go bridge.run(ctx, logger)
	return &resampledBarSource{resampler: resampler}
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

func parseTimeframe(s string) (time.Duration, error) {
	switch s {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
