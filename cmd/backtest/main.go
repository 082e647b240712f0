// Package main runs a single-strategy, single-symbol backtest over a
// historical date range and prints a performance report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/devraj-patel/tradecore/internal/analytics"
	"github.com/devraj-patel/tradecore/internal/backtest"
	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
	"github.com/devraj-patel/tradecore/internal/storage"
	"github.com/devraj-patel/tradecore/internal/strategy"
)

const dateLayout = "2006-01-02"

func main() {
	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: backtest run --strategy <id> --symbol <symbol> --start <YYYY-MM-DD> --end <YYYY-MM-DD> [--timeframe 5m] [--config path]")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to configuration file")
	strategyID := fs.String("strategy", "", "strategy id to run (required)")
	symbol := fs.String("symbol", "", "symbol to backtest (required)")
	startStr := fs.String("start", "", "range start, YYYY-MM-DD (required)")
	endStr := fs.String("end", "", "range end, YYYY-MM-DD (required)")
	timeframeStr := fs.String("timeframe", "1m", "candle timeframe, e.g. 1m, 5m, 15m")
	fs.Parse(os.Args[2:])

	logger := log.New(os.Stdout, "[backtest] ", log.LstdFlags|log.Lshortfile)

	if *strategyID == "" || *symbol == "" || *startStr == "" || *endStr == "" {
		fmt.Fprintln(os.Stderr, "--strategy, --symbol, --start, and --end are all required")
		os.Exit(2)
	}

	timeframe, err := parseTimeframe(*timeframeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --timeframe: %v\n", err)
		os.Exit(2)
	}

	start, err := time.ParseInLocation(dateLayout, *startStr, market.IST)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --start: %v\n", err)
		os.Exit(2)
	}
	end, err := time.ParseInLocation(dateLayout, *endStr, market.IST)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --end: %v\n", err)
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

	orch := backtest.NewOrchestratorWithSlippage(mgr, cal, "NSE", cfg.Capital, cfg.Risk, cfg.SlippageBps, logger)
	registerStrategies(orch, cfg)

	runID, err := orch.Run(context.Background(), *strategyID, *symbol, start, end, nil, timeframe)
	if err != nil {
		logger.Printf("backtest run failed: %v", err)
		os.Exit(1)
	}

	runStore := storage.NewBacktestRunStore(mgr, runID)
	trades, err := runStore.Trades(context.Background())
	if err != nil {
		logger.Printf("failed to load trades for run %s: %v", runID, err)
		os.Exit(1)
	}

	report := analytics.Analyze(trades, *strategyID, cfg.Capital)
	fmt.Println(analytics.FormatReport(report))
	printTradeTable(trades)

	logger.Printf("run_id=%s trades=%d", runID, len(trades))
}

func registerStrategies(orch *backtest.Orchestrator, cfg *config.Config) {
	register := func(id string, build func(config.RiskConfig, float64) runner.Strategy) {
		orch.RegisterStrategy(id, func(params map[string]any) (runner.Strategy, error) {
			return build(cfg.Risk, cfg.Capital), nil
		})
	}

	register("bollinger_squeeze", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewBollingerSqueezeStrategy(r, c) })
	register("breakout", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewBreakoutStrategy(r, c) })
	register("macd_crossover", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewMACDCrossoverStrategy(r, c) })
	register("mean_reversion", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewMeanReversionStrategy(r, c) })
	register("momentum", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewMomentumStrategy(r, c) })
	register("pullback", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewPullbackStrategy(r, c) })
	register("trend_follow", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewTrendFollowStrategy(r, c) })
	register("vwap_reversion", func(r config.RiskConfig, c float64) runner.Strategy { return strategy.NewVWAPReversionStrategy(r, c) })
}

func printTradeTable(trades []storage.BacktestTradeRow) {
	if len(trades) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Symbol", "Side", "Qty", "Entry", "Exit", "PnL", "Reason")
	for _, t := range trades {
		exitPrice := "-"
		if t.ExitPrice != nil {
			exitPrice = fmt.Sprintf("%.2f", *t.ExitPrice)
		}
		table.Append(
			t.Symbol,
			t.Side,
			fmt.Sprintf("%d", t.Quantity),
			fmt.Sprintf("%.2f", t.EntryPrice),
			exitPrice,
			fmt.Sprintf("%.2f", t.PnL),
			t.ExitReason,
		)
	}
	table.Render()
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
