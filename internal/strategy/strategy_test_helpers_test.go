package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// makeTestBars builds a rising-price bar series for feeding a strategy's
// ProcessBar one bar at a time.
func makeTestBars(n int, basePrice float64) []market.OHLCVBar {
	bars := make([]market.OHLCVBar, n)
	for i := 0; i < n; i++ {
		price := basePrice + float64(i)*0.5
		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 1,
			High:      price + 2,
			Low:       price - 2,
			Close:     price,
			Volume:    100000,
		}
	}
	return bars
}

func makeTestRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTradePct:      1.0,
		MaxOpenPositions:        5,
		MaxDailyLossPct:         3.0,
		MaxCapitalDeploymentPct: 80.0,
	}
}

// runLastBar feeds every bar in order through the strategy's ProcessBar,
// building up its internal window, and returns whatever signal the final
// bar produces. ctxFn is called fresh for every bar, matching the runner's
// "assembled fresh every bar" contract.
func runLastBar(s runner.Strategy, bars []market.OHLCVBar, ctxFn func(idx int) runner.StrategyContext) (*execution.SignalEvent, error) {
	var sig *execution.SignalEvent
	var err error
	for i, bar := range bars {
		sig, err = s.ProcessBar(bar, ctxFn(i))
		if err != nil {
			return nil, err
		}
	}
	return sig, nil
}
