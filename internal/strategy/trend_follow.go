// Package strategy - trend_follow.go implements a trend-following strategy.
//
// It buys strong-trending symbols in bull markets and exits on weakness.
// Stop-loss/target/time-stop exits are handled by the runner itself once a
// position is open (spec §4.11 step 3); this strategy only decides entries
// and the discretionary "trend broke" exit.
//
// Entry rules:
//   - Market regime must be BULL
//   - Trend strength score >= threshold
//   - Breakout quality score >= threshold
//   - Liquidity score >= threshold
//   - Risk score <= threshold (lower is safer)
//
// Exit rules:
//   - Trend strength drops below exit threshold
//   - Market regime changes to BEAR
package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// TrendFollowStrategy implements a simple trend-following strategy.
type TrendFollowStrategy struct {
	MinTrendStrength   float64
	MinBreakoutQuality float64
	MinLiquidity       float64
	MaxRiskScore       float64

	ExitTrendStrength float64

	ATRStopMultiplier float64
	RiskRewardRatio   float64
	HoldBars          int

	// Capital is the notional this strategy instance is allowed to risk
	// per trade; a live deployment sizes this from the portfolio's
	// capital allocation for the strategy.
	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewTrendFollowStrategy creates a trend-following strategy with sensible defaults.
func NewTrendFollowStrategy(riskCfg config.RiskConfig, capital float64) *TrendFollowStrategy {
	return &TrendFollowStrategy{
		MinTrendStrength:   0.6,
		MinBreakoutQuality: 0.5,
		MinLiquidity:       0.4,
		MaxRiskScore:       0.5,
		ExitTrendStrength:  0.3,
		ATRStopMultiplier:  2.0,
		RiskRewardRatio:    2.0,
		HoldBars:           20,
		Capital:            capital,
		RiskConfig:         riskCfg,
		windows:            newSymbolWindows(0),
	}
}

func (s *TrendFollowStrategy) ID() string                        { return "trend_follow_v1" }
func (s *TrendFollowStrategy) PreferredTimeframe() time.Duration { return 15 * time.Minute }

// ProcessBar applies the trend-following rules to the current bar.
func (s *TrendFollowStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *TrendFollowStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime != RegimeBull {
		return nil
	}
	if ctx.MarketRegime.Confidence < 0.6 {
		return nil
	}
	trend := analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 1)
	if trend < s.MinTrendStrength {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "breakout_quality", 1) < s.MinBreakoutQuality {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "liquidity", 1) < s.MinLiquidity {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "risk_score", 0) > s.MaxRiskScore {
		return nil
	}
	if len(bars) < 20 {
		return nil
	}

	atr := CalculateATR(bars, 14)
	entryPrice := bar.Close
	stopLoss := entryPrice - (atr * s.ATRStopMultiplier)
	riskPerShare := entryPrice - stopLoss
	target := entryPrice + (riskPerShare * s.RiskRewardRatio)

	qty := quantityForRisk(s.Capital, s.RiskConfig.MaxRiskPerTradePct, entryPrice, riskPerShare)
	if qty <= 0 {
		return nil
	}

	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalBuy,
		Confidence: trend,
		Metadata: map[string]any{
			"quantity": qty,
			"sl":       stopLoss,
			"tp":       target,
			"h_bars":   s.HoldBars,
		},
	}
}

func (s *TrendFollowStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 1) < s.ExitTrendStrength {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *TrendFollowStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
