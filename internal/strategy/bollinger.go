// Package strategy - bollinger.go implements a Bollinger Band Squeeze strategy.
//
// The Bollinger Band Squeeze identifies periods of low volatility (tight
// bands) that precede explosive moves. When the bands contract to an extreme
// and price then breaks above the upper band, it signals a high-probability
// breakout.
//
// Entry rules:
//   - Market regime is BULL or SIDEWAYS
//   - Bollinger Bandwidth (on the prior bar) is below the squeeze threshold
//   - Price breaks above the upper band (expansion begins)
//   - Volume confirms the breakout
//   - Trend strength >= threshold
//   - Risk score <= threshold
//   - Liquidity score >= threshold
//   - Sufficient bar history (30+)
//
// Exit rules:
//   - Price falls below the middle band (SMA — momentum lost)
//   - Trend strength collapses below exit threshold
//   - Market regime changes to BEAR
package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// BollingerSqueezeStrategy implements a Bollinger Band squeeze breakout strategy.
type BollingerSqueezeStrategy struct {
	BBPeriod     int     // default 20
	BBMultiplier float64 // default 2.0

	SqueezeBandwidth float64 // max bandwidth for squeeze (default 0.10)
	VolumeMultiplier float64 // default 1.2
	MinTrendStrength float64 // default 0.3
	MaxRiskScore     float64 // default 0.5
	MinLiquidity     float64 // default 0.4

	ExitTrendStrength float64 // default 0.2

	ATRStopMultiplier float64 // default 1.5
	RiskRewardRatio   float64 // default 2.5
	HoldBars          int

	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewBollingerSqueezeStrategy creates a Bollinger squeeze strategy with sensible defaults.
func NewBollingerSqueezeStrategy(riskCfg config.RiskConfig, capital float64) *BollingerSqueezeStrategy {
	return &BollingerSqueezeStrategy{
		BBPeriod:          20,
		BBMultiplier:      2.0,
		SqueezeBandwidth:  0.10,
		VolumeMultiplier:  1.2,
		MinTrendStrength:  0.3,
		MaxRiskScore:      0.5,
		MinLiquidity:      0.4,
		ExitTrendStrength: 0.2,
		ATRStopMultiplier: 1.5,
		RiskRewardRatio:   2.5,
		HoldBars:          15,
		Capital:           capital,
		RiskConfig:        riskCfg,
		windows:           newSymbolWindows(0),
	}
}

func (s *BollingerSqueezeStrategy) ID() string                        { return "bollinger_squeeze_v1" }
func (s *BollingerSqueezeStrategy) PreferredTimeframe() time.Duration { return 15 * time.Minute }

// ProcessBar applies the Bollinger squeeze rules to the current bar.
func (s *BollingerSqueezeStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx, bars), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *BollingerSqueezeStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear || ctx.MarketRegime.Confidence < 0.5 {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 0) < s.MinTrendStrength {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "liquidity", 0) < s.MinLiquidity {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "risk_score", 1) > s.MaxRiskScore {
		return nil
	}
	if len(bars) < 30 {
		return nil
	}

	// Detect the squeeze on the prior bars, before the breakout bar itself.
	prior := bars[:len(bars)-1]
	_, _, _, priorBandwidth := CalculateBollingerBands(prior, s.BBPeriod, s.BBMultiplier)
	if priorBandwidth == 0 || priorBandwidth > s.SqueezeBandwidth {
		return nil
	}

	_, upper, lower, _ := CalculateBollingerBands(bars, s.BBPeriod, s.BBMultiplier)
	if upper == 0 || bar.Close <= upper {
		return nil
	}

	avgVol := AverageVolume(prior, s.BBPeriod)
	if avgVol > 0 && float64(bar.Volume) < avgVol*s.VolumeMultiplier {
		return nil
	}

	atr := CalculateATR(bars, 14)
	entryPrice := bar.Close
	stopLoss := lower
	if stopLoss >= entryPrice {
		stopLoss = entryPrice - (atr * s.ATRStopMultiplier)
	}
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
		Confidence: analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 0),
		Metadata: map[string]any{
			"quantity": qty,
			"sl":       stopLoss,
			"tp":       target,
			"h_bars":   s.HoldBars,
		},
	}
}

func (s *BollingerSqueezeStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if len(bars) >= s.BBPeriod {
		middle, _, _, _ := CalculateBollingerBands(bars, s.BBPeriod, s.BBMultiplier)
		if middle > 0 && bar.Close < middle {
			return s.exitSignal(bar, ctx)
		}
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 1) < s.ExitTrendStrength {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *BollingerSqueezeStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
