// Package strategy - mean_reversion.go implements a mean reversion strategy.
//
// This strategy buys symbols that have dropped to oversold levels, expecting
// a reversion to the mean (N-bar SMA). It works best in BULL or SIDEWAYS
// regimes where price oscillates around its average rather than trending
// persistently in one direction.
//
// Entry rules:
//   - Market regime is BULL or SIDEWAYS
//   - Trend strength < threshold (symbol is NOT trending — necessary for reversion)
//   - RSI(14) < oversold threshold (35)
//   - Current price < N-bar SMA (below the mean)
//   - Risk score <= threshold
//   - Liquidity score >= threshold
//   - Sufficient bar history (30+)
//
// Exit rules:
//   - Price crosses above the SMA (mean reversion target reached)
//   - RSI > overbought threshold (65) (reversion overshot)
//   - Trend strength rises above threshold (symbol started trending — wrong strategy)
//   - Market regime changes to BEAR
package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// MeanReversionStrategy implements a mean reversion strategy.
type MeanReversionStrategy struct {
	MaxTrendStrength     float64 // symbol must NOT be trending (default 0.4)
	RSIOversoldThreshold float64 // default 35
	MaxRiskScore         float64 // default 0.6
	MinLiquidity         float64 // default 0.4
	SMALookback          int     // default 20

	RSIOverboughtThreshold float64 // default 65
	ExitTrendStrength      float64 // default 0.7

	ATRStopMultiplier float64 // default 1.5 (tighter than trend follow)
	RiskRewardRatio   float64 // default 1.5
	HoldBars          int

	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewMeanReversionStrategy creates a mean reversion strategy with sensible defaults.
func NewMeanReversionStrategy(riskCfg config.RiskConfig, capital float64) *MeanReversionStrategy {
	return &MeanReversionStrategy{
		MaxTrendStrength:       0.4,
		RSIOversoldThreshold:   35,
		MaxRiskScore:           0.6,
		MinLiquidity:           0.4,
		SMALookback:            20,
		RSIOverboughtThreshold: 65,
		ExitTrendStrength:      0.7,
		ATRStopMultiplier:      1.5,
		RiskRewardRatio:        1.5,
		HoldBars:               15,
		Capital:                capital,
		RiskConfig:             riskCfg,
		windows:                newSymbolWindows(0),
	}
}

func (s *MeanReversionStrategy) ID() string                        { return "mean_reversion_v1" }
func (s *MeanReversionStrategy) PreferredTimeframe() time.Duration { return 5 * time.Minute }

// ProcessBar applies the mean reversion rules to the current bar.
func (s *MeanReversionStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx, bars), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *MeanReversionStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear || ctx.MarketRegime.Confidence < 0.5 {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 0) >= s.MaxTrendStrength {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "risk_score", 1) > s.MaxRiskScore {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "liquidity", 0) < s.MinLiquidity {
		return nil
	}
	if len(bars) < 30 {
		return nil
	}

	rsi := CalculateRSI(bars, 14)
	if rsi >= s.RSIOversoldThreshold {
		return nil
	}

	sma := CalculateSMA(bars, s.SMALookback)
	if bar.Close >= sma {
		return nil
	}

	atr := CalculateATR(bars, 14)
	entryPrice := bar.Close
	stopLoss := entryPrice - (atr * s.ATRStopMultiplier)
	target := sma
	riskPerShare := entryPrice - stopLoss

	qty := quantityForRisk(s.Capital, s.RiskConfig.MaxRiskPerTradePct, entryPrice, riskPerShare)
	if qty <= 0 {
		return nil
	}

	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalBuy,
		Confidence: 1 - rsi/100,
		Metadata: map[string]any{
			"quantity": qty,
			"sl":       stopLoss,
			"tp":       target,
			"h_bars":   s.HoldBars,
		},
	}
}

func (s *MeanReversionStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if len(bars) >= s.SMALookback && bar.Close > CalculateSMA(bars, s.SMALookback) {
		return s.exitSignal(bar, ctx)
	}
	if len(bars) > 14 && CalculateRSI(bars, 14) > s.RSIOverboughtThreshold {
		return s.exitSignal(bar, ctx)
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 0) > s.ExitTrendStrength {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *MeanReversionStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
