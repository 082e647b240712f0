package strategy

import (
	"testing"
	"time"

	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// makeBreakoutBars creates bars where the last bar breaks above the prior
// N-bar high with high volume.
func makeBreakoutBars(n int, basePrice float64) []market.OHLCVBar {
	bars := make([]market.OHLCVBar, n)
	for i := 0; i < n; i++ {
		price := basePrice + float64(i)*0.5
		vol := int64(100000)
		if i == n-1 {
			price = basePrice + float64(n)*2.0 // well above prior highs
			vol = 300000                       // 3x normal volume
		}
		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 1,
			High:      price + 2,
			Low:       price - 2,
			Close:     price,
			Volume:    vol,
		}
	}
	return bars
}

func TestBreakout_SkipsSidewaysRegime(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig(), 500000)
	bars := makeBreakoutBars(50, 100)

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeSideways, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"breakout_quality": 0.9,
				"trend_strength":   0.7,
				"liquidity":        0.8,
				"risk_score":       0.2,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no signal in SIDEWAYS regime, got %+v", sig)
	}
}

func TestBreakout_SkipsLowBreakoutQuality(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig(), 500000)
	bars := makeBreakoutBars(50, 100)

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"breakout_quality": 0.4, // below 0.7 threshold
				"trend_strength":   0.7,
				"liquidity":        0.8,
				"risk_score":       0.2,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no signal for low breakout quality, got %+v", sig)
	}
}

func TestBreakout_BuysOnVolumeBreakout(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig(), 500000)
	bars := makeBreakoutBars(50, 100)

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"breakout_quality": 0.9,
				"trend_strength":   0.7,
				"liquidity":        0.8,
				"risk_score":       0.2,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.SignalType != execution.SignalBuy {
		t.Fatalf("expected BUY on breakout, got %+v", sig)
	}
	sl, _ := sig.Metadata["sl"].(float64)
	tp, _ := sig.Metadata["tp"].(float64)
	if sl <= 0 {
		t.Error("expected stop loss to be set")
	}
	if tp <= sl {
		t.Error("expected target above stop loss")
	}
}

func TestBreakout_SkipsLowVolume(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig(), 500000)

	bars := make([]market.OHLCVBar, 50)
	for i := 0; i < 50; i++ {
		price := 100.0 + float64(i)*0.5
		vol := int64(100000)
		if i == 49 {
			price = 200.0 // above prior highs
			vol = 100000  // same volume — no confirmation
		}
		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 1,
			High:      price + 2,
			Low:       price - 2,
			Close:     price,
			Volume:    vol,
		}
	}

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"breakout_quality": 0.9,
				"trend_strength":   0.7,
				"liquidity":        0.8,
				"risk_score":       0.2,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no signal for low volume breakout, got %+v", sig)
	}
}

func TestBreakout_ExitsOnBearRegime(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig(), 500000)
	bars := makeBreakoutBars(50, 100)
	position := &runner.OpenPosition{Side: execution.Buy, EntryPrice: 150}

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		ctx := runner.StrategyContext{
			Symbol:            "TEST",
			MarketRegime:      runner.MarketRegimeData{Regime: RegimeBear, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{"trend_strength": 0.5},
		}
		if idx == len(bars)-1 {
			ctx.CurrentPosition = position
		}
		return ctx
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.SignalType != execution.SignalExit {
		t.Errorf("expected EXIT in BEAR regime, got %+v", sig)
	}
}

func TestBreakout_ExitsOnFailedBreakout(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig(), 500000)
	bars := makeTestBars(50, 100)
	position := &runner.OpenPosition{Side: execution.Buy, EntryPrice: 200} // price fell back below entry

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		ctx := runner.StrategyContext{
			Symbol:            "TEST",
			MarketRegime:      runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{"trend_strength": 0.6},
		}
		if idx == len(bars)-1 {
			ctx.CurrentPosition = position
		}
		return ctx
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.SignalType != execution.SignalExit {
		t.Errorf("expected EXIT for failed breakout, got %+v", sig)
	}
}

func TestBreakout_IDAndTimeframe(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig(), 500000)
	if s.ID() != "breakout_v1" {
		t.Errorf("unexpected ID: %s", s.ID())
	}
	if s.PreferredTimeframe() <= 0 {
		t.Error("preferred timeframe must be positive")
	}
}
