package backtest

// barsource.go adapts a pre-fetched slice of 1-minute bars into a
// runner.BarSource, optionally resampling through C6 when the run's
// timeframe is coarser than 1 minute. A backtest never streams: once
// its bars are exhausted, GetNextBar reports false forever, which is
// exactly the runner's non-streaming termination signal.

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/resample"
	"github.com/devraj-patel/tradecore/internal/runner"
)

type replayBarSource struct {
	symbol     string
	oneMinute  []market.OHLCVBar
	idx        int
	timeframe  time.Duration
	resampler  *resample.Provider
	flushed    bool
}

func newReplayBarSource(symbol string, oneMinute []market.OHLCVBar, timeframe time.Duration, resampler *resample.Provider) *replayBarSource {
	return &replayBarSource{symbol: symbol, oneMinute: oneMinute, timeframe: timeframe, resampler: resampler}
}

func (s *replayBarSource) GetNextBar(symbol string) (market.OHLCVBar, bool) {
	if s.timeframe <= time.Minute {
		if s.idx >= len(s.oneMinute) {
			return market.OHLCVBar{}, false
		}
		bar := s.oneMinute[s.idx]
		s.idx++
		return bar, true
	}

	for {
		if bar, ok := s.resampler.GetNextBar(symbol); ok {
			return bar, true
		}
		if s.idx < len(s.oneMinute) {
			s.resampler.Feed(symbol, s.oneMinute[s.idx])
			s.idx++
			continue
		}
		if !s.flushed {
			s.flushed = true
			s.resampler.FlushPending(symbol)
			continue
		}
		return market.OHLCVBar{}, false
	}
}

// observingBarSource wraps a BarSource and calls onBar for every bar it
// hands back, so the orchestrator can mark equity to market and feed the
// sim broker's fill price from exactly the bar the runner just consumed,
// without the runner itself knowing anything about either concern.
type observingBarSource struct {
	inner runner.BarSource
	onBar func(symbol string, bar market.OHLCVBar)
}

func (s *observingBarSource) GetNextBar(symbol string) (market.OHLCVBar, bool) {
	bar, ok := s.inner.GetNextBar(symbol)
	if ok && s.onBar != nil {
		s.onBar(symbol, bar)
	}
	return bar, ok
}
