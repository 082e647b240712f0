// Package resample implements the resampling provider (C6): it wraps a
// 1-minute bar source and emits N-minute, session-aligned bars, only ever
// emitting a bucket once it is fully closed.
package resample

import (
	"context"
	"time"

	"github.com/devraj-patel/tradecore/internal/market"
)

// BaseProvider is the 1-minute bar source a Provider wraps — typically
// the unified market query (C3) for historical/replay use, or the live
// buffer reader for live use.
type BaseProvider interface {
	GetCandles(ctx context.Context, symbol string, timeframe time.Duration, start, end time.Time) ([]market.OHLCVBar, error)
}

// symbolState tracks one symbol's in-progress N-minute bucket.
type symbolState struct {
	buffer        []market.OHLCVBar
	ready         []market.OHLCVBar
	lastEmittedTS time.Time
}

// Provider resamples 1-minute bars from base into N-minute bars aligned
// to the market session open. It never emits an incomplete bucket: a
// bucket is only pushed to the ready queue once a later bar proves it
// closed.
type Provider struct {
	base      BaseProvider
	calendar  *market.Calendar
	timeframe time.Duration

	state map[string]*symbolState
}

// NewProvider creates a Provider emitting timeframe-sized bars, aligned
// to calendar's session open, sourced from base.
func NewProvider(base BaseProvider, calendar *market.Calendar, timeframe time.Duration) *Provider {
	return &Provider{
		base:      base,
		calendar:  calendar,
		timeframe: timeframe,
		state:     make(map[string]*symbolState),
	}
}

func (p *Provider) stateFor(symbol string) *symbolState {
	st, ok := p.state[symbol]
	if !ok {
		st = &symbolState{}
		p.state[symbol] = st
	}
	return st
}

// Prime reads the last n 1-minute historical bars ending at asOf to warm
// callers' indicators. These bars are discarded after priming — they
// never appear in GetNextBar's ready queue, since they predate whatever
// window is actually trading.
func (p *Provider) Prime(ctx context.Context, symbol string, asOf time.Time, n int) ([]market.OHLCVBar, error) {
	start := asOf.Add(-time.Duration(n) * time.Minute)
	bars, err := p.base.GetCandles(ctx, symbol, time.Minute, start, asOf)
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// Feed appends one 1-minute bar to symbol's buffer, aggregating and
// queuing the previous bucket once a bar from a later bucket arrives.
func (p *Provider) Feed(symbol string, bar market.OHLCVBar) {
	st := p.stateFor(symbol)

	if len(st.buffer) > 0 {
		currentBucket := p.calendar.BucketStart(st.buffer[0].Timestamp, p.timeframe)
		newBucket := p.calendar.BucketStart(bar.Timestamp, p.timeframe)
		if !newBucket.Equal(currentBucket) {
			st.ready = append(st.ready, aggregate(st.buffer, currentBucket, p.timeframe))
			st.buffer = nil
		}
	}

	st.buffer = append(st.buffer, bar)
}

// FlushPending force-aggregates whatever is left in the buffer (used at
// session close, mirroring the aggregator's own forced finalize — an
// incomplete bucket at session close is still the best bar available,
// and the session will never produce another tick to close it).
func (p *Provider) FlushPending(symbol string) {
	st := p.stateFor(symbol)
	if len(st.buffer) == 0 {
		return
	}
	bucket := p.calendar.BucketStart(st.buffer[0].Timestamp, p.timeframe)
	st.ready = append(st.ready, aggregate(st.buffer, bucket, p.timeframe))
	st.buffer = nil
}

// GetNextBar returns the next ready N-minute bar for symbol, or false if
// none is ready yet (the current bucket hasn't closed).
func (p *Provider) GetNextBar(symbol string) (market.OHLCVBar, bool) {
	st := p.stateFor(symbol)
	if len(st.ready) == 0 {
		return market.OHLCVBar{}, false
	}
	bar := st.ready[0]
	st.ready = st.ready[1:]
	st.lastEmittedTS = bar.Timestamp
	return bar, true
}

func aggregate(bars []market.OHLCVBar, bucketStart time.Time, timeframe time.Duration) market.OHLCVBar {
	out := market.OHLCVBar{
		Symbol:    bars[0].Symbol,
		Timestamp: bucketStart,
		Open:      bars[0].Open,
		High:      bars[0].High,
		Low:       bars[0].Low,
		Close:     bars[len(bars)-1].Close,
		Timeframe: timeframe,
	}
	for _, b := range bars {
		if b.High > out.High {
			out.High = b.High
		}
		if b.Low < out.Low {
			out.Low = b.Low
		}
		out.Volume += b.Volume
		if b.Synthetic {
			out.Synthetic = true
		}
	}
	return out
}
