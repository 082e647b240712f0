// Package market holds the runtime's core time-series types, the NSE
// session calendar, instrument symbol parsing, and the unified market
// query that stitches closed-day historical files to today's live buffer.
//
// Design rules (from spec):
//   - Market data is immutable value objects unless explicitly mutable.
//   - No strategy ever talks to a live broker or a raw tick feed directly;
//     everything flows through this package's read surface.
package market

import "time"

// OHLCVBar is a single time-aligned bar. Bars are stamped with the start
// of their interval and ordered by (Symbol, Timestamp).
//
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High, Volume >= 0.
type OHLCVBar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Timeframe  time.Duration
	Synthetic  bool // true if backfilled by the recovery manager rather than observed
}

// Valid reports whether the bar satisfies the OHLCV shape invariant.
func (b OHLCVBar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	return b.Low <= lo && hi <= b.High
}

// Tick is a single trade or quote update from the exchange.
// ExchangeTSMs is the authoritative event time; IngestTS is for telemetry only.
type Tick struct {
	Symbol       string
	ExchangeTSMs int64
	IngestTS     time.Time
	Price        float64
	Volume       int64
	Bid          *float64
	Ask          *float64
}

// ExchangeTime converts the tick's exchange timestamp to a time.Time in UTC.
func (t Tick) ExchangeTime() time.Time {
	return time.UnixMilli(t.ExchangeTSMs).UTC()
}
