// Package market - query.go implements the unified read surface over
// closed-day historical files and today's live buffer.
//
// Design rules (from spec):
//   - Market data is never read directly from a broker or a raw tick feed.
//   - Strategies, the resampler, and the backtest orchestrator all go
//     through GetCandles; it is the only source of truth for "what
//     happened on this symbol between these two instants".
package market

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// HistoricalReader opens a single day's closed candle file read-only.
// Implemented by the storage ownership layer (C2); a missing file is not
// an error here, it is reported as (nil, nil).
type HistoricalReader interface {
	ReadHistoricalCandles(ctx context.Context, exchange, symbol string, timeframe time.Duration, date time.Time) ([]OHLCVBar, error)
}

// LiveBufferReader reads today's not-yet-rolled-over bars. Implementations
// are expected to apply the storage layer's own retry-under-contention
// policy internally; Query treats a failed read as "no live data today".
type LiveBufferReader interface {
	ReadLiveCandles(ctx context.Context, symbol string, timeframe time.Duration, from, to time.Time) ([]OHLCVBar, error)
}

// Query is the unified market data read path (C3). It stitches the
// historical partition to the live buffer so callers never have to know
// which source a given bar came from.
type Query struct {
	calendar *Calendar
	hist     HistoricalReader
	live     LiveBufferReader
	exchange string
}

// NewQuery builds a Query over the given historical and live readers.
// exchange scopes the historical partition lookup (e.g. "NSE").
func NewQuery(calendar *Calendar, hist HistoricalReader, live LiveBufferReader, exchange string) *Query {
	return &Query{calendar: calendar, hist: hist, live: live, exchange: exchange}
}

// GetCandles returns bars for symbol at the given timeframe in [start, end],
// ordered by timestamp, duplicate (symbol, timestamp) pairs resolved in
// favor of the earlier source (historical beats live for any day both
// cover, since the live buffer for a past day is stale by definition).
//
// Missing historical files are silent: the query proceeds with whatever
// days are present. A failed live-buffer read is silent in the same way.
// Neither silences a genuine integrity error surfaced by a reader that did
// open a file — only "this partition does not exist" is swallowed.
func (q *Query) GetCandles(ctx context.Context, symbol string, timeframe time.Duration, start, end time.Time) ([]OHLCVBar, error) {
	start = start.In(IST)
	end = end.In(IST)

	today := q.calendar.SessionOpen(nowInIST())
	var bars []OHLCVBar
	seen := make(map[time.Time]struct{})

	lastHistDay := end
	if !lastHistDay.Before(today) {
		lastHistDay = today.AddDate(0, 0, -1)
	}

	for d := dayOf(start); !d.After(dayOf(lastHistDay)); d = d.AddDate(0, 0, 1) {
		dayBars, err := q.hist.ReadHistoricalCandles(ctx, q.exchange, symbol, timeframe, d)
		if err != nil {
			return nil, fmt.Errorf("market query: read historical %s %s: %w", symbol, d.Format("2006-01-02"), err)
		}
		for _, b := range dayBars {
			if b.Timestamp.Before(start) || b.Timestamp.After(end) {
				continue
			}
			if _, dup := seen[b.Timestamp]; dup {
				continue
			}
			seen[b.Timestamp] = struct{}{}
			bars = append(bars, b)
		}
	}

	if !end.Before(today) && q.live != nil {
		liveStart := start
		if liveStart.Before(today) {
			liveStart = today
		}
		liveBars, err := q.live.ReadLiveCandles(ctx, symbol, timeframe, liveStart, end)
		if err == nil {
			for _, b := range liveBars {
				if b.Timestamp.Before(start) || b.Timestamp.After(end) {
					continue
				}
				if _, dup := seen[b.Timestamp]; dup {
					continue
				}
				seen[b.Timestamp] = struct{}{}
				bars = append(bars, b)
			}
		}
		// A live-buffer read failure (file not yet created, writer holds
		// the lock, etc.) is silent: callers get historical-only results.
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func dayOf(t time.Time) time.Time {
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST)
}

// nowInIST exists so GetCandles has a single seam to determine "today" from
// a live clock without importing the clock package (which would invert the
// dependency direction between market and clock). Callers that need replay
// determinism pass end dates bounded by their own ReplayClock upstream;
// this only affects the historical/live split boundary.
func nowInIST() time.Time {
	return time.Now().In(IST)
}
