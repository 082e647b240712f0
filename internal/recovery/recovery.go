// Package recovery implements the startup gap-detection and backfill
// manager (C5): for every configured symbol, find how far behind the
// live buffer is and fill the gap from an external historical source
// before the runner starts trading on stale data.
package recovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/devraj-patel/tradecore/internal/market"
)

// HistoricalBackfillPort is the external historical-data fetch the
// recovery manager calls to fill a detected gap. Implementations talk to
// a broker's REST API, a vendor feed, or (in tests) a canned table.
type HistoricalBackfillPort interface {
	FetchCandles(ctx context.Context, symbol string, from, to time.Time, timeframe time.Duration) ([]market.OHLCVBar, error)
}

// LastBarReader reports the most recent bar timestamp already present in
// the live buffer for a symbol.
type LastBarReader interface {
	// LastBarTimestamp returns the max timestamp for symbol, or the zero
	// time if no data exists yet.
	LastBarTimestamp(ctx context.Context, symbol string, timeframe time.Duration) (time.Time, error)
}

// BufferWriter writes recovered bars into the live buffer, flagged
// synthetic so downstream tools can tell an observed bar from a
// backfilled one.
type BufferWriter interface {
	WriteLiveCandle(ctx context.Context, bar market.OHLCVBar) error
}

const (
	gapRetries       = 3
	minGapBars       = 2
	backfillInterval = time.Minute
)

// Manager runs the startup recovery pass over a set of symbols.
type Manager struct {
	calendar *market.Calendar
	reader   LastBarReader
	backfill HistoricalBackfillPort
	writer   BufferWriter
	logger   *log.Logger
}

// NewManager builds a recovery Manager.
func NewManager(calendar *market.Calendar, reader LastBarReader, backfill HistoricalBackfillPort, writer BufferWriter, logger *log.Logger) *Manager {
	return &Manager{calendar: calendar, reader: reader, backfill: backfill, writer: writer, logger: logger}
}

// Recover runs the gap-detect-and-backfill pass for every symbol. A
// per-symbol failure (after gapRetries attempts) is logged and that
// symbol is skipped — recovery never aborts startup for the whole
// runtime over one bad symbol.
func (m *Manager) Recover(ctx context.Context, symbols []string, now time.Time) {
	for _, symbol := range symbols {
		if err := m.recoverSymbol(ctx, symbol, now); err != nil {
			m.logger.Printf("recovery: %s: giving up after retries, proceeding with existing data: %v", symbol, err)
		}
	}
}

func (m *Manager) recoverSymbol(ctx context.Context, symbol string, now time.Time) error {
	lastBar, err := m.reader.LastBarTimestamp(ctx, symbol, backfillInterval)
	if err != nil {
		return fmt.Errorf("read last bar: %w", err)
	}

	sessionClose := m.calendar.SessionClose(now)
	gapStart := lastBar.Add(backfillInterval)
	if lastBar.IsZero() {
		gapStart = m.calendar.SessionOpen(now)
	}

	if gapStart.After(sessionClose) || !gapStart.Before(now) {
		return nil // no gap, or session already exhausted
	}

	gapEnd := now
	if gapEnd.After(sessionClose) {
		gapEnd = sessionClose
	}

	gapBars := int(gapEnd.Sub(gapStart) / backfillInterval)
	if gapBars < minGapBars {
		return nil
	}

	var bars []market.OHLCVBar
	var lastErr error
	for attempt := 1; attempt <= gapRetries; attempt++ {
		bars, lastErr = m.backfill.FetchCandles(ctx, symbol, gapStart, gapEnd, backfillInterval)
		if lastErr == nil {
			break
		}
		m.logger.Printf("recovery: %s: backfill attempt %d/%d failed: %v", symbol, attempt, gapRetries, lastErr)
	}
	if lastErr != nil {
		return fmt.Errorf("backfill after %d attempts: %w", gapRetries, lastErr)
	}

	for _, b := range bars {
		b.Synthetic = true
		if err := m.writer.WriteLiveCandle(ctx, b); err != nil {
			return fmt.Errorf("write recovered bar %s@%s: %w", symbol, b.Timestamp, err)
		}
	}

	m.logger.Printf("recovery: %s: backfilled %d bars for gap [%s, %s)", symbol, len(bars), gapStart, gapEnd)
	return nil
}
