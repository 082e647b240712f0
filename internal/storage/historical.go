package storage

// historical.go is the historical partition: one file per
// (exchange, timeframe, date, symbol), at
// historical/<exchange>/<N>m/<date>/<symbol>.db, written once by the EOD
// rollover job and immutable (append-only, then read-only) afterward.

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/devraj-patel/tradecore/internal/market"
)

const historicalSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol    TEXT    NOT NULL,
	ts_unix   INTEGER NOT NULL,
	open      REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	close     REAL    NOT NULL,
	volume    INTEGER NOT NULL,
	synthetic INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, ts_unix)
);
`

// HistoricalStore is the sole writer of a day's closed historical candle
// file (the EOD rollover job) and also satisfies market.HistoricalReader
// for C3's unified query.
type HistoricalStore struct {
	mgr *Manager
}

// NewHistoricalStore wraps mgr for historical-partition access.
func NewHistoricalStore(mgr *Manager) *HistoricalStore {
	return &HistoricalStore{mgr: mgr}
}

func historicalRelPath(exchange, symbol string, timeframe time.Duration, date time.Time) string {
	d := date.In(market.IST)
	return filepath.Join("historical", exchange, strconv.Itoa(int(timeframe.Minutes()))+"m",
		d.Format("2006-01-02"), symbol+".db")
}

// ReadHistoricalCandles implements market.HistoricalReader. A missing file
// is reported as (nil, nil) per spec §4.3 ("missing historical files are
// silent").
func (s *HistoricalStore) ReadHistoricalCandles(ctx context.Context, exchange, symbol string, timeframe time.Duration, date time.Time) ([]market.OHLCVBar, error) {
	rel := historicalRelPath(exchange, symbol, timeframe, date)
	h, err := s.mgr.OpenReader(rel, "")
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `SELECT ts_unix, open, high, low, close, volume, synthetic FROM candles ORDER BY ts_unix`)
	if err != nil {
		return nil, fmt.Errorf("storage: query historical candles %s: %w", rel, err)
	}
	defer rows.Close()

	var bars []market.OHLCVBar
	for rows.Next() {
		var tsUnix int64
		var synthetic int
		b := market.OHLCVBar{Symbol: symbol, Timeframe: timeframe}
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &synthetic); err != nil {
			return nil, fmt.Errorf("storage: scan historical candle %s: %w", rel, err)
		}
		b.Timestamp = time.Unix(tsUnix, 0).In(market.IST)
		b.Synthetic = synthetic != 0
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// WriteHistoricalCandles rolls a day's bars into the historical partition.
// Called once by the EOD rollover job; the partition is append-only and,
// once the rollover completes, treated as immutable by every other
// component.
func (s *HistoricalStore) WriteHistoricalCandles(ctx context.Context, exchange string, bars []market.OHLCVBar, date time.Time) error {
	if len(bars) == 0 {
		return nil
	}
	rel := historicalRelPath(exchange, bars[0].Symbol, bars[0].Timeframe, date)

	return WithRetry(ctx, "write historical candles", func() error {
		h, err := s.mgr.OpenWriter(ctx, rel, historicalSchema)
		if err != nil {
			return err
		}
		defer h.Close()

		tx, err := h.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, ts_unix, open, high, low, close, volume, synthetic)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, ts_unix) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume, synthetic = excluded.synthetic
		`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			synthetic := 0
			if b.Synthetic {
				synthetic = 1
			}
			if _, err := stmt.ExecContext(ctx, b.Symbol, b.Timestamp.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume, synthetic); err != nil {
				return fmt.Errorf("insert %s@%s: %w", b.Symbol, b.Timestamp, err)
			}
		}

		return tx.Commit()
	})
}
