package storage

// livebuffer.go is the live buffer partition: two files, ticks_today and
// candles_today, recreated at the start of every trading day. The tick
// ingestor (C4) is the sole writer; everything else — C3's unified
// query, the dashboard, the recovery manager — reads.

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devraj-patel/tradecore/internal/market"
)

const ticksTodaySchema = `
CREATE TABLE IF NOT EXISTS ticks (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol         TEXT    NOT NULL,
	exchange_ts_ms INTEGER NOT NULL,
	ingest_ts_unix INTEGER NOT NULL,
	price          REAL    NOT NULL,
	volume         INTEGER NOT NULL,
	bid            REAL,
	ask            REAL
);
CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks(symbol, exchange_ts_ms);
`

const candlesTodaySchema = `
CREATE TABLE IF NOT EXISTS candles_today (
	symbol     TEXT    NOT NULL,
	timeframe_s INTEGER NOT NULL,
	ts_unix    INTEGER NOT NULL,
	open       REAL    NOT NULL,
	high       REAL    NOT NULL,
	low        REAL    NOT NULL,
	close      REAL    NOT NULL,
	volume     INTEGER NOT NULL,
	synthetic  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe_s, ts_unix)
);
`

// LiveBufferStore is the tick ingestor's sole-writer handle to today's
// live buffer, and the read path every other component uses.
type LiveBufferStore struct {
	mgr *Manager
}

// NewLiveBufferStore wraps mgr for live-buffer access.
func NewLiveBufferStore(mgr *Manager) *LiveBufferStore {
	return &LiveBufferStore{mgr: mgr}
}

func ticksRelPath(date time.Time) string {
	return filepath.Join("live", date.In(market.IST).Format("2006-01-02"), "ticks_today.db")
}

func candlesRelPath(date time.Time) string {
	return filepath.Join("live", date.In(market.IST).Format("2006-01-02"), "candles_today.db")
}

// TicksRelPath exposes ticksRelPath to callers outside the package (the
// EOD rollover job, which renames the partition file directly).
func TicksRelPath(date time.Time) string { return ticksRelPath(date) }

// CandlesRelPath exposes candlesRelPath to callers outside the package.
func CandlesRelPath(date time.Time) string { return candlesRelPath(date) }

// AppendTicks persists a batch of ticks, under the retry-under-contention
// discipline. Called by TickBuffer's periodic flush.
func (s *LiveBufferStore) AppendTicks(ctx context.Context, ticks []market.Tick, asOf time.Time) error {
	if len(ticks) == 0 {
		return nil
	}
	rel := ticksRelPath(asOf)

	return WithRetry(ctx, "append ticks", func() error {
		h, err := s.mgr.OpenWriter(ctx, rel, ticksTodaySchema)
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
			INSERT INTO ticks (symbol, exchange_ts_ms, ingest_ts_unix, price, volume, bid, ask)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, t := range ticks {
			if _, err := stmt.ExecContext(ctx, t.Symbol, t.ExchangeTSMs, t.IngestTS.Unix(), t.Price, t.Volume, t.Bid, t.Ask); err != nil {
				return fmt.Errorf("insert tick %s@%d: %w", t.Symbol, t.ExchangeTSMs, err)
			}
		}

		return tx.Commit()
	})
}

// ReadTicksSince returns ticks for symbol with exchange_ts_ms >= sinceMs,
// used by TickAggregator to pull unaggregated ticks for bucketing.
func (s *LiveBufferStore) ReadTicksSince(ctx context.Context, symbol string, sinceMs int64, asOf time.Time) ([]market.Tick, error) {
	rel := ticksRelPath(asOf)
	var ticks []market.Tick

	err := WithRetry(ctx, "read ticks", func() error {
		h, err := s.mgr.OpenReader(rel, "")
		if err == ErrPartitionNotFound {
			ticks = nil
			return nil
		}
		if err != nil {
			return err
		}
		defer h.Close()

		rows, err := h.DB.QueryContext(ctx, `
			SELECT symbol, exchange_ts_ms, ingest_ts_unix, price, volume, bid, ask
			FROM ticks WHERE symbol = ? AND exchange_ts_ms >= ? ORDER BY exchange_ts_ms
		`, symbol, sinceMs)
		if err != nil {
			return fmt.Errorf("query ticks: %w", err)
		}
		defer rows.Close()

		ticks = nil
		for rows.Next() {
			var t market.Tick
			var ingestUnix int64
			if err := rows.Scan(&t.Symbol, &t.ExchangeTSMs, &ingestUnix, &t.Price, &t.Volume, &t.Bid, &t.Ask); err != nil {
				return fmt.Errorf("scan tick: %w", err)
			}
			t.IngestTS = time.Unix(ingestUnix, 0).UTC()
			ticks = append(ticks, t)
		}
		return rows.Err()
	})

	return ticks, err
}

// WriteLiveCandle upserts a single finalized (or provisional) bar into
// today's candle buffer. Called by TickAggregator once per finalized
// bucket and by the resampler for higher timeframes.
func (s *LiveBufferStore) WriteLiveCandle(ctx context.Context, b market.OHLCVBar) error {
	rel := candlesRelPath(b.Timestamp)

	return WithRetry(ctx, "write live candle", func() error {
		h, err := s.mgr.OpenWriter(ctx, rel, candlesTodaySchema)
		if err != nil {
			return err
		}
		defer h.Close()

		synthetic := 0
		if b.Synthetic {
			synthetic = 1
		}
		_, err = h.Write(ctx, `
			INSERT INTO candles_today (symbol, timeframe_s, ts_unix, open, high, low, close, volume, synthetic)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, timeframe_s, ts_unix) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume, synthetic = excluded.synthetic
		`, b.Symbol, int(b.Timeframe.Seconds()), b.Timestamp.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume, synthetic)
		if err != nil {
			return fmt.Errorf("upsert live candle %s@%s: %w", b.Symbol, b.Timestamp, err)
		}
		return nil
	})
}

// LastBarTimestamp implements recovery.LastBarReader: the newest candle
// timestamp already buffered for symbol at timeframe, or the zero time if
// today's buffer has none yet.
func (s *LiveBufferStore) LastBarTimestamp(ctx context.Context, symbol string, timeframe time.Duration) (time.Time, error) {
	rel := candlesRelPath(time.Now())
	h, err := s.mgr.OpenReader(rel, "")
	if err == ErrPartitionNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	defer h.Close()

	var tsUnix sql.NullInt64
	row := h.DB.QueryRowContext(ctx, `
		SELECT MAX(ts_unix) FROM candles_today WHERE symbol = ? AND timeframe_s = ?
	`, symbol, int(timeframe.Seconds()))
	if err := row.Scan(&tsUnix); err != nil {
		return time.Time{}, fmt.Errorf("storage: last bar timestamp: %w", err)
	}
	if !tsUnix.Valid {
		return time.Time{}, nil
	}
	return time.Unix(tsUnix.Int64, 0).In(market.IST), nil
}

// RecreateEmpty removes date's buffer files, if present, and recreates
// them with a fresh schema and no rows. Called by the EOD rollover job
// once the day's ticks and candles have been safely rolled off.
func (s *LiveBufferStore) RecreateEmpty(ctx context.Context, date time.Time) error {
	for _, rel := range []string{ticksRelPath(date), candlesRelPath(date)} {
		full := s.mgr.Path(rel)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage: remove stale buffer %s: %w", rel, err)
		}
	}

	th, err := s.mgr.OpenWriter(ctx, ticksRelPath(date), ticksTodaySchema)
	if err != nil {
		return fmt.Errorf("storage: recreate ticks buffer: %w", err)
	}
	if err := th.Close(); err != nil {
		return err
	}

	ch, err := s.mgr.OpenWriter(ctx, candlesRelPath(date), candlesTodaySchema)
	if err != nil {
		return fmt.Errorf("storage: recreate candles buffer: %w", err)
	}
	return ch.Close()
}

// AllCandles returns every buffered bar for date, across all symbols and
// timeframes, for the EOD rollover job to split by symbol before handing
// off to the historical store.
func (s *LiveBufferStore) AllCandles(ctx context.Context, date time.Time) ([]market.OHLCVBar, error) {
	rel := candlesRelPath(date)
	h, err := s.mgr.OpenReader(rel, "")
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `
		SELECT symbol, timeframe_s, ts_unix, open, high, low, close, volume, synthetic
		FROM candles_today ORDER BY symbol, timeframe_s, ts_unix
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: query all live candles: %w", err)
	}
	defer rows.Close()

	var bars []market.OHLCVBar
	for rows.Next() {
		var tsUnix int64
		var timeframeS int
		var synthetic int
		var b market.OHLCVBar
		if err := rows.Scan(&b.Symbol, &timeframeS, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &synthetic); err != nil {
			return nil, fmt.Errorf("storage: scan live candle: %w", err)
		}
		b.Timeframe = time.Duration(timeframeS) * time.Second
		b.Timestamp = time.Unix(tsUnix, 0).In(market.IST)
		b.Synthetic = synthetic != 0
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// AllTicksCount returns the number of ticks buffered for date, used by the
// EOD rollover job's pre-rename integrity check.
func (s *LiveBufferStore) AllTicksCount(ctx context.Context, date time.Time) (int, error) {
	rel := ticksRelPath(date)
	h, err := s.mgr.OpenReader(rel, "")
	if err == ErrPartitionNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer h.Close()

	var n int
	row := h.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count ticks: %w", err)
	}
	return n, nil
}

// ReadLiveCandles implements market.LiveBufferReader.
func (s *LiveBufferStore) ReadLiveCandles(ctx context.Context, symbol string, timeframe time.Duration, from, to time.Time) ([]market.OHLCVBar, error) {
	rel := candlesRelPath(from)
	h, err := s.mgr.OpenReader(rel, "")
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `
		SELECT ts_unix, open, high, low, close, volume, synthetic FROM candles_today
		WHERE symbol = ? AND timeframe_s = ? AND ts_unix BETWEEN ? AND ?
		ORDER BY ts_unix
	`, symbol, int(timeframe.Seconds()), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("storage: query live candles: %w", err)
	}
	defer rows.Close()

	var bars []market.OHLCVBar
	for rows.Next() {
		var tsUnix int64
		var synthetic int
		b := market.OHLCVBar{Symbol: symbol, Timeframe: timeframe}
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &synthetic); err != nil {
			return nil, fmt.Errorf("storage: scan live candle: %w", err)
		}
		b.Timestamp = time.Unix(tsUnix, 0).In(market.IST)
		b.Synthetic = synthetic != 0
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
