package storage

// backtest.go is the backtest partition: one file per run_id plus a
// shared index recording run metadata. Each run owns its file in
// isolation — no other run, and no live component, ever writes to it.
// A run file becomes immutable once its status reaches COMPLETED.

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

const backtestIndexSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	strategy_id  TEXT    NOT NULL,
	symbol       TEXT    NOT NULL,
	range_start  INTEGER NOT NULL,
	range_end    INTEGER NOT NULL,
	params_json  TEXT,
	status       TEXT    NOT NULL,
	metrics_json TEXT,
	created_at   INTEGER NOT NULL,
	completed_at INTEGER
);
`

const backtestRunSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT    NOT NULL,
	side        TEXT    NOT NULL,
	quantity    INTEGER NOT NULL,
	entry_price REAL    NOT NULL,
	exit_price  REAL,
	entry_ts    INTEGER NOT NULL,
	exit_ts     INTEGER,
	pnl         REAL    NOT NULL DEFAULT 0,
	exit_reason TEXT
);

CREATE TABLE IF NOT EXISTS equity (
	ts_unix INTEGER PRIMARY KEY,
	equity  REAL NOT NULL
);
`

// BacktestRunRow is a row in the shared run index (spec §3 BacktestRun).
type BacktestRunRow struct {
	RunID       string
	StrategyID  string
	Symbol      string
	RangeStart  time.Time
	RangeEnd    time.Time
	Params      map[string]any
	Status      string
	Metrics     map[string]float64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// BacktestTradeRow is one closed (or open) trade within a single run.
type BacktestTradeRow struct {
	Symbol     string
	Side       string
	Quantity   int
	EntryPrice float64
	ExitPrice  *float64
	EntryTS    time.Time
	ExitTS     *time.Time
	PnL        float64
	ExitReason string
}

// BacktestIndex is the shared index of every backtest run, regardless of
// which run owns which per-run file.
type BacktestIndex struct {
	mgr *Manager
	rel string
}

// NewBacktestIndex wraps mgr; rel is typically "backtest/index.db".
func NewBacktestIndex(mgr *Manager, rel string) *BacktestIndex {
	return &BacktestIndex{mgr: mgr, rel: rel}
}

// EnsureSchema opens and closes a writer handle, applying the schema with
// no other effect. Used by init_db to bootstrap the partition file ahead
// of the first real write.
func (idx *BacktestIndex) EnsureSchema(ctx context.Context) error {
	h, err := idx.mgr.OpenWriter(ctx, idx.rel, backtestIndexSchema)
	if err != nil {
		return err
	}
	return h.Close()
}

// Register inserts a new run row with status RUNNING.
func (idx *BacktestIndex) Register(ctx context.Context, r BacktestRunRow) error {
	paramsJSON, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("storage: marshal backtest params: %w", err)
	}

	h, err := idx.mgr.OpenWriter(ctx, idx.rel, backtestIndexSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `
		INSERT INTO runs (run_id, strategy_id, symbol, range_start, range_end, params_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.StrategyID, r.Symbol, r.RangeStart.Unix(), r.RangeEnd.Unix(), string(paramsJSON), r.Status, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: register backtest run %s: %w", r.RunID, err)
	}
	return nil
}

// Complete marks a run COMPLETED with its final metrics. Once this
// succeeds the run's per-run file is treated as immutable.
func (idx *BacktestIndex) Complete(ctx context.Context, runID string, metrics map[string]float64, completedAt time.Time) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("storage: marshal backtest metrics: %w", err)
	}

	h, err := idx.mgr.OpenWriter(ctx, idx.rel, backtestIndexSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `
		UPDATE runs SET status = 'COMPLETED', metrics_json = ?, completed_at = ? WHERE run_id = ?
	`, string(metricsJSON), completedAt.Unix(), runID)
	if err != nil {
		return fmt.Errorf("storage: complete backtest run %s: %w", runID, err)
	}
	return nil
}

// RunFilePath returns the per-run isolated data file's path relative to
// the storage base directory.
func RunFilePath(runID string) string {
	return filepath.Join("backtest", "runs", runID+".db")
}

// BacktestRunStore owns one backtest run's isolated trades/equity file.
// A single run_id is the only writer for the lifetime of its file.
type BacktestRunStore struct {
	mgr *Manager
	rel string
}

// NewBacktestRunStore wraps mgr for a specific runID's isolated file.
func NewBacktestRunStore(mgr *Manager, runID string) *BacktestRunStore {
	return &BacktestRunStore{mgr: mgr, rel: RunFilePath(runID)}
}

// AppendTrade records one trade in this run's isolated file.
func (s *BacktestRunStore) AppendTrade(ctx context.Context, t BacktestTradeRow) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, backtestRunSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	var exitPrice any
	if t.ExitPrice != nil {
		exitPrice = *t.ExitPrice
	}
	var exitTS any
	if t.ExitTS != nil {
		exitTS = t.ExitTS.Unix()
	}

	_, err = h.Write(ctx, `
		INSERT INTO trades (symbol, side, quantity, entry_price, exit_price, entry_ts, exit_ts, pnl, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Symbol, t.Side, t.Quantity, t.EntryPrice, exitPrice, t.EntryTS.Unix(), exitTS, t.PnL, t.ExitReason)
	if err != nil {
		return fmt.Errorf("storage: append backtest trade: %w", err)
	}
	return nil
}

// AppendEquityPoint records one point on the equity curve.
func (s *BacktestRunStore) AppendEquityPoint(ctx context.Context, ts time.Time, equity float64) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, backtestRunSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `INSERT INTO equity (ts_unix, equity) VALUES (?, ?) ON CONFLICT DO UPDATE SET equity = excluded.equity`, ts.Unix(), equity)
	if err != nil {
		return fmt.Errorf("storage: append equity point: %w", err)
	}
	return nil
}

// Trades returns every trade recorded for this run.
func (s *BacktestRunStore) Trades(ctx context.Context) ([]BacktestTradeRow, error) {
	h, err := s.mgr.OpenReader(s.rel, backtestRunSchema)
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `SELECT symbol, side, quantity, entry_price, exit_price, entry_ts, exit_ts, pnl, exit_reason FROM trades ORDER BY entry_ts`)
	if err != nil {
		return nil, fmt.Errorf("storage: query backtest trades: %w", err)
	}
	defer rows.Close()

	var out []BacktestTradeRow
	for rows.Next() {
		var t BacktestTradeRow
		var exitPrice *float64
		var entryUnix int64
		var exitUnix *int64
		if err := rows.Scan(&t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice, &exitPrice, &entryUnix, &exitUnix, &t.PnL, &t.ExitReason); err != nil {
			return nil, fmt.Errorf("storage: scan backtest trade: %w", err)
		}
		t.EntryTS = time.Unix(entryUnix, 0).UTC()
		t.ExitPrice = exitPrice
		if exitUnix != nil {
			ts := time.Unix(*exitUnix, 0).UTC()
			t.ExitTS = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
