package storage

// config.go is the config partition: users, watchlists, and per-
// (symbol, strategy_id) RunnerStateRecord rows, written by the dashboard
// API and the trading runner. WAL mode.

import (
	"context"
	"fmt"
	"time"
)

const configSchema = `
CREATE TABLE IF NOT EXISTS watchlists (
	name    TEXT    NOT NULL,
	symbol  TEXT    NOT NULL,
	PRIMARY KEY (name, symbol)
);

CREATE TABLE IF NOT EXISTS runner_state (
	symbol       TEXT    NOT NULL,
	strategy_id  TEXT    NOT NULL,
	timeframe_s  INTEGER NOT NULL,
	current_bias TEXT    NOT NULL,
	signal_state TEXT    NOT NULL,
	confidence   REAL    NOT NULL DEFAULT 0,
	last_bar_ts  INTEGER NOT NULL,
	status       TEXT    NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (symbol, strategy_id)
);
`

// RunnerStateRow is the persisted shape of the trading runner's
// per-(symbol, strategy_id) state (spec §3 RunnerStateRecord).
type RunnerStateRow struct {
	Symbol      string
	StrategyID  string
	TimeframeS  int
	CurrentBias string
	SignalState string
	Confidence  float64
	LastBarTS   time.Time
	Status      string
	UpdatedAt   time.Time
}

// ConfigStore is the dashboard/runner's shared handle to the config
// partition.
type ConfigStore struct {
	mgr *Manager
	rel string
}

// NewConfigStore wraps mgr; rel is typically "config/config.db".
func NewConfigStore(mgr *Manager, rel string) *ConfigStore {
	return &ConfigStore{mgr: mgr, rel: rel}
}

// EnsureSchema opens and closes a writer handle, applying the schema with
// no other effect. Used by init_db to bootstrap the partition file ahead
// of the first real write.
func (s *ConfigStore) EnsureSchema(ctx context.Context) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, configSchema)
	if err != nil {
		return err
	}
	return h.Close()
}

// AddToWatchlist adds symbol to the named watchlist.
func (s *ConfigStore) AddToWatchlist(ctx context.Context, name, symbol string) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, configSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `INSERT INTO watchlists (name, symbol) VALUES (?, ?) ON CONFLICT DO NOTHING`, name, symbol)
	if err != nil {
		return fmt.Errorf("storage: add to watchlist %s: %w", name, err)
	}
	return nil
}

// Watchlist returns every symbol in the named watchlist.
func (s *ConfigStore) Watchlist(ctx context.Context, name string) ([]string, error) {
	h, err := s.mgr.OpenReader(s.rel, configSchema)
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `SELECT symbol FROM watchlists WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("storage: query watchlist %s: %w", name, err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("storage: scan watchlist row: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SaveRunnerState upserts a RunnerStateRecord (spec §4.11, persisted once
// per bar per (symbol, strategy_id)).
func (s *ConfigStore) SaveRunnerState(ctx context.Context, r RunnerStateRow) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, configSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `
		INSERT INTO runner_state (symbol, strategy_id, timeframe_s, current_bias, signal_state,
			confidence, last_bar_ts, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, strategy_id) DO UPDATE SET
			timeframe_s = excluded.timeframe_s, current_bias = excluded.current_bias,
			signal_state = excluded.signal_state, confidence = excluded.confidence,
			last_bar_ts = excluded.last_bar_ts, status = excluded.status, updated_at = excluded.updated_at
	`, r.Symbol, r.StrategyID, r.TimeframeS, r.CurrentBias, r.SignalState, r.Confidence, r.LastBarTS.Unix(), r.Status, r.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: save runner state %s/%s: %w", r.Symbol, r.StrategyID, err)
	}
	return nil
}

// LoadRunnerStates returns every persisted runner state, for resuming the
// trading runner across a restart.
func (s *ConfigStore) LoadRunnerStates(ctx context.Context) ([]RunnerStateRow, error) {
	h, err := s.mgr.OpenReader(s.rel, configSchema)
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `
		SELECT symbol, strategy_id, timeframe_s, current_bias, signal_state, confidence, last_bar_ts, status, updated_at
		FROM runner_state
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: query runner state: %w", err)
	}
	defer rows.Close()

	var out []RunnerStateRow
	for rows.Next() {
		var r RunnerStateRow
		var lastBarUnix, updatedUnix int64
		if err := rows.Scan(&r.Symbol, &r.StrategyID, &r.TimeframeS, &r.CurrentBias, &r.SignalState,
			&r.Confidence, &lastBarUnix, &r.Status, &updatedUnix); err != nil {
			return nil, fmt.Errorf("storage: scan runner state: %w", err)
		}
		r.LastBarTS = time.Unix(lastBarUnix, 0).UTC()
		r.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
