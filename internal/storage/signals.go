package storage

// signals.go is the signals partition: derived scanner/strategy insight,
// written by the strategy scanner service, read by the dashboard and
// analytics. WAL mode, many readers, one writer.

import (
	"context"
	"fmt"
	"time"
)

const signalsSchema = `
CREATE TABLE IF NOT EXISTS signals (
	signal_id   TEXT PRIMARY KEY,
	strategy_id TEXT    NOT NULL,
	symbol      TEXT    NOT NULL,
	action      TEXT    NOT NULL,
	price       REAL    NOT NULL,
	confidence  REAL    NOT NULL DEFAULT 0,
	reason      TEXT,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, created_at);
`

// SignalRow is one derived strategy signal.
type SignalRow struct {
	SignalID   string
	StrategyID string
	Symbol     string
	Action     string
	Price      float64
	Confidence float64
	Reason     string
	CreatedAt  time.Time
}

// SignalsStore is the scanner service's sole-writer handle to the signals
// partition.
type SignalsStore struct {
	mgr *Manager
	rel string
}

// NewSignalsStore wraps mgr; rel is typically "signals/signals.db".
func NewSignalsStore(mgr *Manager, rel string) *SignalsStore {
	return &SignalsStore{mgr: mgr, rel: rel}
}

// EnsureSchema opens and closes a writer handle, applying the schema with
// no other effect. Used by init_db to bootstrap the partition file ahead
// of the first real write.
func (s *SignalsStore) EnsureSchema(ctx context.Context) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, signalsSchema)
	if err != nil {
		return err
	}
	return h.Close()
}

// Save persists a derived signal.
func (s *SignalsStore) Save(ctx context.Context, sig SignalRow) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, signalsSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `
		INSERT INTO signals (signal_id, strategy_id, symbol, action, price, confidence, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signal_id) DO NOTHING
	`, sig.SignalID, sig.StrategyID, sig.Symbol, sig.Action, sig.Price, sig.Confidence, sig.Reason, sig.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: save signal %s: %w", sig.SignalID, err)
	}
	return nil
}

// ByDateRange returns signals created within [from, to].
func (s *SignalsStore) ByDateRange(ctx context.Context, from, to time.Time) ([]SignalRow, error) {
	h, err := s.mgr.OpenReader(s.rel, signalsSchema)
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `
		SELECT signal_id, strategy_id, symbol, action, price, confidence, reason, created_at
		FROM signals WHERE created_at BETWEEN ? AND ? ORDER BY created_at
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("storage: query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRow
	for rows.Next() {
		var r SignalRow
		var createdUnix int64
		if err := rows.Scan(&r.SignalID, &r.StrategyID, &r.Symbol, &r.Action, &r.Price, &r.Confidence, &r.Reason, &createdUnix); err != nil {
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		r.CreatedAt = time.Unix(createdUnix, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
