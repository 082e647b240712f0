package storage

// trading.go is the trading partition: orders, fills, and positions. The
// execution engine (C10) is its sole writer; C7/C8 rebuild their
// in-memory state from it on restart (spec §4.8, §4.10 replay-rebuild).

import (
	"context"
	"fmt"
	"time"
)

const tradingSchema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id       TEXT PRIMARY KEY,
	signal_id      TEXT    NOT NULL,
	idempotency_key TEXT   NOT NULL,
	symbol         TEXT    NOT NULL,
	side           TEXT    NOT NULL,
	quantity       INTEGER NOT NULL,
	status         TEXT    NOT NULL,
	filled_qty     INTEGER NOT NULL DEFAULT 0,
	remaining_qty  INTEGER NOT NULL,
	avg_fill_price REAL    NOT NULL DEFAULT 0,
	mode           TEXT    NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_idem ON orders(idempotency_key);

CREATE TABLE IF NOT EXISTS fills (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id   TEXT    NOT NULL REFERENCES orders(order_id),
	price      REAL    NOT NULL,
	quantity   INTEGER NOT NULL,
	fill_ts    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);

CREATE TABLE IF NOT EXISTS positions (
	instrument_key  TEXT PRIMARY KEY,
	side            TEXT    NOT NULL,
	quantity        REAL    NOT NULL,
	avg_entry_price REAL    NOT NULL,
	realized_pnl    REAL    NOT NULL,
	last_update     INTEGER NOT NULL
);
`

// OrderRow is the persisted shape of an order, independent of the
// in-memory order.State the execution engine and order tracker operate
// on (see internal/order).
type OrderRow struct {
	OrderID        string
	SignalID       string
	IdempotencyKey string
	Symbol         string
	Side           string
	Quantity       int
	Status         string
	FilledQty      int
	RemainingQty   int
	AvgFillPrice   float64
	Mode           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FillRow is one persisted fill against an order.
type FillRow struct {
	OrderID  string
	Price    float64
	Quantity int
	FillTS   time.Time
}

// PositionRow is the persisted shape of a net position.
type PositionRow struct {
	InstrumentKey string
	Side          string
	Quantity      float64
	AvgEntryPrice float64
	RealizedPnL   float64
	LastUpdate    time.Time
}

// TradingStore is the execution engine's sole-writer handle to the
// trading partition, and the replay-rebuild read path for C7/C8.
type TradingStore struct {
	mgr *Manager
	rel string
}

// NewTradingStore wraps mgr; rel is typically "trading/trading.db".
func NewTradingStore(mgr *Manager, rel string) *TradingStore {
	return &TradingStore{mgr: mgr, rel: rel}
}

// EnsureSchema opens and closes a writer handle, applying the schema with
// no other effect. Used by init_db to bootstrap the partition file ahead
// of the first real write.
func (s *TradingStore) EnsureSchema(ctx context.Context) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, tradingSchema)
	if err != nil {
		return err
	}
	return h.Close()
}

// SaveOrder upserts an order row. idempotency_key has a unique index, so a
// duplicate signal_id/session (or run_id) combination under a new
// order_id fails with a constraint error instead of silently creating a
// second order; the execution engine logs that error.
func (s *TradingStore) SaveOrder(ctx context.Context, o OrderRow) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, tradingSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `
		INSERT INTO orders (order_id, signal_id, idempotency_key, symbol, side, quantity, status,
			filled_qty, remaining_qty, avg_fill_price, mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status = excluded.status, filled_qty = excluded.filled_qty,
			remaining_qty = excluded.remaining_qty, avg_fill_price = excluded.avg_fill_price,
			updated_at = excluded.updated_at
	`, o.OrderID, o.SignalID, o.IdempotencyKey, o.Symbol, o.Side, o.Quantity, o.Status,
		o.FilledQty, o.RemainingQty, o.AvgFillPrice, o.Mode, o.CreatedAt.Unix(), o.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: save order %s: %w", o.OrderID, err)
	}
	return nil
}

// AppendFill records one fill against an existing order.
func (s *TradingStore) AppendFill(ctx context.Context, f FillRow) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, tradingSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `INSERT INTO fills (order_id, price, quantity, fill_ts) VALUES (?, ?, ?, ?)`,
		f.OrderID, f.Price, f.Quantity, f.FillTS.Unix())
	if err != nil {
		return fmt.Errorf("storage: append fill for order %s: %w", f.OrderID, err)
	}
	return nil
}

// SavePosition upserts a position row.
func (s *TradingStore) SavePosition(ctx context.Context, p PositionRow) error {
	h, err := s.mgr.OpenWriter(ctx, s.rel, tradingSchema)
	if err != nil {
		return err
	}
	defer h.Close()

	_, err = h.Write(ctx, `
		INSERT INTO positions (instrument_key, side, quantity, avg_entry_price, realized_pnl, last_update)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_key) DO UPDATE SET
			side = excluded.side, quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price, realized_pnl = excluded.realized_pnl,
			last_update = excluded.last_update
	`, p.InstrumentKey, p.Side, p.Quantity, p.AvgEntryPrice, p.RealizedPnL, p.LastUpdate.Unix())
	if err != nil {
		return fmt.Errorf("storage: save position %s: %w", p.InstrumentKey, err)
	}
	return nil
}

// LoadOpenOrders returns every order not in a terminal state, for
// rebuilding the order tracker's in-memory state on restart.
func (s *TradingStore) LoadOpenOrders(ctx context.Context) ([]OrderRow, error) {
	h, err := s.mgr.OpenReader(s.rel, tradingSchema)
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `
		SELECT order_id, signal_id, idempotency_key, symbol, side, quantity, status,
			filled_qty, remaining_qty, avg_fill_price, mode, created_at, updated_at
		FROM orders WHERE status NOT IN ('FILLED', 'CANCELLED', 'REJECTED')
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: query open orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		var createdUnix, updatedUnix int64
		if err := rows.Scan(&o.OrderID, &o.SignalID, &o.IdempotencyKey, &o.Symbol, &o.Side, &o.Quantity,
			&o.Status, &o.FilledQty, &o.RemainingQty, &o.AvgFillPrice, &o.Mode, &createdUnix, &updatedUnix); err != nil {
			return nil, fmt.Errorf("storage: scan order: %w", err)
		}
		o.CreatedAt = time.Unix(createdUnix, 0).UTC()
		o.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// LoadPositions returns every persisted position, for rebuilding the
// position tracker's in-memory state on restart.
func (s *TradingStore) LoadPositions(ctx context.Context) ([]PositionRow, error) {
	h, err := s.mgr.OpenReader(s.rel, tradingSchema)
	if err == ErrPartitionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()

	rows, err := h.DB.QueryContext(ctx, `SELECT instrument_key, side, quantity, avg_entry_price, realized_pnl, last_update FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("storage: query positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var p PositionRow
		var lastUpdateUnix int64
		if err := rows.Scan(&p.InstrumentKey, &p.Side, &p.Quantity, &p.AvgEntryPrice, &p.RealizedPnL, &lastUpdateUnix); err != nil {
			return nil, fmt.Errorf("storage: scan position: %w", err)
		}
		p.LastUpdate = time.Unix(lastUpdateUnix, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// OrderExistsForIdempotencyKey checks whether an order was already
// saved under key. The execution engine does not call it; its duplicate
// check is its in-memory set of seen signal ids.
func (s *TradingStore) OrderExistsForIdempotencyKey(ctx context.Context, key string) (bool, error) {
	h, err := s.mgr.OpenReader(s.rel, tradingSchema)
	if err == ErrPartitionNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer h.Close()

	var count int
	row := h.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE idempotency_key = ?`, key)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("storage: check idempotency key: %w", err)
	}
	return count > 0, nil
}
