// Package storage is the ownership layer (C2): six disjoint-write
// partitions (historical, live buffer, trading, signals, config,
// backtest), each backed by an embedded SQLite file, each guarded by a
// cross-process advisory lock for writers and an in-process mutex so
// cooperative goroutines in the same process never fight each other for
// the OS lock.
//
// Every partition file is addressed relative to a single base directory
// laid out as historical/<exchange>/<N>m/<date>/<symbol>.db for historical
// candles (one file per symbol; there is no data_type path segment), and a handful of fixed paths for the other partitions (see
// historical.go, livebuffer.go, trading.go, signals.go, config.go,
// backtest.go).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Mode distinguishes a read-only handle from the partition's sole writer.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Manager owns every partition file under a base directory and enforces
// the single-writer discipline across both processes (via FileLock) and
// goroutines within this process (via per-partition in-process mutexes).
type Manager struct {
	baseDir string

	mu    sync.Mutex
	inUse map[string]*inProcessState
}

type inProcessState struct {
	mu   sync.RWMutex
	mode Mode
}

// NewManager creates a Manager rooted at baseDir, creating it if absent.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create base dir %s: %w", baseDir, err)
	}
	return &Manager{baseDir: baseDir, inUse: make(map[string]*inProcessState)}, nil
}

// Handle is an open connection to one partition file, scoped to a single
// read or write operation. Close releases both the in-process mutex and,
// for writers, the cross-process file lock.
type Handle struct {
	DB   *sql.DB
	mode Mode
	mgr  *Manager
	key  string
	lock *FileLock
}

func (m *Manager) path(rel string) string {
	return filepath.Join(m.baseDir, rel)
}

// Path exposes the absolute path backing a relative partition path, for
// callers (e.g. eod_rollover) that need to rename or copy a partition
// file directly rather than through a Handle.
func (m *Manager) Path(rel string) string {
	return m.path(rel)
}

func (m *Manager) stateFor(key string) *inProcessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.inUse[key]
	if !ok {
		s = &inProcessState{}
		m.inUse[key] = s
	}
	return s
}

// OpenReader opens rel read-only. schema is ignored: a read-only handle
// runs no DDL.
// Multiple readers may hold this concurrently; OpenReader blocks (via the
// in-process RWMutex) only while a writer in this process holds rel.
func (m *Manager) OpenReader(rel, schema string) (*Handle, error) {
	full := m.path(rel)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return nil, ErrPartitionNotFound
	}

	state := m.stateFor(rel)
	state.mu.RLock()

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", full)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		state.mu.RUnlock()
		return nil, fmt.Errorf("storage: open reader %s: %w", rel, err)
	}
	db.SetMaxOpenConns(4)

	return &Handle{DB: db, mode: ReadOnly, mgr: m, key: rel}, nil
}

// OpenWriter acquires rel's cross-process file lock (bounded by
// lockTimeout) and the in-process write mutex, applies schema, and
// returns a Handle only this goroutine may use until Close.
func (m *Manager) OpenWriter(ctx context.Context, rel, schema string) (*Handle, error) {
	full := m.path(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("storage: create partition dir for %s: %w", rel, err)
	}

	state := m.stateFor(rel)
	state.mu.Lock()

	flock, err := AcquireFileLock(ctx, full+".lock")
	if err != nil {
		state.mu.Unlock()
		return nil, err
	}

	db, err := sql.Open("sqlite", full)
	if err != nil {
		flock.Release()
		state.mu.Unlock()
		return nil, fmt.Errorf("storage: open writer %s: %w", rel, err)
	}
	db.SetMaxOpenConns(1)

	if schema != "" {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			flock.Release()
			state.mu.Unlock()
			return nil, fmt.Errorf("storage: apply schema for %s: %w", rel, err)
		}
	}

	return &Handle{DB: db, mode: ReadWrite, mgr: m, key: rel, lock: flock}, nil
}

// Close releases the handle: the SQLite connection, the cross-process
// file lock (writers only), and the in-process mutex.
func (h *Handle) Close() error {
	var err error
	if h.DB != nil {
		err = h.DB.Close()
	}
	if h.mode == ReadWrite {
		if h.lock != nil {
			h.lock.Release()
		}
		h.mgr.stateFor(h.key).mu.Unlock()
	} else {
		h.mgr.stateFor(h.key).mu.RUnlock()
	}
	return err
}

// Write rejects any attempt to execute a statement against a read-only
// handle with a typed error, instead of letting SQLite's own "readonly
// database" error leak through unlabeled.
func (h *Handle) Write(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if h.mode != ReadWrite {
		return nil, ErrReadOnly
	}
	return h.DB.ExecContext(ctx, query, args...)
}
