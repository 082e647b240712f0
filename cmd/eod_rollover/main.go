// Package main runs the end-of-day rollover: it promotes a trading day's
// live tick/candle buffer into the immutable historical partition, then
// recreates that day's buffer files empty. The whole operation is
// guarded by the partition's own cross-process file lock and restores
// from a pre-rollover backup on any failure, so a crash mid-rollover
// never leaves the live buffer half-migrated.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/storage"
)

const dateLayout = "2006-01-02"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	dateStr := flag.String("date", "", "trading day to roll over, YYYY-MM-DD (default: today, IST)")
	exchange := flag.String("exchange", "NSE", "exchange whose historical partitions to write")
	flag.Parse()

	logger := log.New(os.Stdout, "[eod_rollover] ", log.LstdFlags|log.Lshortfile)

	date := time.Now().In(market.IST)
	if *dateStr != "" {
		d, err := time.ParseInLocation(dateLayout, *dateStr, market.IST)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --date: %v\n", err)
			os.Exit(2)
		}
		date = d
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("failed to load config: %v", err)
		os.Exit(2)
	}

	mgr, err := storage.NewManager(cfg.Paths.StorageRoot)
	if err != nil {
		logger.Printf("failed to initialize storage manager: %v", err)
		os.Exit(1)
	}

	if err := rollover(context.Background(), mgr, *exchange, date, logger); err != nil {
		logger.Printf("rollover failed: %v", err)
		os.Exit(1)
	}
	logger.Printf("rollover complete for %s", date.Format(dateLayout))
}

func rollover(ctx context.Context, mgr *storage.Manager, exchange string, date time.Time, logger *log.Logger) error {
	ticksRel := storage.TicksRelPath(date)
	candlesRel := storage.CandlesRelPath(date)
	ticksPath := mgr.Path(ticksRel)
	candlesPath := mgr.Path(candlesRel)

	// Step 1: acquire the live-buffer writer lock, held for the duration
	// of the whole rollover so no concurrent ingestor write can race it.
	ticksLock, err := storage.AcquireFileLock(ctx, ticksPath+".lock")
	if err != nil {
		return fmt.Errorf("acquire ticks lock: %w", err)
	}
	candlesLock, err := storage.AcquireFileLock(ctx, candlesPath+".lock")
	if err != nil {
		ticksLock.Release()
		return fmt.Errorf("acquire candles lock: %w", err)
	}
	// Held only through the rename/split steps below. RecreateEmpty (step
	// 5) goes back through the Manager's normal OpenWriter path, which
	// takes this same lock itself — released beforehand so that doesn't
	// self-deadlock against the fd held here.
	locksHeld := true
	releaseLocks := func() {
		if locksHeld {
			candlesLock.Release()
			ticksLock.Release()
			locksHeld = false
		}
	}
	defer releaseLocks()

	liveStore := storage.NewLiveBufferStore(mgr)
	histStore := storage.NewHistoricalStore(mgr)

	if _, err := os.Stat(ticksPath); os.IsNotExist(err) {
		logger.Printf("no ticks buffer for %s, nothing to roll over", date.Format(dateLayout))
		return nil
	}

	// Step 2: verify integrity of both live files before touching anything.
	tickCount, err := liveStore.AllTicksCount(ctx, date)
	if err != nil {
		return fmt.Errorf("integrity check (ticks): %w", err)
	}
	bars, err := liveStore.AllCandles(ctx, date)
	if err != nil {
		return fmt.Errorf("integrity check (candles): %w", err)
	}
	logger.Printf("verified %d ticks, %d candles for %s", tickCount, len(bars), date.Format(dateLayout))

	// Back up both files before any destructive step, so a failure partway
	// through can restore the pre-rollover state exactly.
	backupDir, err := os.MkdirTemp("", "eod_rollover_backup_")
	if err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	defer os.RemoveAll(backupDir)

	ticksBackup := filepath.Join(backupDir, "ticks_today.db")
	candlesBackup := filepath.Join(backupDir, "candles_today.db")
	if err := copyFile(ticksPath, ticksBackup); err != nil {
		return fmt.Errorf("backup ticks: %w", err)
	}
	if err := copyFile(candlesPath, candlesBackup); err != nil {
		return fmt.Errorf("backup candles: %w", err)
	}

	restore := func(cause error) error {
		logger.Printf("restoring pre-rollover backup after failure: %v", cause)
		if err := copyFile(ticksBackup, ticksPath); err != nil {
			logger.Printf("CRITICAL: failed to restore ticks backup: %v", err)
		}
		if err := copyFile(candlesBackup, candlesPath); err != nil {
			logger.Printf("CRITICAL: failed to restore candles backup: %v", err)
		}
		return cause
	}

	// Step 3: archive ticks_today out of the live buffer. Raw ticks are
	// not part of the queryable historical partition (only candles are);
	// they are kept for audit under historical/<exchange>/ticks/<date>.
	archiveDir := filepath.Join(mgr.Path(filepath.Join("historical", exchange, "ticks")), date.Format(dateLayout))
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return restore(fmt.Errorf("create tick archive dir: %w", err))
	}
	if err := os.Rename(ticksPath, filepath.Join(archiveDir, "ticks.db")); err != nil {
		return restore(fmt.Errorf("archive ticks_today: %w", err))
	}

	// Step 4: split candles_today by (symbol, timeframe) into the
	// historical partition.
	groups := make(map[string][]market.OHLCVBar)
	for _, b := range bars {
		key := b.Symbol + "|" + b.Timeframe.String()
		groups[key] = append(groups[key], b)
	}
	for _, group := range groups {
		if err := histStore.WriteHistoricalCandles(ctx, exchange, group, date); err != nil {
			return restore(fmt.Errorf("write historical candles: %w", err))
		}
	}

	// Step 5: recreate empty live-buffer files with a fresh schema. Release
	// the external locks first so this can reacquire them itself through
	// the normal Manager writer path.
	releaseLocks()
	if err := liveStore.RecreateEmpty(ctx, date); err != nil {
		return restore(fmt.Errorf("recreate live buffer: %w", err))
	}

	// Step 6: locks already released above.
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
