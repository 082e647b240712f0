// Package main verifies the storage layout's health: that every fixed
// partition exists and opens cleanly, that no writer lock is held by a
// dead process, and that the storage volume has headroom left. It is
// meant to be run by an external monitor/cron, not by the trading
// process itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/disk"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/storage"
)

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	minFreePct := flag.Float64("min-free-pct", 10.0, "minimum free disk space percent before flagging unhealthy")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	var results []checkResult
	results = append(results, checkLayout(cfg.Paths.StorageRoot)...)
	results = append(results, checkPartitions(cfg.Paths.StorageRoot)...)
	results = append(results, checkStaleLocks(cfg.Paths.StorageRoot)...)
	results = append(results, checkDiskSpace(cfg.Paths.StorageRoot, *minFreePct))

	printResults(results)

	for _, r := range results {
		if !r.ok {
			os.Exit(1)
		}
	}
	os.Exit(0)
}

func checkLayout(root string) []checkResult {
	info, err := os.Stat(root)
	if err != nil {
		return []checkResult{{"storage root", false, err.Error()}}
	}
	if !info.IsDir() {
		return []checkResult{{"storage root", false, "exists but is not a directory"}}
	}
	return []checkResult{{"storage root", true, root}}
}

func checkPartitions(root string) []checkResult {
	mgr, err := storage.NewManager(root)
	if err != nil {
		return []checkResult{{"partitions", false, err.Error()}}
	}
	ctx := context.Background()

	var results []checkResult
	checks := []struct {
		name string
		rel  string
	}{
		{"trading/trading.db", "trading/trading.db"},
		{"signals/signals.db", "signals/signals.db"},
		{"config/config.db", "config/config.db"},
		{"backtest/index.db", "backtest/index.db"},
	}
	for _, c := range checks {
		full := mgr.Path(c.rel)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			results = append(results, checkResult{c.name, false, "missing (run init_db)"})
			continue
		}
		h, err := mgr.OpenReader(c.rel, "")
		if err != nil {
			results = append(results, checkResult{c.name, false, fmt.Sprintf("open failed: %v", err)})
			continue
		}
		err = h.DB.PingContext(ctx)
		h.Close()
		if err != nil {
			results = append(results, checkResult{c.name, false, fmt.Sprintf("integrity check failed: %v", err)})
			continue
		}
		results = append(results, checkResult{c.name, true, "ok"})
	}
	return results
}

// checkStaleLocks walks the storage tree for *.lock files and checks
// whether the PID recorded inside is still alive. A lock file whose
// owning process no longer exists is stale: the rollover or ingest job
// that held it died without releasing it.
func checkStaleLocks(root string) []checkResult {
	var results []checkResult
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".lock") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			results = append(results, checkResult{path, false, fmt.Sprintf("unreadable lock: %v", readErr)})
			return nil
		}
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr != nil {
			results = append(results, checkResult{path, false, "lock file does not contain a valid pid"})
			return nil
		}
		if pidAlive(pid) {
			results = append(results, checkResult{path, true, fmt.Sprintf("held by live pid %d", pid)})
		} else {
			results = append(results, checkResult{path, false, fmt.Sprintf("stale: pid %d is not running", pid)})
		}
		return nil
	})
	return results
}

// pidAlive sends signal 0, which performs no action but still reports
// ESRCH if the process doesn't exist.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func checkDiskSpace(root string, minFreePct float64) checkResult {
	usage, err := disk.Usage(root)
	if err != nil {
		return checkResult{"disk space", false, err.Error()}
	}
	freePct := 100.0 - usage.UsedPercent
	detail := fmt.Sprintf("%.1f%% free (%.1f%% used of %s)", freePct, usage.UsedPercent, humanize.Bytes(usage.Total))
	return checkResult{"disk space", freePct >= minFreePct, detail}
}

func printResults(results []checkResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Check", "Status", "Detail")
	for _, r := range results {
		status := "OK"
		if !r.ok {
			status = "FAIL"
		}
		table.Append(r.name, status, r.detail)
	}
	table.Render()
}
