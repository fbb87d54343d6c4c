package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/datalith/procflow/internal/api"
	"github.com/datalith/procflow/internal/batch"
	"github.com/datalith/procflow/internal/config"
	"github.com/datalith/procflow/internal/download"
	"github.com/datalith/procflow/internal/execution"
	"github.com/datalith/procflow/internal/monitoring"
	"github.com/datalith/procflow/internal/outputfile"
	"github.com/datalith/procflow/internal/process"
	"github.com/datalith/procflow/internal/process/shell"
	"github.com/datalith/procflow/internal/storage"
	"github.com/datalith/procflow/internal/store"
	"github.com/datalith/procflow/internal/sweep"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("procflow: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"processes_path", cfg.ProcessesPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry, err := loadRegistry(cfg.ProcessesPath, logger)
	if err != nil {
		log.Fatalf("failed to load processes: %v", err)
	}

	objectStore, err := storage.New(cfg.ObjectStore)
	if err != nil {
		log.Fatalf("failed to connect object store: %v", err)
	}
	if err := objectStore.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed to prepare bucket: %v", err)
	}

	downloader, err := download.New(cfg.Download, logger)
	if err != nil {
		log.Fatalf("failed to build downloader: %v", err)
	}

	checker := batch.NewChecker(cfg.Quota, cfg.Rights, registry)
	batches := batch.NewService(db, registry, checker, logger)

	notifier := execution.NewNotifier(db, logger)
	executions := execution.NewService(db, registry, objectStore, downloader, notifier, cfg.WorkdirBase, logger)

	monitor := monitoring.NewService(db, registry, logger)
	outputs := outputfile.NewService(db, objectStore, logger)

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()

	timeoutSweep := sweep.NewRunner("timeouts", cfg.TimeoutSweepInterval, cfg.SweepJitter,
		executions.NotifyTimeouts, logger)
	cleanupSweep := sweep.NewRunner("output-cleanup", cfg.CleanupSweepInterval, cfg.SweepJitter,
		outputs.DeleteDownloaded, logger)
	go timeoutSweep.Run(sweepCtx)
	go cleanupSweep.Run(sweepCtx)

	srv := api.NewServer(cfg.ListenAddr, batches, executions, monitor, outputs, registry, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	stopSweeps()
	executions.Wait()
}

// loadRegistry reads the process definitions file and builds the engine
// for each definition.
func loadRegistry(path string, logger *slog.Logger) (*process.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defs, err := process.LoadDefinitions(f)
	if err != nil {
		return nil, err
	}

	return process.BuildRegistry(defs, func(def process.Definition) (process.Engine, error) {
		switch def.Engine {
		case "", "shell":
			return shell.NewEngine(def.Command, def.OutputDir, logger)
		default:
			return nil, errors.New("unknown engine " + def.Engine)
		}
	})
}
