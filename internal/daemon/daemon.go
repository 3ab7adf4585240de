package daemon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/propledger/propledger/internal/app/executor"
	"github.com/propledger/propledger/internal/app/reconcile"
	"github.com/propledger/propledger/internal/infra/observability"
	"github.com/propledger/propledger/internal/infra/sqlite"
)

// Daemon holds the long-lived pieces every command needs.
type Daemon struct {
	Config   Config
	DB       *sqlite.DB
	Executor *executor.Executor
	Tracer   *observability.Tracer
	Engine   *reconcile.Engine
}

// New opens the database and builds the engine described by cfg.
func New(cfg Config) (*Daemon, error) {
	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	execCfg, err := cfg.ExecutorSettings()
	if err != nil {
		return nil, err
	}

	path := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.OpenPath(path)
	if err != nil {
		return nil, err
	}

	exec := executor.New(execCfg, db)
	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	eng, err := reconcile.New(db, exec, tracer, engCfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[daemon] database %s, threshold %d, days back %d",
		path, engCfg.Policy.AutoApproveThreshold, engCfg.Policy.DaysBack)
	return &Daemon{Config: cfg, DB: db, Executor: exec, Tracer: tracer, Engine: eng}, nil
}

// Close releases the database.
func (d *Daemon) Close() error {
	return d.DB.Close()
}
