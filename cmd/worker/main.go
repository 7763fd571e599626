package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/config"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/database"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/executor"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/gateway"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/intake"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/ledger"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/logger"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/monitor/entry"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/monitor/exit"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/notify"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/profitguard"
	"github.com/mayconvmartins/mvcashnode-sub001/internal/scheduler"
)

const executeJobTask = "execute_job"

// jobDispatcher bridges the intake gate to the scheduler's one-shot tasks.
type jobDispatcher struct {
	sched    *scheduler.Scheduler
	attempts int
	logger   *zap.Logger
}

func (d *jobDispatcher) Dispatch(ctx context.Context, jobID uint) {
	if err := d.sched.Enqueue(ctx, executeJobTask, jobID, d.attempts); err != nil {
		d.logger.Error("Failed to enqueue job execution", zap.Uint("job_id", jobID), zap.Error(err))
	}
}

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize exchange gateway
	gw := gateway.NewRestClient(&cfg.Exchange, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Notification pipeline
	dispatcher := notify.NewDispatcher(&notify.LogSink{Logger: log}, cfg.Notify.BufferSize, log)
	go dispatcher.Run(ctx)

	// Core engine components
	sched := scheduler.New(log)
	gate := intake.NewGate(db, gw, log)
	posLedger := ledger.New(db, log)
	guard := profitguard.New(db, gw, log)
	exec := executor.New(db, gw, posLedger, gate, dispatcher, log)
	gate.SetDispatcher(&jobDispatcher{sched: sched, attempts: cfg.Engine.ExecuteAttempts, logger: log})

	entryThresholds := entry.Thresholds{
		LateralTolerancePct: cfg.Engine.Entry.LateralTolerancePct,
		LateralCyclesMin:    cfg.Engine.Entry.LateralCyclesMin,
		RiseTriggerPct:      cfg.Engine.Entry.RiseTriggerPct,
		RiseCyclesMin:       cfg.Engine.Entry.RiseCyclesMin,
		MaxFallPct:          cfg.Engine.Entry.MaxFallPct,
		MaxMonitoringTime:   time.Duration(cfg.Engine.Entry.MaxMonitoringTimeMin) * time.Minute,
		Cooldown:            time.Duration(cfg.Engine.Entry.CooldownMin) * time.Minute,
	}
	entryMonitor := entry.New(db, gw, gate, func(uint) entry.Thresholds { return entryThresholds }, log)
	exitMonitor := exit.New(db, gw, gate, guard, dispatcher, log)

	// Task registrations
	sched.RegisterHandler(executeJobTask, func(ctx context.Context, payload interface{}) error {
		jobID, ok := payload.(uint)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", payload, executeJobTask)
		}
		return exec.ExecuteJob(ctx, jobID)
	})
	sched.RegisterPeriodic("entry_monitor",
		time.Duration(cfg.Engine.EntryIntervalSec)*time.Second, entryMonitor.Tick)
	sched.RegisterPeriodic("exit_monitor",
		time.Duration(cfg.Engine.ExitIntervalSec)*time.Second, exitMonitor.Tick)
	sched.RegisterPeriodic("limit_order_reconciliation",
		time.Duration(cfg.Engine.ReconcileIntervalSec)*time.Second, exec.ReconcilePendingLimit)

	log.Info("Starting engine workers")
	sched.Run(ctx)

	log.Info("Worker has been shut down.")
}
