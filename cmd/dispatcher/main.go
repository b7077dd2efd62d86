package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang-wa-dispatch/internal/adapters/gateway/fonnte"
	"golang-wa-dispatch/internal/adapters/lock/filelock"
	lockpg "golang-wa-dispatch/internal/adapters/lock/postgres"
	logpg "golang-wa-dispatch/internal/adapters/logbook/postgres"
	"golang-wa-dispatch/internal/adapters/logbook/sqlite"
	"golang-wa-dispatch/internal/adapters/source/csvfile"
	"golang-wa-dispatch/internal/app"
	"golang-wa-dispatch/internal/domain"
	"golang-wa-dispatch/internal/pacer"
	"golang-wa-dispatch/internal/ports"

	cfg "golang-wa-dispatch/internal/config"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	_ = godotenv.Load()

	if err := run(log); err != nil {
		log.Error("dispatcher failed", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	conf := cfg.FromEnv()

	// ── Adapters ─────────────────────────────────────────────────────────────
	logbook, closeLog, err := openLogbook(conf)
	if err != nil {
		return fmt.Errorf("open outcome log: %w", err)
	}
	defer closeLog()

	lock, closeLock, err := openLock(conf)
	if err != nil {
		return fmt.Errorf("open run lock: %w", err)
	}
	defer closeLock()

	source := csvfile.New(conf.RecipientsCSV)
	gateway := fonnte.New(conf.GatewayURL)

	// ── Engine ───────────────────────────────────────────────────────────────
	engine := app.NewDispatchEngine(source, gateway, logbook, lock, pacer.NewFixedDelay(conf.SendInterval), log)
	engine.SetLockWait(conf.LockWait)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.CronSpec == "" {
		return runOnce(ctx, engine, conf, log)
	}

	// Resident mode: fire whole runs on the cron schedule. Overlapping
	// fires are absorbed by the run lock.
	c := cron.New()
	if _, err := c.AddFunc(conf.CronSpec, func() {
		if err := runOnce(ctx, engine, conf, log); err != nil {
			log.Error("scheduled dispatch failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("parse cron spec %q: %w", conf.CronSpec, err)
	}

	c.Start()
	log.Info("dispatcher scheduled", "cron", conf.CronSpec)

	<-ctx.Done()
	log.Info("shutting down dispatcher")
	<-c.Stop().Done()
	return nil
}

// runOnce executes a single dispatch run. Lock contention is informational,
// not a failure: the overlapping run simply did not happen.
func runOnce(ctx context.Context, engine *app.DispatchEngine, conf cfg.Config, log *slog.Logger) error {
	runCtx, err := conf.BuildRun()
	if err != nil {
		return err
	}

	if err := engine.Run(ctx, runCtx); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil // already logged by the engine
		}
		return err
	}
	return nil
}

func openLogbook(conf cfg.Config) (ports.OutcomeLog, func() error, error) {
	switch conf.LogDriver {
	case "postgres":
		lb, err := logpg.New(conf.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return lb, lb.Close, nil
	case "sqlite", "sqlite3":
		lb, err := sqlite.New(conf.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return lb, lb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown log driver %q", conf.LogDriver)
	}
}

func openLock(conf cfg.Config) (ports.RunLock, func() error, error) {
	switch conf.LockDriver {
	case "postgres":
		l, err := lockpg.New(conf.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case "file":
		l := filelock.New(conf.LockPath)
		l.SetStaleAfter(conf.LockStaleAfter)
		return l, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock driver %q", conf.LockDriver)
	}
}
