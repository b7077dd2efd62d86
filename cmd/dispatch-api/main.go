package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-wa-dispatch/internal/adapters/gateway/fonnte"
	"golang-wa-dispatch/internal/adapters/lock/filelock"
	lockpg "golang-wa-dispatch/internal/adapters/lock/postgres"
	logpg "golang-wa-dispatch/internal/adapters/logbook/postgres"
	"golang-wa-dispatch/internal/adapters/logbook/sqlite"
	"golang-wa-dispatch/internal/adapters/source/csvfile"
	"golang-wa-dispatch/internal/app"
	"golang-wa-dispatch/internal/domain"
	"golang-wa-dispatch/internal/middleware"
	"golang-wa-dispatch/internal/pacer"
	"golang-wa-dispatch/internal/ports"
	"golang-wa-dispatch/internal/transport"

	cfg "golang-wa-dispatch/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))

	_ = godotenv.Load()

	if err := run(log); err != nil {
		log.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	conf := cfg.FromEnv()

	logbook, closeLog, err := openLogbook(conf)
	if err != nil {
		return errors.New("failed to open outcome log: " + err.Error())
	}
	defer closeLog()

	lock, closeLock, err := openLock(conf)
	if err != nil {
		return errors.New("failed to open run lock: " + err.Error())
	}
	defer closeLock()

	source := csvfile.New(conf.RecipientsCSV)
	gateway := fonnte.New(conf.GatewayURL)

	engine := app.NewDispatchEngine(source, gateway, logbook, lock, pacer.NewFixedDelay(conf.SendInterval), log)
	engine.SetLockWait(conf.LockWait)

	fiberApp := fiber.New(fiber.Config{
		AppName:               "dispatch-api",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ServerHeader:          "",
		BodyLimit:             1 * 1024 * 1024, // 1MB
	})

	// ── Global middleware ────────────────────────────────────────────────────
	fiberApp.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	fiberApp.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${method} ${path} ${latency}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	fiberApp.Use(middleware.RequestID())
	fiberApp.Use(middleware.SecurityHeaders())
	fiberApp.Use(middleware.CORS())

	rateLimiter := middleware.NewIPRateLimiter(100, 1*time.Minute)
	fiberApp.Use(rateLimiter.Middleware())

	// ── Routes ───────────────────────────────────────────────────────────────
	fiberApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	newRun := func() (domain.RunContext, error) { return conf.BuildRun() }
	handler := transport.NewHandler(engine, logbook, newRun, log)
	api := fiberApp.Group("/api")
	handler.Register(api)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("dispatch-api started", "addr", conf.HTTPAddr)
		if err := fiberApp.Listen(conf.HTTPAddr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := fiberApp.ShutdownWithContext(shutdownCtx); err != nil {
		return errors.New("failed to shutdown gracefully: " + err.Error())
	}

	log.Info("dispatch-api stopped gracefully")
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
