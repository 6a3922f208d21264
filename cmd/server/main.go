package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/gauge-set-tracker/internal/config"
	"github.com/iliyamo/gauge-set-tracker/internal/database"
	"github.com/iliyamo/gauge-set-tracker/internal/handler"
	"github.com/iliyamo/gauge-set-tracker/internal/logger"
	"github.com/iliyamo/gauge-set-tracker/internal/middleware"
	"github.com/iliyamo/gauge-set-tracker/internal/queue"
	"github.com/iliyamo/gauge-set-tracker/internal/repository"
	"github.com/iliyamo/gauge-set-tracker/internal/router"
	"github.com/iliyamo/gauge-set-tracker/internal/service"
)

const serviceName = "gauge-set-tracker"

func main() {
	cfg := config.Load()

	lg, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		lg.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Events are best effort: a nil publisher simply disables them.
	var events service.EventPublisher
	if cfg.EventsEnabled {
		events = queue.NewPublisher(cfg.RabbitURL, lg)
	}
	if cfg.EventsConsumerEnabled {
		consumer := queue.NewConsumer(cfg.RabbitURL, cfg.EventLogDir, lg)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("event consumer stopped", zap.Error(err))
			}
		}()
	}

	runner := database.NewTxRunner(db, cfg.LockWaitTimeout)
	pairs := repository.NewPairRepo(db)
	certs := repository.NewCertificateRepo(db)
	audit := repository.NewAuditRepo(db)

	pairSvc := service.NewPairService(runner, pairs, audit, events, lg)
	calSvc := service.NewCalibrationService(runner, pairs, certs, audit, events, lg)

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		lg.Warn("redis unavailable; rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Debug = !cfg.IsProduction()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.RegisterRoutes(e, router.Handlers{
		Pair:        handler.NewPairHandler(pairSvc, lg),
		Calibration: handler.NewCalibrationHandler(calSvc, lg),
		DB:          db,
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Limiter:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, lg),
		Cache:     middleware.NewResponseCache(config.LoadCacheConfig(), rdb, lg),
	})

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env),
			zap.Bool("events", cfg.EventsEnabled), zap.Duration("lock_wait", cfg.LockWaitTimeout))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown failed", zap.Error(err))
	}
	lg.Info("stopped")
}
