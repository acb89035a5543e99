package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/ui-studio/internal/ai"
	"github.com/suPer8Hu/ui-studio/internal/config"
	"github.com/suPer8Hu/ui-studio/internal/db"
	"github.com/suPer8Hu/ui-studio/internal/httpapi"
	"github.com/suPer8Hu/ui-studio/internal/httpapi/handlers"
	"github.com/suPer8Hu/ui-studio/internal/session"
	"github.com/suPer8Hu/ui-studio/internal/store/rabbitmq"
	"github.com/suPer8Hu/ui-studio/internal/store/redisstore"
	"github.com/suPer8Hu/ui-studio/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, logCloser, err := telemetry.InitLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		slog.Error("init logger", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTelemetry(ctx, "telemetry")
		if err != nil {
			logger.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer shutdown()
	}

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	defer db.Close(gdb)
	if err := session.AutoMigrate(gdb); err != nil {
		logger.Error("automigrate", "error", err)
		os.Exit(1)
	}

	// the cache is optional: without it every read goes to the store
	var cache session.Cache
	rds, err := redisstore.New(ctx, redisstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without cache", "error", err)
	} else {
		defer rds.Close()
		cache = rds
	}

	repo := session.NewRepo(gdb)
	svc := session.NewService(repo, cache, ai.NewDefaultRegistry(cfg), session.Options{
		Provider:          cfg.AIProvider,
		Model:             cfg.AIModel,
		ListTTL:           cfg.CacheListTTL,
		GenerationTimeout: cfg.GenerationTimeout,
	})

	var jobs *session.JobRunner
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		logger.Warn("rabbitmq unavailable, chat jobs disabled", "error", err)
	} else {
		defer pub.Close()
		jobs = session.NewJobRunner(repo, svc, pub)
	}

	r := httpapi.NewRouter(cfg, handlers.NewHandler(svc, jobs))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr, "provider", cfg.AIProvider, "model", cfg.AIModel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
