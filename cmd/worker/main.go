package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ui-studio/internal/ai"
	"github.com/suPer8Hu/ui-studio/internal/config"
	"github.com/suPer8Hu/ui-studio/internal/db"
	"github.com/suPer8Hu/ui-studio/internal/session"
	"github.com/suPer8Hu/ui-studio/internal/store/rabbitmq"
	"github.com/suPer8Hu/ui-studio/internal/store/redisstore"
	"github.com/suPer8Hu/ui-studio/internal/telemetry"
)

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	cfg := config.Load()

	logger, logCloser, err := telemetry.InitLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fatal("init logger", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTelemetry(ctx, "telemetry")
		if err != nil {
			fatal("init telemetry", err)
		}
		defer shutdown()
	}

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	defer db.Close(gdb)

	var cache session.Cache
	if rds, err := redisstore.New(ctx, redisstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
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
	// the worker only runs jobs; it never publishes
	runner := session.NewJobRunner(repo, svc, nil)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		fatal("rabbit dial", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		fatal("rabbit channel", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		fatal("queue declare", err)
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		fatal("qos", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		fatal("consume", err)
	}

	logger.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			log := logger.With("worker", workerID)
			for d := range deliveries {
				jobID, err := rabbitmq.DecodeJob(d.Body)
				if err != nil {
					log.Warn("bad message", "error", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := runner.Run(ctx, jobID); err != nil {
					log.Warn("job failed", "job_id", jobID, "cost", time.Since(start), "error", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Warn("ack failed", "job_id", jobID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				msgs = nil
				continue
			}
			deliveries <- d
		}
	}
}
