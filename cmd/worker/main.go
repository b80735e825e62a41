package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"corpus-pipeline/internal/config"
	"corpus-pipeline/internal/logging"
	"corpus-pipeline/internal/pipeline"
	"corpus-pipeline/internal/queue"
	"corpus-pipeline/internal/store"
	"corpus-pipeline/internal/telemetry"
	"corpus-pipeline/internal/tracker"
	workerproc "corpus-pipeline/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	orch, err := pipeline.FromConfig(ctx, cfg, st, log)
	if err != nil {
		log.Fatal("build pipeline", zap.Error(err))
	}

	client := queue.NewClient(cfg)
	defer client.Close()
	q := queue.NewRedisQueue(client, cfg.VisibilityTimeout)
	lock := queue.NewJobLock(client, cfg.JobLockTTL)

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	tr := tracker.New(st, orch, log, cfg.ErrorMessageLimit)
	processor := workerproc.NewProcessor(cfg, q, lock, st, tr, log, workerID)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("worker stopped", zap.Error(err))
	}
}
