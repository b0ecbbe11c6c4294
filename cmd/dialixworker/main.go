package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"dialix-pipeline/internal/classify"
	"dialix-pipeline/internal/config"
	"dialix-pipeline/internal/db"
	"dialix-pipeline/internal/estimate"
	"dialix-pipeline/internal/finalizer"
	"dialix-pipeline/internal/gender"
	"dialix-pipeline/internal/logging"
	"dialix-pipeline/internal/notify"
	"dialix-pipeline/internal/queue"
	"dialix-pipeline/internal/storage"
	"dialix-pipeline/internal/store"
	"dialix-pipeline/internal/transcription"
	"dialix-pipeline/internal/worker"
)

const (
	roleAnalysis  = "analysis"
	roleFinalizer = "finalizer"
	roleAll       = "all"
)

func main() {
	cfgPath := flag.String("config", "/etc/dialix/dialix.yaml", "config file path")
	role := flag.String("role", roleAll, "consumer role: analysis, finalizer or all")
	flag.Parse()

	if *role != roleAnalysis && *role != roleFinalizer && *role != roleAll {
		log.Fatalf("unknown role %q", *role)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Log, "dialixworker").With("role", *role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	broker, err := queue.Dial(cfg.AMQP.URL)
	if err != nil {
		log.Fatalf("amqp connect: %v", err)
	}
	defer broker.Close()
	if err := broker.DeclareQueues(cfg.AMQP.AnalysisQueue, cfg.AMQP.FinalizerQueue); err != nil {
		log.Fatalf("declare queues: %v", err)
	}
	if err := broker.DeclareTopic(cfg.AMQP.NotifyExchange); err != nil {
		log.Fatalf("declare exchange: %v", err)
	}

	st := store.New(pool)
	staging := storage.Staging{Dir: cfg.Worker.StagingDir}

	g, gctx := errgroup.WithContext(ctx)

	if *role == roleAnalysis || *role == roleAll {
		blobs, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			log.Fatalf("open storage: %v", err)
		}
		w := worker.New(worker.Deps{
			Store:       st,
			Blobs:       blobs,
			Transcriber: transcription.New(cfg.Transcription),
			Classifier:  classify.New(cfg.Classification),
			Gender:      gender.New(cfg.Gender),
			Pricer:      estimate.New(estimate.RatesFromConfig(cfg.Pricing), nil, nil),
			Staging:     staging,
		})
		runner := worker.NewRunner(w, broker, cfg.AMQP.FinalizerQueue)
		g.Go(func() error {
			return broker.Consume(gctx, cfg.AMQP.AnalysisQueue, cfg.Worker.Concurrency, runner.Handle)
		})
	}

	if *role == roleFinalizer || *role == roleAll {
		fin := finalizer.New(st, notify.New(broker, cfg.AMQP.NotifyExchange), staging)
		g.Go(func() error {
			return broker.Consume(gctx, cfg.AMQP.FinalizerQueue, cfg.AMQP.Prefetch, fin.Handle)
		})
	}

	logger.Info("dialix worker started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("consumer stopped: %v", err)
	}
	logger.Info("dialix worker stopped")
}
