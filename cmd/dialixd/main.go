package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"dialix-pipeline/internal/audio"
	"dialix-pipeline/internal/config"
	"dialix-pipeline/internal/db"
	"dialix-pipeline/internal/dispatch"
	"dialix-pipeline/internal/estimate"
	"dialix-pipeline/internal/httpapi"
	"dialix-pipeline/internal/intervalcache"
	"dialix-pipeline/internal/logging"
	"dialix-pipeline/internal/pbx"
	"dialix-pipeline/internal/queue"
	"dialix-pipeline/internal/storage"
	"dialix-pipeline/internal/store"
)

func main() {
	cfgPath := flag.String("config", "/etc/dialix/dialix.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Log, "dialixd")

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

	blobs, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, exporting in UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}

	st := store.New(pool)
	est := estimate.New(estimate.RatesFromConfig(cfg.Pricing), audio.NewFFProbe(), st)
	disp := dispatch.New(st, blobs, broker, est, dispatch.Queues{
		Analysis:  cfg.AMQP.AnalysisQueue,
		Finalizer: cfg.AMQP.FinalizerQueue,
	})
	calls := intervalcache.New(pbx.New(cfg.PBX), intervalcache.NewPGStore(pool), cfg.PBX.SpanLimit, cfg.PBX.MarkerTTL)

	deps := httpapi.Deps{
		DB:             pool,
		Estimator:      est,
		Dispatcher:     disp,
		Calls:          calls,
		Records:        st,
		Blobs:          blobs,
		Staging:        storage.Staging{Dir: cfg.Worker.StagingDir},
		ExportLocation: loc,
	}
	if local, ok := blobs.(*storage.LocalGateway); ok {
		deps.LocalBlobs = local
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpapi.NewRouter(cfg, deps),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("dialix api listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}
