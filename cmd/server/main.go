package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bioattend/internal/attendance/handler"
	"bioattend/internal/bus"
	"bioattend/internal/events"
	httpapi "bioattend/internal/http"
	"bioattend/internal/ledger"
	"bioattend/internal/matcher"
	"bioattend/internal/override"
	"bioattend/internal/platform/config"
	"bioattend/internal/platform/httpserver"
	"bioattend/internal/platform/logger"
	"bioattend/internal/platform/metrics"
	"bioattend/internal/platform/middleware"
	"bioattend/internal/platform/postgres"
	platformredis "bioattend/internal/platform/redis"
	"bioattend/internal/snapshot"
	"bioattend/internal/stream"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		records     ledger.Store
		schedules   ledger.ScheduleStore
		enrollments matcher.EnrollmentStore
	)
	if db != nil {
		records = ledger.NewPostgresStore(db)
		schedules = ledger.NewPostgresScheduleStore(db, cfg.LateThreshold)
		enrollments = matcher.NewPostgresEnrollmentStore(db)
		log.Info("using postgres stores")
	} else {
		records = ledger.NewInMemoryStore()
		schedules = ledger.NewInMemoryScheduleStore()
		enrollments = matcher.NewInMemoryEnrollmentStore()
		log.Warn("no POSTGRES_DSN configured, using in-memory stores")
	}

	verifier, err := matcher.NewService(
		matcher.NewHTTPExtractor(cfg.ExtractorURL),
		enrollments,
		cfg.SimilarityThreshold,
	)
	if err != nil {
		log.Error("failed to build matcher", "error", err)
		os.Exit(1)
	}

	// Fanout: local hub, optionally bridged across instances via Redis,
	// optionally mirrored durably to Kafka.
	hub := bus.NewHub(m)
	var fanout bus.Bus = hub

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	group, ctx := errgroup.WithContext(ctx)

	if redisClient != nil {
		defer redisClient.Close()
		bridge := bus.NewRedisBridge(hub, redisClient, log)
		fanout = bridge
		group.Go(func() error { return bridge.Run(ctx) })
		log.Info("redis fanout bridge enabled")
	}

	publisher := bus.MultiPublisher{fanout}
	kafkaPublisher, err := events.NewKafkaPublisher(ctx, cfg.Kafka, log)
	if err != nil {
		log.Error("failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	if kafkaPublisher != nil {
		publisher = append(publisher, kafkaPublisher)
		log.Info("kafka event mirror enabled", "topic", cfg.Kafka.Topic)
	}

	var snapshots ledger.SnapshotStore
	if cfg.SnapshotDir != "" {
		fsStore, err := snapshot.NewFilesystemStore(cfg.SnapshotDir)
		if err != nil {
			log.Error("failed to prepare snapshot dir", "error", err)
			os.Exit(1)
		}
		snapshots = fsStore
	}

	ledgerSvc, err := ledger.NewService(records, schedules, verifier, publisher, snapshots, m, log, cfg.LateThreshold)
	if err != nil {
		log.Error("failed to build ledger service", "error", err)
		os.Exit(1)
	}
	overrideSvc, err := override.NewService(ledgerSvc, publisher, m, log)
	if err != nil {
		log.Error("failed to build override service", "error", err)
		os.Exit(1)
	}

	validator := middleware.NewJWTValidator(cfg.JWTSigningKey)
	router := httpapi.NewRouter(
		handler.New(ledgerSvc, overrideSvc, log),
		stream.NewHandler(fanout, log),
		validator,
		log,
	)

	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		log.Info("starting bioattend server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if kafkaPublisher != nil {
			_ = kafkaPublisher.Close(shutdownCtx)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
