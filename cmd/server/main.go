package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"custodia/internal/authz"
	"custodia/internal/contentref"
	"custodia/internal/jwttoken"
	"custodia/internal/ledger"
	ledgermetrics "custodia/internal/ledger/metrics"
	"custodia/internal/ledger/ports"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/platform/config"
	"custodia/internal/platform/database"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	platformmetrics "custodia/internal/platform/metrics"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/telemetry"
	"custodia/internal/transfer"
	httptransport "custodia/internal/transport/http"
	"custodia/internal/verify"
	audit "custodia/pkg/platform/audit"
	auditrelay "custodia/pkg/platform/audit/relay"
	auditmemory "custodia/pkg/platform/audit/store/memory"
	auditpostgres "custodia/pkg/platform/audit/store/postgres"
)

// main wires dependencies and owns the process lifecycle. Business
// logic lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "custodia: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		batchStore ledgerstore.Store
		authzStore authz.Store
		auditStore audit.Store
		outbox     *auditpostgres.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		batchStore = ledgerstore.NewPostgres(db)
		authzStore = authz.NewPostgresStore(db)
		outbox = auditpostgres.New(db)
		auditStore = outbox
		log.Info("using postgres stores")
	} else {
		batchStore = ledgerstore.NewInMemory()
		authzStore = authz.NewInMemoryStore()
		auditStore = auditmemory.New()
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	auditPub := audit.NewPublisher(auditStore)
	authzSvc := authz.NewService(authzStore, auditPub)

	var refs ports.ContentRefs = contentref.NewInMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		refs = contentref.NewRedis(redisClient.Client)
		log.Info("content references backed by redis")
	}

	policy := telemetry.DefaultPolicy()
	if cfg.TemperaturePolicyJSON != "" {
		policy, err = telemetry.PolicyFromJSON([]byte(cfg.TemperaturePolicyJSON))
		if err != nil {
			return fmt.Errorf("temperature policy: %w", err)
		}
	}

	metrics := ledgermetrics.New()
	httpMetrics := platformmetrics.New()
	ledgerSvc := ledger.NewService(batchStore, authzSvc, auditPub,
		ledger.WithLogger(log), ledger.WithMetrics(metrics), ledger.WithContentRefs(refs))
	telemetrySvc := telemetry.NewService(batchStore, authzSvc, auditPub, policy,
		telemetry.WithLogger(log), telemetry.WithMetrics(metrics), telemetry.WithContentRefs(refs))
	transferSvc := transfer.NewService(batchStore, authzSvc, auditPub,
		transfer.WithLogger(log), transfer.WithMetrics(metrics), transfer.WithContentRefs(refs))
	verifySvc := verify.NewService(batchStore)

	tokens := jwttoken.NewService(cfg.JWTSigningKey, "custodia", "custodia-api")
	handler := httptransport.NewHandler(ledgerSvc, telemetrySvc, transferSvc, verifySvc, authzSvc)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, tokens, httpMetrics, log))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting custodia", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	// The Kafka relay needs the transactional outbox, so it only runs
	// against postgres-backed audit storage.
	if outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		relay, err := auditrelay.New(outbox, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.RelayInterval, log)
		if err != nil {
			return fmt.Errorf("audit relay: %w", err)
		}
		g.Go(func() error {
			return relay.Run(gctx)
		})
		log.Info("audit relay enabled", "topic", cfg.Kafka.Topic)
	}

	return g.Wait()
}
