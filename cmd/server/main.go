// Command server wires the attestation core behind its HTTP surface. All
// business logic lives in internal packages; main only builds dependencies
// and manages process lifecycle.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"attestor/internal/attestation/service"
	"attestor/internal/attestation/store"
	"attestor/internal/audit"
	"attestor/internal/cultural"
	"attestor/internal/events"
	"attestor/internal/platform/config"
	"attestor/internal/platform/httpserver"
	"attestor/internal/platform/logger"
	"attestor/internal/platform/metrics"
	"attestor/internal/signing"
	"attestor/internal/transform"
	httptransport "attestor/internal/transport/http"
	"attestor/internal/workers"
)

func main() {
	log := logger.New()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	bus := events.NewBus(log)
	defer bus.Close()

	// Storage backends: Postgres when configured, in-memory otherwise.
	var (
		attestations store.AttestationStorage
		auditStore   audit.AuditStorage
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		for _, schema := range []string{store.Schema, audit.SchemaPostgres} {
			if _, err := pool.Exec(ctx, schema); err != nil {
				log.Error("schema migration failed", "error", err)
				os.Exit(1)
			}
		}
		attestations = store.NewPostgres(pool)
		auditStore = audit.NewPostgresStore(pool)
	} else {
		attestations = store.NewInMemory()
		auditStore = audit.NewInMemoryStore()
	}

	auditLogger := audit.NewLogger(auditStore, cfg.IntegrityKey, log).WithMetrics(m)
	bus.RegisterAll(auditLogger)

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := publisher.Close(closeCtx); err != nil {
				log.Error("kafka flush on shutdown failed", "error", err)
			}
		}()
		bus.RegisterAll(publisher)
	}

	evaluator := cultural.NewEvaluator(cfg.CulturalValidation)

	keys := signing.NewInMemoryKeyStore()
	bootKey, err := signing.GenerateKey(ctx, keys)
	if err != nil {
		log.Error("bootstrap key generation failed", "error", err)
		os.Exit(1)
	}
	log.Info("bootstrap signing key ready", "keyId", bootKey.ID)

	signer := signing.NewService(keys, evaluator, log)
	lifecycle := service.NewManager(attestations, signer, evaluator, bus, m, log, service.Config{
		DefaultRetention:  cfg.Retention,
		CulturalRetention: cfg.CulturalRetention,
	})

	var vault transform.TokenVault = transform.NewMemoryVault()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		vault = transform.NewRedisVault(client, 0)
	}
	keyRing := transform.NewKeyRing(cfg.MasterKey, cfg.FieldKeyNames)
	engine := transform.NewEngine(keyRing, vault, m, log, transform.WithEventBus(bus))

	sweeper := workers.NewExpirySweeper(lifecycle, cfg.ExpirySweepInterval, log)
	go sweeper.Run(ctx)

	handler := httptransport.NewHandler(lifecycle, engine, auditLogger, keys, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	errCh := make(chan error, 1)
	go func() {
		log.Info("attestor listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
