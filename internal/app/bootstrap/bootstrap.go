package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	consensusengine "crowdproof/contexts/verification/consensus-engine"
	metricsadapter "crowdproof/contexts/verification/consensus-engine/adapters/metrics"
	postgresadapter "crowdproof/contexts/verification/consensus-engine/adapters/postgres"
	workerapp "crowdproof/contexts/verification/consensus-engine/application/workers"
	"crowdproof/contexts/verification/consensus-engine/domain/services"
	"crowdproof/internal/platform/config"
	"crowdproof/internal/platform/db"
	"crowdproof/internal/platform/httpserver"
	"crowdproof/internal/platform/messaging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const (
	metricsNamespace = "crowdproof"
	shutdownTimeout  = 10 * time.Second
)

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres          *db.Postgres
	outboxRelay       workerapp.OutboxRelay
	uploads           workerapp.EvidenceUploadConsumer
	reconciler        workerapp.StatusReconciler
	pollInterval      time.Duration
	reconcileInterval time.Duration
	logger            *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	pg, err := connectPostgres(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	module, err := buildModule(cfg, pg, metricsadapter.PrometheusMetrics(metricsNamespace, registry), logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	server := httpserver.New(module, registry, pg.Ping, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	pg, err := connectPostgres(cfg, logger)
	if err != nil {
		return nil, err
	}

	bus, err := messaging.NewBus(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	// Worker-side transitions come from the reconciler only; its counters are
	// not scraped, so they go to a private registry.
	module, err := buildModule(cfg, pg, metricsadapter.PrometheusMetrics(metricsNamespace, prometheus.NewRegistry()), logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	return &WorkerApp{
		postgres: pg,
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    repo,
			Publisher: bus,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		uploads: workerapp.EvidenceUploadConsumer{
			Subscriber:    bus,
			Dedup:         repo,
			Registrar:     module.Evidence,
			Clock:         postgresadapter.SystemClock{},
			ConsumerGroup: "consensus-engine-evidence-upload-cg",
			DedupTTL:      cfg.IdempotencyTTL,
			Disabled:      !cfg.EnableEvidenceUploadConsumer,
			Logger:        logger,
		},
		reconciler: workerapp.StatusReconciler{
			Evidence:    repo,
			Reevaluator: module.Verifications,
			PageSize:    200,
			Logger:      logger,
		},
		pollInterval:      cfg.WorkerPollInterval,
		reconcileInterval: cfg.ReconcileInterval,
		logger:            logger,
	}, nil
}

func connectPostgres(cfg config.Config, logger *slog.Logger) (*db.Postgres, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	pg, err := db.Connect(cfg.PostgresDSN, db.Options{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := postgresadapter.Migrate(pg.DB); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate consensus schema: %w", err)
		}
		logger.Info("consensus schema migrated",
			"event", "bootstrap_schema_migrated",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return pg, nil
}

func buildModule(
	cfg config.Config,
	pg *db.Postgres,
	metrics *metricsadapter.Metrics,
	logger *slog.Logger,
) (consensusengine.Module, error) {
	policy := services.Policy{
		Quorum:         cfg.Consensus.Quorum,
		VerifyPercent:  cfg.Consensus.VerifyPercent,
		RejectPercent:  cfg.Consensus.RejectPercent,
		FlagPercent:    cfg.Consensus.FlagPercent,
		TerminalStates: cfg.Consensus.TerminalStates,
	}
	if err := policy.Validate(); err != nil {
		return consensusengine.Module{}, fmt.Errorf("consensus policy: %w", err)
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	return consensusengine.NewModule(consensusengine.Dependencies{
		Evidence:             repo,
		Ledger:               repo,
		Verifiers:            repo,
		Idempotency:          repo,
		Audit:                repo,
		Metrics:              metrics,
		Clock:                postgresadapter.SystemClock{},
		IDGen:                postgresadapter.UUIDGenerator{},
		Policy:               policy,
		MaxAttempts:          cfg.Consensus.MaxAttempts,
		RetryInitialInterval: cfg.Consensus.RetryInterval,
		IdempotencyTTL:       cfg.IdempotencyTTL,
		Logger:               logger,
	}), nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(a.server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.uploads.Start(ctx); err != nil {
		return err
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
		"reconcile_interval", w.reconcileInterval.String(),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runEvery(groupCtx, w.pollInterval, w.outboxRelay.RunOnce)
	})
	group.Go(func() error {
		return runEvery(groupCtx, w.reconcileInterval, func(ctx context.Context) error {
			report, err := w.reconciler.RunOnce(ctx)
			if err != nil {
				return err
			}
			w.logger.Info("consensus reconcile cycle finished",
				"event", "bootstrap_reconcile_cycle",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"scanned", report.Scanned,
				"changed", report.Changed,
				"failed", report.Failed,
			)
			return nil
		})
	})
	return group.Wait()
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
