package consensusengine

import (
	"log/slog"
	"time"

	httpadapter "crowdproof/contexts/verification/consensus-engine/adapters/http"
	"crowdproof/contexts/verification/consensus-engine/adapters/memory"
	"crowdproof/contexts/verification/consensus-engine/application/commands"
	"crowdproof/contexts/verification/consensus-engine/application/queries"
	"crowdproof/contexts/verification/consensus-engine/domain/services"
	"crowdproof/contexts/verification/consensus-engine/ports"
)

type Module struct {
	Handler       httpadapter.Handler
	Verifications commands.VerificationUseCase
	Evidence      commands.EvidenceUseCase
	Store         *memory.Store
}

type Dependencies struct {
	Evidence             ports.EvidenceRepository
	Ledger               ports.Ledger
	Verifiers            ports.VerifierDirectory
	Idempotency          ports.IdempotencyStore
	Audit                ports.AuditSink
	Metrics              ports.Metrics
	Clock                ports.Clock
	IDGen                ports.IDGenerator
	Policy               services.Policy
	MaxAttempts          int
	RetryInitialInterval time.Duration
	IdempotencyTTL       time.Duration
	Logger               *slog.Logger
}

func NewModule(deps Dependencies) Module {
	verificationUseCase := commands.VerificationUseCase{
		Ledger:               deps.Ledger,
		Evidence:             deps.Evidence,
		Verifiers:            deps.Verifiers,
		Idempotency:          deps.Idempotency,
		Audit:                deps.Audit,
		Metrics:              deps.Metrics,
		Clock:                deps.Clock,
		IDGen:                deps.IDGen,
		Policy:               deps.Policy,
		MaxAttempts:          deps.MaxAttempts,
		RetryInitialInterval: deps.RetryInitialInterval,
		IdempotencyTTL:       deps.IdempotencyTTL,
		Logger:               deps.Logger,
	}
	evidenceUseCase := commands.EvidenceUseCase{
		Evidence: deps.Evidence,
		Audit:    deps.Audit,
		Clock:    deps.Clock,
		IDGen:    deps.IDGen,
		Logger:   deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Verifications: verificationUseCase,
			Evidence:      evidenceUseCase,
			Queries:       queries.EvidenceQueries{Evidence: deps.Evidence},
			Logger:        deps.Logger,
		},
		Verifications: verificationUseCase,
		Evidence:      evidenceUseCase,
	}
}

func NewInMemoryModule(policy services.Policy, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Evidence:       store,
		Ledger:         store,
		Verifiers:      store,
		Idempotency:    store,
		Audit:          store,
		Clock:          store,
		IDGen:          store,
		Policy:         policy,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
