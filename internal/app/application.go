package app

import (
	"context"
	"fmt"

	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/services/admin"
	"github.com/openremit/remit_engine/internal/app/services/beneficiaries"
	"github.com/openremit/remit_engine/internal/app/services/fees"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/services/ledger"
	"github.com/openremit/remit_engine/internal/app/services/limits"
	"github.com/openremit/remit_engine/internal/app/services/payments"
	"github.com/openremit/remit_engine/internal/app/services/registry"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/internal/app/storage/memory"
	"github.com/openremit/remit_engine/internal/app/system"
	"github.com/openremit/remit_engine/internal/app/token"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts      storage.AccountStore
	Beneficiaries storage.BeneficiaryStore
	Payments      storage.PaymentStore
	Policy        storage.PolicyStore
}

// Options configures an Application beyond its stores.
type Options struct {
	// Self is the engine's own address on the token service: the custody
	// account deposits land in and payments leave from.
	Self string
	// Tokens is the external token service. Nil gets an empty simulator,
	// which is only useful in tests.
	Tokens token.Service
	// Clock overrides time for tests. Nil means wall clock.
	Clock exec.Clock
	// Sink receives engine events. Nil discards them.
	Sink events.Sink
	// Bootstrap seeds the policy record on startup.
	Bootstrap admin.BootstrapConfig
	// CrankSchedule enables the in-process crank worker when non-empty.
	CrankSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry      *registry.Service
	Ledger        *ledger.Service
	Payments      *payments.Service
	Beneficiaries *beneficiaries.Service
	Fees          *fees.Service
	Limits        *limits.Tracker
	Admin         *admin.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Beneficiaries == nil {
		stores.Beneficiaries = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Policy == nil {
		stores.Policy = mem
	}

	if opts.Self == "" {
		opts.Self = "remit-engine"
	}
	if opts.Tokens == nil {
		log.Warn("no token service configured; using empty simulator")
		opts.Tokens = token.NewSimulator(opts.Self)
	}
	if opts.Clock == nil {
		opts.Clock = exec.SystemClock{}
	}
	if opts.Sink == nil {
		opts.Sink = events.NopSink{}
	}

	env := exec.NewEnv(opts.Self, opts.Clock)
	gate := guard.New(stores.Accounts, stores.Policy)
	feeSvc := fees.New(stores.Policy, gate, log)
	tracker := limits.New(stores.Policy, env, log)

	adminSvc := admin.New(stores.Policy, gate, opts.Tokens, env, log)
	if _, err := adminSvc.Bootstrap(context.Background(), opts.Bootstrap); err != nil {
		return nil, fmt.Errorf("bootstrap policy: %w", err)
	}

	registrySvc := registry.New(stores.Accounts, gate, env, opts.Sink, log)
	ledgerSvc := ledger.New(stores.Accounts, stores.Policy, gate, opts.Tokens, env, opts.Sink, log)
	paymentSvc := payments.New(stores.Accounts, stores.Payments, stores.Policy, gate, feeSvc, tracker, opts.Tokens, env, opts.Sink, log)
	benSvc := beneficiaries.New(stores.Accounts, stores.Beneficiaries, stores.Policy, gate, feeSvc, opts.Tokens, env, opts.Sink, log)

	manager := system.NewManager()
	if opts.CrankSchedule != "" {
		crank := beneficiaries.NewCrank(stores.Accounts, benSvc, opts.CrankSchedule, log)
		if err := manager.Register(crank); err != nil {
			return nil, fmt.Errorf("register crank: %w", err)
		}
	}

	return &Application{
		manager:       manager,
		log:           log,
		Registry:      registrySvc,
		Ledger:        ledgerSvc,
		Payments:      paymentSvc,
		Beneficiaries: benSvc,
		Fees:          feeSvc,
		Limits:        tracker,
		Admin:         adminSvc,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.StartAll(ctx)
}

// Stop stops all background services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.StopAll(ctx)
}
