package beneficiaries

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openremit/remit_engine/internal/app/metrics"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Crank sweeps every account's due beneficiaries on a cron schedule and
// executes them. It is an in-process stand-in for external keeper bots:
// executions it drives are indistinguishable from cranks arriving over the
// API.
type Crank struct {
	mu sync.Mutex

	accounts storage.AccountStore
	svc      *Service
	schedule string
	log      *logger.Logger

	cron    *cron.Cron
	running bool
}

// NewCrank creates a crank worker. schedule is a standard 5-field cron
// expression; "@every 1m" style descriptors also work.
func NewCrank(accounts storage.AccountStore, svc *Service, schedule string, log *logger.Logger) *Crank {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if log == nil {
		log = logger.NewDefault("crank")
	}
	return &Crank{accounts: accounts, svc: svc, schedule: schedule, log: log}
}

// Name implements system.Service.
func (c *Crank) Name() string { return "crank" }

// Start begins the schedule. Safe to call once.
func (c *Crank) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("crank already running")
	}

	runner := cron.New()
	if _, err := runner.AddFunc(c.schedule, func() { c.Sweep(ctx) }); err != nil {
		return fmt.Errorf("parse crank schedule %q: %w", c.schedule, err)
	}
	runner.Start()

	c.cron = runner
	c.running = true
	c.log.WithField("schedule", c.schedule).Info("crank started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (c *Crank) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	done := c.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.log.Info("crank stopped")
	return nil
}

// Sweep runs one pass over all accounts, executing every pending
// auto-payment it finds. Individual execution failures are logged and
// skipped.
func (c *Crank) Sweep(ctx context.Context) {
	started := time.Now()
	executed := 0

	accounts, err := c.accounts.ListAccounts(ctx)
	if err != nil {
		c.log.WithError(err).Error("crank sweep: list accounts")
		return
	}

	for _, acct := range accounts {
		pending, err := c.svc.Pending(ctx, acct.Address)
		if err != nil {
			c.log.WithError(err).WithField("account", acct.Address).Warn("crank sweep: pending lookup")
			continue
		}
		for _, index := range pending {
			if err := c.svc.Execute(ctx, acct.Address, index); err != nil {
				c.log.WithError(err).
					WithField("account", acct.Address).
					WithField("index", index).
					Warn("crank execution failed")
				continue
			}
			executed++
		}
	}

	metrics.RecordCrankRun(time.Since(started))
	if executed > 0 {
		c.log.WithField("executed", executed).Info("crank sweep complete")
	}
}
