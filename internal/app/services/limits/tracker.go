// Package limits implements per-account daily spend accounting. Limits are
// keyed by day number (floor of unix seconds over 86400), so they reset
// implicitly at day rollover with no explicit reset step.
package limits

import (
	"context"
	"fmt"

	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Tracker checks and records gross outbound payment volume per account per
// day. A zero limit means unlimited.
type Tracker struct {
	policy storage.PolicyStore
	env    *exec.Env
	log    *logger.Logger
}

// New creates a tracker.
func New(policy storage.PolicyStore, env *exec.Env, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.NewDefault("limits")
	}
	return &Tracker{policy: policy, env: env, log: log}
}

// Check fails with ErrExceedsLimit when spending amount would push today's
// accumulator past the account's limit.
func (t *Tracker) Check(ctx context.Context, address string, amount uint64) error {
	limit, err := t.policy.GetDailyLimit(ctx, address)
	if err != nil {
		return fmt.Errorf("load daily limit: %w", err)
	}
	if limit == 0 {
		return nil
	}

	spent, err := t.policy.GetDailySpent(ctx, address, t.env.Day())
	if err != nil {
		return fmt.Errorf("load daily spent: %w", err)
	}
	if spent+amount > limit {
		return remit.ErrExceedsLimit
	}
	return nil
}

// Record adds amount to today's accumulator.
func (t *Tracker) Record(ctx context.Context, address string, amount uint64) error {
	if _, err := t.policy.AddDailySpent(ctx, address, t.env.Day(), amount); err != nil {
		return fmt.Errorf("record daily spent: %w", err)
	}
	return nil
}

// Limit returns the account's configured daily limit (0 = unlimited).
func (t *Tracker) Limit(ctx context.Context, address string) (uint64, error) {
	return t.policy.GetDailyLimit(ctx, address)
}

// SpentToday returns the gross volume the account has spent so far today.
func (t *Tracker) SpentToday(ctx context.Context, address string) (uint64, error) {
	return t.policy.GetDailySpent(ctx, address, t.env.Day())
}
