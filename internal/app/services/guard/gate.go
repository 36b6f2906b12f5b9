// Package guard implements the authorization gate every mutating operation
// passes through: the pause switch, the owner check and the registration
// check. All three are pure reads with no side effects.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/storage"
)

// Gate evaluates the engine's access preconditions.
type Gate struct {
	accounts storage.AccountStore
	policy   storage.PolicyStore
}

// New creates a gate over the given stores.
func New(accounts storage.AccountStore, policy storage.PolicyStore) *Gate {
	return &Gate{accounts: accounts, policy: policy}
}

// NotPaused fails with ErrContractPaused while the pause switch is set.
func (g *Gate) NotPaused(ctx context.Context) error {
	st, err := g.policy.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if st.Paused {
		return remit.ErrContractPaused
	}
	return nil
}

// OwnerOnly fails with ErrUnauthorized unless caller is the engine owner.
func (g *Gate) OwnerOnly(ctx context.Context, caller string) error {
	st, err := g.policy.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if caller == "" || caller != st.Owner {
		return remit.ErrUnauthorized
	}
	return nil
}

// Registered fails with ErrNotRegistered unless caller has an account.
func (g *Gate) Registered(ctx context.Context, caller string) error {
	if _, err := g.accounts.GetAccount(ctx, caller); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return remit.ErrNotRegistered
		}
		return fmt.Errorf("load account: %w", err)
	}
	return nil
}
