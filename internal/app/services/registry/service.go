// Package registry implements the account directory: registration and
// profile lookup.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openremit/remit_engine/internal/app/domain/account"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Service manages account registration and profile views.
type Service struct {
	accounts storage.AccountStore
	gate     *guard.Gate
	env      *exec.Env
	sink     events.Sink
	log      *logger.Logger
}

// New creates a configured registry service.
func New(accounts storage.AccountStore, gate *guard.Gate, env *exec.Env, sink events.Sink, log *logger.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{accounts: accounts, gate: gate, env: env, sink: sink, log: log}
}

// Register creates the caller's account. Each identity registers exactly
// once; re-registration fails with ErrUserAlreadyRegistered.
func (s *Service) Register(ctx context.Context, caller, name, country, phone string) (account.Account, error) {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return account.Account{}, err
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return account.Account{}, remit.ErrInvalidConfiguration
	}

	acct := account.Account{
		Address:      caller,
		Name:         strings.TrimSpace(name),
		Country:      strings.TrimSpace(country),
		Phone:        strings.TrimSpace(phone),
		Active:       true,
		RegisteredAt: s.env.Unix(),
		Balances:     map[string]uint64{},
	}

	created, err := s.accounts.CreateAccount(ctx, acct)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return account.Account{}, remit.ErrUserAlreadyRegistered
		}
		return account.Account{}, fmt.Errorf("create account: %w", err)
	}

	e := events.New(events.TypeUserRegistered, s.env.Now())
	e.Account = created.Address
	e.Fields = map[string]string{"name": created.Name, "country": created.Country}
	s.sink.Emit(e)

	s.log.WithField("account", created.Address).Info("user registered")
	return created, nil
}

// Profile returns the account's profile. The internal balance mapping is
// queried separately through the balance ledger.
func (s *Service) Profile(ctx context.Context, address string) (account.Account, error) {
	acct, err := s.accounts.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, remit.ErrNotRegistered
		}
		return account.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// List returns every registered account.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	return s.accounts.ListAccounts(ctx)
}
