// Package ledger implements the internal balance ledger: deposits pulled in
// from the external token service and withdrawals pushed back out.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/openremit/remit_engine/internal/app/domain/account"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/metrics"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/internal/app/token"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Service moves value between the external token service and accounts'
// internal balances.
type Service struct {
	accounts storage.AccountStore
	policy   storage.PolicyStore
	gate     *guard.Gate
	tokens   token.Service
	env      *exec.Env
	sink     events.Sink
	log      *logger.Logger
}

// New creates a configured ledger service.
func New(accounts storage.AccountStore, policy storage.PolicyStore, gate *guard.Gate, tokens token.Service, env *exec.Env, sink events.Sink, log *logger.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		accounts: accounts,
		policy:   policy,
		gate:     gate,
		tokens:   tokens,
		env:      env,
		sink:     sink,
		log:      log,
	}
}

// Deposit pulls amount from the caller through the token service and credits
// the caller's internal balance. Nothing is mutated unless the pull
// succeeds.
func (s *Service) Deposit(ctx context.Context, caller, tok string, amount uint64) (account.Account, error) {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return account.Account{}, err
	}
	if err := s.gate.Registered(ctx, caller); err != nil {
		return account.Account{}, err
	}
	if amount == 0 {
		return account.Account{}, remit.ErrInvalidAmount
	}
	supported, err := s.policy.IsTokenSupported(ctx, tok)
	if err != nil {
		return account.Account{}, fmt.Errorf("check token support: %w", err)
	}
	if !supported {
		return account.Account{}, remit.ErrNotSupportedToken
	}

	ok, err := s.tokens.TransferFrom(ctx, tok, caller, s.env.Self(), amount)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).WithField("account", caller).Warn("deposit pull failed")
		}
		return account.Account{}, remit.ErrTransferFailed
	}

	acct, err := s.accounts.GetAccount(ctx, caller)
	if err != nil {
		return account.Account{}, fmt.Errorf("load account: %w", err)
	}
	acct.Balances[tok] += amount
	updated, err := s.accounts.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, fmt.Errorf("update account: %w", err)
	}

	metrics.RecordDeposit(tok)
	e := events.New(events.TypeBalanceDeposited, s.env.Now())
	e.Account = caller
	e.Token = tok
	e.Amount = amount
	s.sink.Emit(e)

	return updated, nil
}

// Withdraw debits the caller's internal balance and pushes the value back to
// the caller through the token service. The debit is applied before the push
// and is not reverted when the push fails: there is no compensating rollback
// once external effects are in play.
func (s *Service) Withdraw(ctx context.Context, caller, tok string, amount uint64) (account.Account, error) {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return account.Account{}, err
	}
	if err := s.gate.Registered(ctx, caller); err != nil {
		return account.Account{}, err
	}
	supported, err := s.policy.IsTokenSupported(ctx, tok)
	if err != nil {
		return account.Account{}, fmt.Errorf("check token support: %w", err)
	}
	if !supported || amount == 0 {
		return account.Account{}, remit.ErrInvalidConfiguration
	}

	acct, err := s.accounts.GetAccount(ctx, caller)
	if err != nil {
		return account.Account{}, fmt.Errorf("load account: %w", err)
	}
	if acct.Balances[tok] < amount {
		return account.Account{}, remit.ErrInsufficientBalance
	}

	acct.Balances[tok] -= amount
	updated, err := s.accounts.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, fmt.Errorf("update account: %w", err)
	}

	ok, err := s.tokens.Transfer(ctx, tok, caller, amount)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).WithField("account", caller).Warn("withdrawal push failed")
		}
		return account.Account{}, remit.ErrTransferFailed
	}

	metrics.RecordWithdrawal(tok)
	e := events.New(events.TypeBalanceWithdrawn, s.env.Now())
	e.Account = caller
	e.Token = tok
	e.Amount = amount
	s.sink.Emit(e)

	return updated, nil
}

// Balance returns the internal balance for one token. Unknown accounts and
// untouched tokens both read as zero.
func (s *Service) Balance(ctx context.Context, address, tok string) (uint64, error) {
	acct, err := s.accounts.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load account: %w", err)
	}
	return acct.Balances[tok], nil
}
