// Package beneficiaries implements the recurring-payment schedule: the
// per-account beneficiary list and the auto-execution path the scheduler and
// external crankers drive.
package beneficiaries

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openremit/remit_engine/internal/app/domain/beneficiary"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/metrics"
	"github.com/openremit/remit_engine/internal/app/services/fees"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/internal/app/token"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Target identifies one beneficiary in a batch execution request.
type Target struct {
	Owner string `json:"owner"`
	Index uint64 `json:"index"`
}

// Service manages beneficiary definitions and executes due auto-payments.
type Service struct {
	accounts      storage.AccountStore
	beneficiaries storage.BeneficiaryStore
	policy        storage.PolicyStore
	gate          *guard.Gate
	fees          *fees.Service
	tokens        token.Service
	env           *exec.Env
	sink          events.Sink
	log           *logger.Logger
}

// New creates a configured beneficiary service.
func New(accounts storage.AccountStore, bens storage.BeneficiaryStore, pol storage.PolicyStore, gate *guard.Gate, feeSvc *fees.Service, tokens token.Service, env *exec.Env, sink events.Sink, log *logger.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logger.NewDefault("beneficiaries")
	}
	return &Service{
		accounts:      accounts,
		beneficiaries: bens,
		policy:        pol,
		gate:          gate,
		fees:          feeSvc,
		tokens:        tokens,
		env:           env,
		sink:          sink,
		log:           log,
	}
}

// Add appends a beneficiary to the caller's list and returns it with its
// assigned index. Indices are dense and permanent.
func (s *Service) Add(ctx context.Context, caller, address, name, relationship string, amount uint64, tok string, freq beneficiary.Frequency) (beneficiary.Beneficiary, error) {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	if err := s.gate.Registered(ctx, caller); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	supported, err := s.policy.IsTokenSupported(ctx, tok)
	if err != nil {
		return beneficiary.Beneficiary{}, fmt.Errorf("check token support: %w", err)
	}
	if !supported || amount == 0 {
		return beneficiary.Beneficiary{}, remit.ErrInvalidConfiguration
	}
	if !freq.Valid() {
		return beneficiary.Beneficiary{}, remit.ErrInvalidFrequency
	}

	b := beneficiary.Beneficiary{
		Owner:        caller,
		Address:      strings.TrimSpace(address),
		Name:         strings.TrimSpace(name),
		Relationship: strings.TrimSpace(relationship),
		Amount:       amount,
		Token:        tok,
		Frequency:    freq,
		Active:       true,
	}
	stored, err := s.beneficiaries.AppendBeneficiary(ctx, b)
	if err != nil {
		return beneficiary.Beneficiary{}, fmt.Errorf("append beneficiary: %w", err)
	}

	e := events.New(events.TypeBeneficiaryAdded, s.env.Now())
	e.Account = caller
	e.Counterparty = stored.Address
	e.Token = tok
	e.Amount = amount
	e.Fields = map[string]string{
		"index":     fmt.Sprintf("%d", stored.Index),
		"frequency": fmt.Sprintf("%d", freq),
	}
	s.sink.Emit(e)

	s.log.WithField("account", caller).WithField("index", stored.Index).Info("beneficiary added")
	return stored, nil
}

// Update adjusts the amount and frequency of an existing active beneficiary.
// Address, name and token are immutable once set.
func (s *Service) Update(ctx context.Context, caller string, index uint64, amount uint64, freq beneficiary.Frequency) (beneficiary.Beneficiary, error) {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	if err := s.gate.Registered(ctx, caller); err != nil {
		return beneficiary.Beneficiary{}, err
	}

	b, err := s.beneficiaries.GetBeneficiary(ctx, caller, index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return beneficiary.Beneficiary{}, remit.ErrBeneficiaryNotFound
		}
		return beneficiary.Beneficiary{}, fmt.Errorf("load beneficiary: %w", err)
	}
	if !freq.Valid() {
		return beneficiary.Beneficiary{}, remit.ErrInvalidFrequency
	}
	if !b.Active {
		return beneficiary.Beneficiary{}, remit.ErrBeneficiaryNotFound
	}

	b.Amount = amount
	b.Frequency = freq
	updated, err := s.beneficiaries.UpdateBeneficiary(ctx, b)
	if err != nil {
		return beneficiary.Beneficiary{}, fmt.Errorf("update beneficiary: %w", err)
	}

	e := events.New(events.TypeBeneficiaryUpdated, s.env.Now())
	e.Account = caller
	e.Counterparty = updated.Address
	e.Amount = amount
	e.Fields = map[string]string{
		"index":     fmt.Sprintf("%d", index),
		"frequency": fmt.Sprintf("%d", freq),
	}
	s.sink.Emit(e)

	return updated, nil
}

// Remove deactivates a beneficiary. The index stays allocated and the record
// stays readable; removing an already-removed entry fails with
// ErrBeneficiaryNotFound.
func (s *Service) Remove(ctx context.Context, caller string, index uint64) error {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return err
	}
	if err := s.gate.Registered(ctx, caller); err != nil {
		return err
	}

	b, err := s.beneficiaries.GetBeneficiary(ctx, caller, index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return remit.ErrBeneficiaryNotFound
		}
		return fmt.Errorf("load beneficiary: %w", err)
	}
	if !b.Active {
		return remit.ErrBeneficiaryNotFound
	}

	b.Active = false
	if _, err := s.beneficiaries.UpdateBeneficiary(ctx, b); err != nil {
		return fmt.Errorf("update beneficiary: %w", err)
	}

	e := events.New(events.TypeBeneficiaryRemoved, s.env.Now())
	e.Account = caller
	e.Counterparty = b.Address
	e.Fields = map[string]string{"index": fmt.Sprintf("%d", index)}
	s.sink.Emit(e)

	return nil
}

// Get returns one beneficiary record, active or not.
func (s *Service) Get(ctx context.Context, owner string, index uint64) (beneficiary.Beneficiary, error) {
	b, err := s.beneficiaries.GetBeneficiary(ctx, owner, index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return beneficiary.Beneficiary{}, remit.ErrBeneficiaryNotFound
		}
		return beneficiary.Beneficiary{}, fmt.Errorf("load beneficiary: %w", err)
	}
	return b, nil
}

// Count returns how many beneficiary slots the owner has allocated,
// tombstones included.
func (s *Service) Count(ctx context.Context, owner string) (uint64, error) {
	return s.beneficiaries.CountBeneficiaries(ctx, owner)
}

// List returns the owner's full beneficiary list in index order.
func (s *Service) List(ctx context.Context, owner string) ([]beneficiary.Beneficiary, error) {
	return s.beneficiaries.ListBeneficiaries(ctx, owner)
}

// Execute runs one due auto-payment for owner's beneficiary at index. Any
// caller may crank an execution; eligibility is decided entirely by the
// schedule, not by who asks. A successful execution advances the execution
// counter but appends no payment record.
func (s *Service) Execute(ctx context.Context, owner string, index uint64) error {
	s.env.Lock()
	defer s.env.Unlock()
	return s.execute(ctx, owner, index)
}

// ExecuteBatch cranks many executions in one call. It returns one outcome
// per target in order and never aborts on an individual failure.
func (s *Service) ExecuteBatch(ctx context.Context, targets []Target) ([]bool, error) {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return nil, err
	}

	results := make([]bool, len(targets))
	for i, t := range targets {
		results[i] = s.execute(ctx, t.Owner, t.Index) == nil
	}
	return results, nil
}

// execute holds the auto-payment sequence. Callers hold the operation lock.
func (s *Service) execute(ctx context.Context, owner string, index uint64) error {
	if err := s.gate.NotPaused(ctx); err != nil {
		return err
	}
	now := s.env.Unix()

	b, err := s.beneficiaries.GetBeneficiary(ctx, owner, index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return remit.ErrBeneficiaryNotFound
		}
		return fmt.Errorf("load beneficiary: %w", err)
	}
	if !b.Active || b.Frequency == beneficiary.Manual {
		return remit.ErrInvalidConfiguration
	}
	if !b.Due(now) {
		return remit.ErrFrequencyNotMet
	}

	acct, err := s.accounts.GetAccount(ctx, owner)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return remit.ErrInsufficientBalance
		}
		return fmt.Errorf("load account: %w", err)
	}
	if acct.Balances[b.Token] < b.Amount {
		return remit.ErrInsufficientBalance
	}

	fee, net, err := s.fees.Quote(ctx, b.Amount)
	if err != nil {
		return err
	}

	// Debit the internal balance first. The external pushes below are not
	// compensated on failure; only the debit survives a failed push, the
	// lifetime totals advance after both pushes succeed.
	acct.Balances[b.Token] -= b.Amount
	if _, err := s.accounts.UpdateAccount(ctx, acct); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	ok, err := s.tokens.Transfer(ctx, b.Token, b.Address, net)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).WithField("beneficiary", b.Address).Warn("auto-payment push failed")
		}
		metrics.RecordAutoExecution(false)
		return remit.ErrTransferFailed
	}
	if fee > 0 {
		st, err := s.policy.GetPolicy(ctx)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		ok, err = s.tokens.Transfer(ctx, b.Token, st.Treasury, fee)
		if err != nil || !ok {
			if err != nil {
				s.log.WithError(err).Warn("auto-payment fee push failed")
			}
			metrics.RecordAutoExecution(false)
			return remit.ErrTransferFailed
		}
	}

	acct.TotalSent += b.Amount
	if _, err := s.accounts.UpdateAccount(ctx, acct); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	b.LastPayment = now
	b.TotalSent += b.Amount
	if _, err := s.beneficiaries.UpdateBeneficiary(ctx, b); err != nil {
		return fmt.Errorf("update beneficiary: %w", err)
	}

	rcpt, err := s.accounts.GetAccount(ctx, b.Address)
	if err == nil {
		rcpt.TotalReceived += net
		if _, err := s.accounts.UpdateAccount(ctx, rcpt); err != nil {
			return fmt.Errorf("update recipient: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load recipient: %w", err)
	}

	execID, err := s.policy.NextExecutionID(ctx)
	if err != nil {
		return fmt.Errorf("allocate execution id: %w", err)
	}

	metrics.RecordAutoExecution(true)
	e := events.New(events.TypeAutoPaymentExecuted, s.env.Now())
	e.Account = owner
	e.Counterparty = b.Address
	e.Token = b.Token
	e.Amount = b.Amount
	e.Fields = map[string]string{
		"execution_id": fmt.Sprintf("%d", execID),
		"index":        fmt.Sprintf("%d", index),
		"fee":          fmt.Sprintf("%d", fee),
	}
	s.sink.Emit(e)

	s.log.WithField("account", owner).WithField("execution_id", execID).Info("auto-payment executed")
	return nil
}

// Pending returns the indices of the owner's beneficiaries that are due now
// and covered by the owner's internal balance.
func (s *Service) Pending(ctx context.Context, owner string) ([]uint64, error) {
	now := s.env.Unix()

	list, err := s.beneficiaries.ListBeneficiaries(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list beneficiaries: %w", err)
	}

	acct, err := s.accounts.GetAccount(ctx, owner)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load account: %w", err)
	}

	pending := []uint64{}
	for _, b := range list {
		if !b.Active || b.Frequency == beneficiary.Manual {
			continue
		}
		if !b.Due(now) {
			continue
		}
		if acct.Balances[b.Token] >= b.Amount {
			pending = append(pending, b.Index)
		}
	}
	return pending, nil
}

// EstimateNext returns the earliest time the beneficiary can execute: zero
// for manual or removed entries, now for never-executed ones.
func (s *Service) EstimateNext(ctx context.Context, owner string, index uint64) (int64, error) {
	b, err := s.beneficiaries.GetBeneficiary(ctx, owner, index)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, remit.ErrBeneficiaryNotFound
		}
		return 0, fmt.Errorf("load beneficiary: %w", err)
	}
	return b.NextExecution(s.env.Unix()), nil
}
