package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openremit/remit_engine/internal/app/domain/account"
	"github.com/openremit/remit_engine/internal/app/domain/beneficiary"
	"github.com/openremit/remit_engine/internal/app/domain/payment"
	"github.com/openremit/remit_engine/internal/app/domain/policy"
	"github.com/openremit/remit_engine/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]account.Account
	beneficiaries map[string][]beneficiary.Beneficiary
	payments      map[uint64]payment.Payment
	policySet     bool
	policy        policy.State
	tokens        map[string]bool
	dailyLimits   map[string]uint64
	dailySpent    map[string]map[uint64]uint64
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.BeneficiaryStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:      make(map[string]account.Account),
		beneficiaries: make(map[string][]beneficiary.Beneficiary),
		payments:      make(map[uint64]payment.Payment),
		tokens:        make(map[string]bool),
		dailyLimits:   make(map[string]uint64),
		dailySpent:    make(map[string]map[uint64]uint64),
	}
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.Address]; exists {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Balances = cloneBalances(acct.Balances)

	s.accounts[acct.Address] = acct
	return cloneAccount(acct), nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.Address]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrNotFound)
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	acct.Balances = cloneBalances(acct.Balances)

	s.accounts[acct.Address] = acct
	return cloneAccount(acct), nil
}

func (s *Store) GetAccount(_ context.Context, address string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[address]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", address, storage.ErrNotFound)
	}
	return cloneAccount(acct), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, cloneAccount(acct))
	}
	return result, nil
}

// BeneficiaryStore implementation ---------------------------------------------

func (s *Store) AppendBeneficiary(_ context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.beneficiaries[b.Owner]
	b.Index = uint64(len(list))
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	s.beneficiaries[b.Owner] = append(list, b)
	return b, nil
}

func (s *Store) UpdateBeneficiary(_ context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.beneficiaries[b.Owner]
	if b.Index >= uint64(len(list)) {
		return beneficiary.Beneficiary{}, fmt.Errorf("beneficiary %s/%d: %w", b.Owner, b.Index, storage.ErrNotFound)
	}

	b.CreatedAt = list[b.Index].CreatedAt
	b.UpdatedAt = time.Now().UTC()
	list[b.Index] = b
	return b, nil
}

func (s *Store) GetBeneficiary(_ context.Context, owner string, index uint64) (beneficiary.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.beneficiaries[owner]
	if index >= uint64(len(list)) {
		return beneficiary.Beneficiary{}, fmt.Errorf("beneficiary %s/%d: %w", owner, index, storage.ErrNotFound)
	}
	return list[index], nil
}

func (s *Store) CountBeneficiaries(_ context.Context, owner string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.beneficiaries[owner])), nil
}

func (s *Store) ListBeneficiaries(_ context.Context, owner string) ([]beneficiary.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.beneficiaries[owner]
	result := make([]beneficiary.Beneficiary, len(list))
	copy(result, list)
	return result, nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) AppendPayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return payment.Payment{}, fmt.Errorf("payment %d: %w", p.ID, storage.ErrAlreadyExists)
	}
	p.CreatedAt = time.Now().UTC()
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPayment(_ context.Context, id uint64) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

// PolicyStore implementation --------------------------------------------------

func (s *Store) InitPolicy(_ context.Context, st policy.State) (policy.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policySet {
		return policy.State{}, fmt.Errorf("policy: %w", storage.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	s.policy = st
	s.policySet = true
	return st, nil
}

func (s *Store) GetPolicy(_ context.Context) (policy.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.policySet {
		return policy.State{}, fmt.Errorf("policy: %w", storage.ErrNotFound)
	}
	return s.policy, nil
}

func (s *Store) UpdatePolicy(_ context.Context, st policy.State) (policy.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.policySet {
		return policy.State{}, fmt.Errorf("policy: %w", storage.ErrNotFound)
	}
	st.CreatedAt = s.policy.CreatedAt
	st.UpdatedAt = time.Now().UTC()
	s.policy = st
	return st, nil
}

func (s *Store) NextPaymentID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.policySet {
		return 0, fmt.Errorf("policy: %w", storage.ErrNotFound)
	}
	id := s.policy.PaymentCount
	s.policy.PaymentCount++
	s.policy.UpdatedAt = time.Now().UTC()
	return id, nil
}

func (s *Store) NextExecutionID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.policySet {
		return 0, fmt.Errorf("policy: %w", storage.ErrNotFound)
	}
	id := s.policy.ExecutionCount
	s.policy.ExecutionCount++
	s.policy.UpdatedAt = time.Now().UTC()
	return id, nil
}

func (s *Store) SetTokenSupport(_ context.Context, token string, supported bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = supported
	return nil
}

func (s *Store) IsTokenSupported(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tokens[token], nil
}

func (s *Store) SetDailyLimit(_ context.Context, address string, limit uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dailyLimits[address] = limit
	return nil
}

func (s *Store) GetDailyLimit(_ context.Context, address string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dailyLimits[address], nil
}

func (s *Store) AddDailySpent(_ context.Context, address string, day uint64, amount uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days := s.dailySpent[address]
	if days == nil {
		days = make(map[uint64]uint64)
		s.dailySpent[address] = days
	}
	days[day] += amount
	return days[day], nil
}

func (s *Store) GetDailySpent(_ context.Context, address string, day uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dailySpent[address][day], nil
}

// Helpers ----------------------------------------------------------------------

func cloneAccount(acct account.Account) account.Account {
	acct.Balances = cloneBalances(acct.Balances)
	return acct
}

func cloneBalances(balances map[string]uint64) map[string]uint64 {
	if balances == nil {
		return map[string]uint64{}
	}
	out := make(map[string]uint64, len(balances))
	for token, amount := range balances {
		out[token] = amount
	}
	return out
}
