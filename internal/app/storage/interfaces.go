package storage

import (
	"context"
	"errors"

	"github.com/openremit/remit_engine/internal/app/domain/account"
	"github.com/openremit/remit_engine/internal/app/domain/beneficiary"
	"github.com/openremit/remit_engine/internal/app/domain/payment"
	"github.com/openremit/remit_engine/internal/app/domain/policy"
)

// ErrNotFound is returned by every store when the requested record does not
// exist. Backends wrap it so callers can match with errors.Is.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned on create when the key is taken.
var ErrAlreadyExists = errors.New("record already exists")

// AccountStore persists registered accounts, including their internal
// per-token balances.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, address string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
}

// BeneficiaryStore persists per-owner beneficiary lists. Entries are
// append-only: AppendBeneficiary assigns the next dense index, and removal
// is an update clearing Active.
type BeneficiaryStore interface {
	AppendBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error)
	UpdateBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error)
	GetBeneficiary(ctx context.Context, owner string, index uint64) (beneficiary.Beneficiary, error)
	CountBeneficiaries(ctx context.Context, owner string) (uint64, error)
	ListBeneficiaries(ctx context.Context, owner string) ([]beneficiary.Beneficiary, error)
}

// PaymentStore persists immutable payment records keyed by their global id.
type PaymentStore interface {
	AppendPayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetPayment(ctx context.Context, id uint64) (payment.Payment, error)
}

// PolicyStore persists the singleton policy state, the token support set,
// per-account daily limits and the per-day spent accumulators.
type PolicyStore interface {
	// InitPolicy stores the policy record; fails ErrAlreadyExists once set.
	InitPolicy(ctx context.Context, st policy.State) (policy.State, error)
	GetPolicy(ctx context.Context) (policy.State, error)
	UpdatePolicy(ctx context.Context, st policy.State) (policy.State, error)

	// NextPaymentID and NextExecutionID return the current counter value and
	// advance it by one. Allocated ids are never reused.
	NextPaymentID(ctx context.Context) (uint64, error)
	NextExecutionID(ctx context.Context) (uint64, error)

	SetTokenSupport(ctx context.Context, token string, supported bool) error
	IsTokenSupported(ctx context.Context, token string) (bool, error)

	SetDailyLimit(ctx context.Context, address string, limit uint64) error
	GetDailyLimit(ctx context.Context, address string) (uint64, error)
	AddDailySpent(ctx context.Context, address string, day uint64, amount uint64) (uint64, error)
	GetDailySpent(ctx context.Context, address string, day uint64) (uint64, error)
}
