// Package postgres implements the storage interfaces backed by PostgreSQL.
// All monetary columns are BIGINT; amounts large enough to overflow int64
// are outside the engine's operating range.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openremit/remit_engine/internal/app/domain/account"
	"github.com/openremit/remit_engine/internal/app/domain/beneficiary"
	"github.com/openremit/remit_engine/internal/app/domain/payment"
	"github.com/openremit/remit_engine/internal/app/domain/policy"
	"github.com/openremit/remit_engine/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.BeneficiaryStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS remit_accounts (
			address        TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			country        TEXT NOT NULL,
			phone          TEXT NOT NULL,
			active         BOOLEAN NOT NULL,
			total_sent     BIGINT NOT NULL DEFAULT 0,
			total_received BIGINT NOT NULL DEFAULT 0,
			registered_at  BIGINT NOT NULL,
			balances       JSONB NOT NULL DEFAULT '{}',
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS remit_beneficiaries (
			owner        TEXT NOT NULL,
			idx          BIGINT NOT NULL,
			address      TEXT NOT NULL,
			name         TEXT NOT NULL,
			relationship TEXT NOT NULL,
			amount       BIGINT NOT NULL,
			token        TEXT NOT NULL,
			frequency    INTEGER NOT NULL,
			last_payment BIGINT NOT NULL DEFAULT 0,
			active       BOOLEAN NOT NULL,
			total_sent   BIGINT NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (owner, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS remit_payments (
			id         BIGINT PRIMARY KEY,
			sender     TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			amount     BIGINT NOT NULL,
			token      TEXT NOT NULL,
			ts         BIGINT NOT NULL,
			type       SMALLINT NOT NULL,
			note       TEXT NOT NULL DEFAULT '',
			completed  BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS remit_policy (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			owner           TEXT NOT NULL,
			treasury        TEXT NOT NULL,
			paused          BOOLEAN NOT NULL,
			fee_bps         INTEGER NOT NULL,
			payment_count   BIGINT NOT NULL DEFAULT 0,
			execution_count BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS remit_tokens (
			token     TEXT PRIMARY KEY,
			supported BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS remit_daily_limits (
			address     TEXT PRIMARY KEY,
			daily_limit BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS remit_daily_spent (
			address TEXT NOT NULL,
			day     BIGINT NOT NULL,
			spent   BIGINT NOT NULL,
			PRIMARY KEY (address, day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.Balances == nil {
		acct.Balances = map[string]uint64{}
	}

	balancesJSON, err := json.Marshal(acct.Balances)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO remit_accounts (address, name, country, phone, active, total_sent, total_received, registered_at, balances, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, acct.Address, acct.Name, acct.Country, acct.Phone, acct.Active, int64(acct.TotalSent), int64(acct.TotalReceived), acct.RegisteredAt, balancesJSON, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return account.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrAlreadyExists)
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	balancesJSON, err := json.Marshal(acct.Balances)
	if err != nil {
		return account.Account{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE remit_accounts
		SET name = $2, country = $3, phone = $4, active = $5, total_sent = $6, total_received = $7, balances = $8, updated_at = $9
		WHERE address = $1
	`, acct.Address, acct.Name, acct.Country, acct.Phone, acct.Active, int64(acct.TotalSent), int64(acct.TotalReceived), balancesJSON, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, address string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, name, country, phone, active, total_sent, total_received, registered_at, balances, created_at, updated_at
		FROM remit_accounts
		WHERE address = $1
	`, address)
	return scanAccount(row)
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, name, country, phone, active, total_sent, total_received, registered_at, balances, created_at, updated_at
		FROM remit_accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []account.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		acct          account.Account
		totalSent     int64
		totalReceived int64
		balancesRaw   []byte
	)
	err := row.Scan(&acct.Address, &acct.Name, &acct.Country, &acct.Phone, &acct.Active,
		&totalSent, &totalReceived, &acct.RegisteredAt, &balancesRaw, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, fmt.Errorf("account: %w", storage.ErrNotFound)
		}
		return account.Account{}, err
	}
	acct.TotalSent = uint64(totalSent)
	acct.TotalReceived = uint64(totalReceived)
	acct.Balances = map[string]uint64{}
	if len(balancesRaw) > 0 {
		if err := json.Unmarshal(balancesRaw, &acct.Balances); err != nil {
			return account.Account{}, fmt.Errorf("decode balances: %w", err)
		}
	}
	return acct, nil
}

// --- BeneficiaryStore -------------------------------------------------------

func (s *Store) AppendBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	// Indices are dense per owner; the global operation lock serializes
	// appends, so the subselect is race-free in practice.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO remit_beneficiaries (owner, idx, address, name, relationship, amount, token, frequency, last_payment, active, total_sent, created_at, updated_at)
		VALUES ($1, (SELECT COUNT(*) FROM remit_beneficiaries WHERE owner = $1), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING idx
	`, b.Owner, b.Address, b.Name, b.Relationship, int64(b.Amount), b.Token, int64(b.Frequency), b.LastPayment, b.Active, int64(b.TotalSent), b.CreatedAt, b.UpdatedAt)

	var idx int64
	if err := row.Scan(&idx); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	b.Index = uint64(idx)
	return b, nil
}

func (s *Store) UpdateBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	b.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE remit_beneficiaries
		SET amount = $3, frequency = $4, last_payment = $5, active = $6, total_sent = $7, updated_at = $8
		WHERE owner = $1 AND idx = $2
	`, b.Owner, int64(b.Index), int64(b.Amount), int64(b.Frequency), b.LastPayment, b.Active, int64(b.TotalSent), b.UpdatedAt)
	if err != nil {
		return beneficiary.Beneficiary{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return beneficiary.Beneficiary{}, fmt.Errorf("beneficiary %d: %w", b.Index, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) GetBeneficiary(ctx context.Context, owner string, index uint64) (beneficiary.Beneficiary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner, idx, address, name, relationship, amount, token, frequency, last_payment, active, total_sent, created_at, updated_at
		FROM remit_beneficiaries
		WHERE owner = $1 AND idx = $2
	`, owner, int64(index))
	return scanBeneficiary(row)
}

func (s *Store) CountBeneficiaries(ctx context.Context, owner string) (uint64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM remit_beneficiaries WHERE owner = $1
	`, owner).Scan(&count)
	if err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (s *Store) ListBeneficiaries(ctx context.Context, owner string) ([]beneficiary.Beneficiary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, idx, address, name, relationship, amount, token, frequency, last_payment, active, total_sent, created_at, updated_at
		FROM remit_beneficiaries
		WHERE owner = $1
		ORDER BY idx
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []beneficiary.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBeneficiary(row rowScanner) (beneficiary.Beneficiary, error) {
	var (
		b         beneficiary.Beneficiary
		idx       int64
		amount    int64
		frequency int64
		totalSent int64
	)
	err := row.Scan(&b.Owner, &idx, &b.Address, &b.Name, &b.Relationship, &amount, &b.Token,
		&frequency, &b.LastPayment, &b.Active, &totalSent, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return beneficiary.Beneficiary{}, fmt.Errorf("beneficiary: %w", storage.ErrNotFound)
		}
		return beneficiary.Beneficiary{}, err
	}
	b.Index = uint64(idx)
	b.Amount = uint64(amount)
	b.Frequency = beneficiary.Frequency(frequency)
	b.TotalSent = uint64(totalSent)
	return b, nil
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) AppendPayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remit_payments (id, sender, recipient, amount, token, ts, type, note, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, int64(p.ID), p.Sender, p.Recipient, int64(p.Amount), p.Token, p.Timestamp, int16(p.Type), p.Note, p.Completed, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.Payment{}, fmt.Errorf("payment %d: %w", p.ID, storage.ErrAlreadyExists)
		}
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id uint64) (payment.Payment, error) {
	var (
		p      payment.Payment
		pid    int64
		amount int64
		ptype  int16
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sender, recipient, amount, token, ts, type, note, completed, created_at
		FROM remit_payments
		WHERE id = $1
	`, int64(id)).Scan(&pid, &p.Sender, &p.Recipient, &amount, &p.Token, &p.Timestamp, &ptype, &p.Note, &p.Completed, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payment.Payment{}, fmt.Errorf("payment %d: %w", id, storage.ErrNotFound)
		}
		return payment.Payment{}, err
	}
	p.ID = uint64(pid)
	p.Amount = uint64(amount)
	p.Type = payment.Type(ptype)
	return p, nil
}

// --- PolicyStore ------------------------------------------------------------

func (s *Store) InitPolicy(ctx context.Context, st policy.State) (policy.State, error) {
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remit_policy (id, owner, treasury, paused, fee_bps, payment_count, execution_count, created_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
	`, st.Owner, st.Treasury, st.Paused, int64(st.FeeBps), int64(st.PaymentCount), int64(st.ExecutionCount), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return policy.State{}, fmt.Errorf("policy: %w", storage.ErrAlreadyExists)
		}
		return policy.State{}, err
	}
	return st, nil
}

func (s *Store) GetPolicy(ctx context.Context) (policy.State, error) {
	var (
		st             policy.State
		feeBps         int64
		paymentCount   int64
		executionCount int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, treasury, paused, fee_bps, payment_count, execution_count, created_at, updated_at
		FROM remit_policy
		WHERE id = 1
	`).Scan(&st.Owner, &st.Treasury, &st.Paused, &feeBps, &paymentCount, &executionCount, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.State{}, fmt.Errorf("policy: %w", storage.ErrNotFound)
		}
		return policy.State{}, err
	}
	st.FeeBps = uint32(feeBps)
	st.PaymentCount = uint64(paymentCount)
	st.ExecutionCount = uint64(executionCount)
	return st, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, st policy.State) (policy.State, error) {
	st.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE remit_policy
		SET owner = $1, treasury = $2, paused = $3, fee_bps = $4, payment_count = $5, execution_count = $6, updated_at = $7
		WHERE id = 1
	`, st.Owner, st.Treasury, st.Paused, int64(st.FeeBps), int64(st.PaymentCount), int64(st.ExecutionCount), st.UpdatedAt)
	if err != nil {
		return policy.State{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return policy.State{}, fmt.Errorf("policy: %w", storage.ErrNotFound)
	}
	return st, nil
}

func (s *Store) NextPaymentID(ctx context.Context) (uint64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE remit_policy SET payment_count = payment_count + 1, updated_at = NOW()
		WHERE id = 1
		RETURNING payment_count - 1
	`).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("policy: %w", storage.ErrNotFound)
		}
		return 0, err
	}
	return uint64(next), nil
}

func (s *Store) NextExecutionID(ctx context.Context) (uint64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE remit_policy SET execution_count = execution_count + 1, updated_at = NOW()
		WHERE id = 1
		RETURNING execution_count - 1
	`).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("policy: %w", storage.ErrNotFound)
		}
		return 0, err
	}
	return uint64(next), nil
}

func (s *Store) SetTokenSupport(ctx context.Context, token string, supported bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remit_tokens (token, supported)
		VALUES ($1, $2)
		ON CONFLICT (token) DO UPDATE SET supported = EXCLUDED.supported
	`, token, supported)
	return err
}

func (s *Store) IsTokenSupported(ctx context.Context, token string) (bool, error) {
	var supported bool
	err := s.db.QueryRowContext(ctx, `
		SELECT supported FROM remit_tokens WHERE token = $1
	`, token).Scan(&supported)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return supported, nil
}

func (s *Store) SetDailyLimit(ctx context.Context, address string, limit uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remit_daily_limits (address, daily_limit)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET daily_limit = EXCLUDED.daily_limit
	`, address, int64(limit))
	return err
}

func (s *Store) GetDailyLimit(ctx context.Context, address string) (uint64, error) {
	var limit int64
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_limit FROM remit_daily_limits WHERE address = $1
	`, address).Scan(&limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(limit), nil
}

func (s *Store) AddDailySpent(ctx context.Context, address string, day uint64, amount uint64) (uint64, error) {
	var spent int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO remit_daily_spent (address, day, spent)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, day) DO UPDATE SET spent = remit_daily_spent.spent + EXCLUDED.spent
		RETURNING spent
	`, address, int64(day), int64(amount)).Scan(&spent)
	if err != nil {
		return 0, err
	}
	return uint64(spent), nil
}

func (s *Store) GetDailySpent(ctx context.Context, address string, day uint64) (uint64, error) {
	var spent int64
	err := s.db.QueryRowContext(ctx, `
		SELECT spent FROM remit_daily_spent WHERE address = $1 AND day = $2
	`, address, int64(day)).Scan(&spent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(spent), nil
}
