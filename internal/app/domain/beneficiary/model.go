package beneficiary

import (
	"time"

	"github.com/openremit/remit_engine/internal/app/domain/remit"
)

// Frequency is the minimum number of days between auto-executions.
// Zero means manual only: the scheduler never executes the beneficiary.
type Frequency uint32

const (
	Manual  Frequency = 0
	Daily   Frequency = 1
	Weekly  Frequency = 7
	Monthly Frequency = 30
	Yearly  Frequency = 365
)

// Valid reports whether f is one of the permitted frequency values.
func (f Frequency) Valid() bool {
	switch f {
	case Manual, Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Interval returns the minimum gap between executions in seconds.
func (f Frequency) Interval() int64 {
	return int64(f) * remit.SecondsPerDay
}

// Beneficiary is a recurring-payment definition owned by one account.
// Entries are append-only per owner; Index is dense and never reused, and
// removal only clears Active.
type Beneficiary struct {
	Owner        string
	Index        uint64
	Address      string
	Name         string
	Relationship string
	Amount       uint64
	Token        string
	Frequency    Frequency
	LastPayment  int64 // unix seconds, 0 = never executed
	Active       bool
	TotalSent    uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the beneficiary is eligible for auto-execution at now.
// A never-executed beneficiary is always due.
func (b Beneficiary) Due(now int64) bool {
	if b.LastPayment == 0 {
		return true
	}
	return now-b.LastPayment >= b.Frequency.Interval()
}

// NextExecution returns the earliest auto-execution time: zero for manual or
// inactive beneficiaries, now for never-executed ones.
func (b Beneficiary) NextExecution(now int64) int64 {
	if !b.Active || b.Frequency == Manual {
		return 0
	}
	if b.LastPayment == 0 {
		return now
	}
	return b.LastPayment + b.Frequency.Interval()
}
