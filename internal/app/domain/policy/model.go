package policy

import "time"

// State is the engine's global policy record: ownership, treasury, pause
// switch, fee rate and the two monotonic counters. There is exactly one
// State per deployment; Owner is set once at bootstrap and never changes.
type State struct {
	Owner          string
	Treasury       string
	Paused         bool
	FeeBps         uint32
	PaymentCount   uint64
	ExecutionCount uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats is the aggregate view reported by the query surface.
type Stats struct {
	PaymentCount   uint64    `json:"payment_count"`
	ExecutionCount uint64    `json:"execution_count"`
	FeeBps         uint32    `json:"fee_bps"`
	Paused         bool      `json:"paused"`
	Treasury       string    `json:"treasury"`
	TotalAccounts  int64     `json:"total_accounts"`
	GeneratedAt    time.Time `json:"generated_at"`
}
