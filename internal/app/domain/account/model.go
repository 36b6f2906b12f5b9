package account

import "time"

// Account is a registered identity holding profile metadata and internal
// per-token balances. Balances are engine-side bookkeeping, distinct from
// whatever the external token service holds for the same address.
type Account struct {
	Address       string
	Name          string
	Country       string
	Phone         string
	Active        bool
	TotalSent     uint64
	TotalReceived uint64
	RegisteredAt  int64 // unix seconds
	Balances      map[string]uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance returns the internal balance for a token, zero when absent.
func (a Account) Balance(token string) uint64 {
	return a.Balances[token]
}
