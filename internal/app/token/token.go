// Package token defines the external value-transfer capability the engine
// settles against, plus the two concrete clients: an HTTP bridge for real
// deployments and an in-process simulator for tests and local development.
package token

import "context"

// Service is the external token capability. Transfers are synchronous and
// fallible in two ways: a transport error, or a clean false result. The
// engine relies solely on that outcome; it never reads balances or
// allowances for control flow.
type Service interface {
	Transfer(ctx context.Context, token, to string, amount uint64) (bool, error)
	TransferFrom(ctx context.Context, token, from, to string, amount uint64) (bool, error)
	BalanceOf(ctx context.Context, token, address string) (uint64, error)
	Allowance(ctx context.Context, token, owner, spender string) (uint64, error)
}
