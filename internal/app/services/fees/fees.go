// Package fees implements the deterministic basis-point fee policy.
package fees

import (
	"context"
	"fmt"

	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Compute returns floor(amount * bps / 10000) without intermediate overflow.
// Splitting on the denominator keeps the product bounded: the remainder is
// below 10000 and bps is capped at 100.
func Compute(amount uint64, bps uint32) uint64 {
	quotient := amount / remit.BpsDenominator
	remainder := amount % remit.BpsDenominator
	return quotient*uint64(bps) + remainder*uint64(bps)/remit.BpsDenominator
}

// Net subtracts the fee from the gross amount. The underflow branch is
// unreachable while Compute and the fee cap hold.
func Net(amount, fee uint64) (uint64, error) {
	if fee > amount {
		return 0, remit.ErrInvalidAmount
	}
	return amount - fee, nil
}

// Service reads and adjusts the platform fee rate.
type Service struct {
	policy storage.PolicyStore
	gate   *guard.Gate
	log    *logger.Logger
}

// New creates a configured fee service.
func New(policy storage.PolicyStore, gate *guard.Gate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("fees")
	}
	return &Service{policy: policy, gate: gate, log: log}
}

// Rate returns the current fee rate in basis points.
func (s *Service) Rate(ctx context.Context) (uint32, error) {
	st, err := s.policy.GetPolicy(ctx)
	if err != nil {
		return 0, fmt.Errorf("load policy: %w", err)
	}
	return st.FeeBps, nil
}

// Quote computes the fee and net portions of a gross amount at the current
// rate.
func (s *Service) Quote(ctx context.Context, amount uint64) (fee, net uint64, err error) {
	rate, err := s.Rate(ctx)
	if err != nil {
		return 0, 0, err
	}
	fee = Compute(amount, rate)
	net, err = Net(amount, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, net, nil
}

// SetRate adjusts the fee rate. Owner-only; rates above the 100 bps cap are
// rejected.
func (s *Service) SetRate(ctx context.Context, caller string, bps uint32) error {
	if err := s.gate.OwnerOnly(ctx, caller); err != nil {
		return err
	}
	if bps > remit.MaxFeeBps {
		return remit.ErrInvalidConfiguration
	}

	st, err := s.policy.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	st.FeeBps = bps
	if _, err := s.policy.UpdatePolicy(ctx, st); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}

	s.log.WithField("fee_bps", bps).Info("platform fee updated")
	return nil
}
