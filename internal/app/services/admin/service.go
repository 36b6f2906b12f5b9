// Package admin implements the owner-only control surface: bootstrap, token
// support, daily limits, pause control, treasury rotation and emergency
// withdrawal.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openremit/remit_engine/internal/app/domain/policy"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/internal/app/token"
	"github.com/openremit/remit_engine/pkg/logger"
)

// BootstrapConfig seeds the singleton policy record.
type BootstrapConfig struct {
	Owner    string
	Treasury string
	FeeBps   uint32
	Tokens   []string
}

// Service is the owner's control surface.
type Service struct {
	policy storage.PolicyStore
	gate   *guard.Gate
	tokens token.Service
	env    *exec.Env
	log    *logger.Logger
}

// New creates a configured admin service.
func New(pol storage.PolicyStore, gate *guard.Gate, tokens token.Service, env *exec.Env, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	return &Service{policy: pol, gate: gate, tokens: tokens, env: env, log: log}
}

// Bootstrap initializes the policy record exactly once. The owner and
// treasury are fixed at this point; the owner never changes afterwards.
func (s *Service) Bootstrap(ctx context.Context, cfg BootstrapConfig) (policy.State, error) {
	s.env.Lock()
	defer s.env.Unlock()

	owner := strings.TrimSpace(cfg.Owner)
	treasury := strings.TrimSpace(cfg.Treasury)
	if owner == "" || treasury == "" {
		return policy.State{}, remit.ErrInvalidConfiguration
	}
	if cfg.FeeBps > remit.MaxFeeBps {
		return policy.State{}, remit.ErrInvalidConfiguration
	}

	st := policy.State{
		Owner:    owner,
		Treasury: treasury,
		FeeBps:   cfg.FeeBps,
	}
	created, err := s.policy.InitPolicy(ctx, st)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return s.policy.GetPolicy(ctx)
		}
		return policy.State{}, fmt.Errorf("init policy: %w", err)
	}

	for _, tok := range cfg.Tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if err := s.policy.SetTokenSupport(ctx, tok, true); err != nil {
			return policy.State{}, fmt.Errorf("seed token %s: %w", tok, err)
		}
	}

	s.log.WithField("owner", owner).WithField("fee_bps", cfg.FeeBps).Info("engine bootstrapped")
	return created, nil
}

// SetTokenSupport adds or removes a token from the supported set.
func (s *Service) SetTokenSupport(ctx context.Context, caller, tok string, supported bool) error {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.OwnerOnly(ctx, caller); err != nil {
		return err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return remit.ErrInvalidConfiguration
	}
	if err := s.policy.SetTokenSupport(ctx, tok, supported); err != nil {
		return fmt.Errorf("set token support: %w", err)
	}

	s.log.WithField("token", tok).WithField("supported", supported).Info("token support changed")
	return nil
}

// TokenSupported reports whether the token is accepted for deposits and
// payments.
func (s *Service) TokenSupported(ctx context.Context, tok string) (bool, error) {
	return s.policy.IsTokenSupported(ctx, tok)
}

// SetDailyLimit sets an account's daily outbound cap. Zero removes the cap.
func (s *Service) SetDailyLimit(ctx context.Context, caller, address string, limit uint64) error {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.OwnerOnly(ctx, caller); err != nil {
		return err
	}
	if err := s.policy.SetDailyLimit(ctx, address, limit); err != nil {
		return fmt.Errorf("set daily limit: %w", err)
	}

	s.log.WithField("account", address).WithField("limit", limit).Info("daily limit set")
	return nil
}

// Pause sets the global pause switch. Paused engines reject every mutating
// operation except the owner's own controls.
func (s *Service) Pause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause clears the global pause switch.
func (s *Service) Unpause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller string, paused bool) error {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.OwnerOnly(ctx, caller); err != nil {
		return err
	}
	st, err := s.policy.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	st.Paused = paused
	if _, err := s.policy.UpdatePolicy(ctx, st); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}

	s.log.WithField("paused", paused).Warn("pause switch changed")
	return nil
}

// SetTreasury rotates the fee destination.
func (s *Service) SetTreasury(ctx context.Context, caller, treasury string) error {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.OwnerOnly(ctx, caller); err != nil {
		return err
	}
	treasury = strings.TrimSpace(treasury)
	if treasury == "" {
		return remit.ErrInvalidConfiguration
	}

	st, err := s.policy.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	st.Treasury = treasury
	if _, err := s.policy.UpdatePolicy(ctx, st); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}

	s.log.WithField("treasury", treasury).Info("treasury rotated")
	return nil
}

// EmergencyWithdraw pushes custody funds straight to the owner through the
// token service. It bypasses the internal ledger entirely and works while
// paused; reconciling the books afterwards is an operator problem.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller, tok string, amount uint64) error {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.OwnerOnly(ctx, caller); err != nil {
		return err
	}

	st, err := s.policy.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	ok, err := s.tokens.Transfer(ctx, tok, st.Owner, amount)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).Error("emergency withdrawal failed")
		}
		return remit.ErrTransferFailed
	}

	s.log.WithField("token", tok).WithField("amount", amount).Warn("emergency withdrawal executed")
	return nil
}
