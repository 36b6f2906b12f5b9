// Package payments implements direct fee-deducted transfers between a
// registered sender and an arbitrary recipient address.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openremit/remit_engine/internal/app/domain/payment"
	"github.com/openremit/remit_engine/internal/app/domain/policy"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/metrics"
	"github.com/openremit/remit_engine/internal/app/services/fees"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/services/limits"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/internal/app/token"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Service executes manual payments and serves the payment history.
type Service struct {
	accounts storage.AccountStore
	payments storage.PaymentStore
	policy   storage.PolicyStore
	gate     *guard.Gate
	fees     *fees.Service
	limits   *limits.Tracker
	tokens   token.Service
	env      *exec.Env
	sink     events.Sink
	log      *logger.Logger
}

// New creates a configured payment service.
func New(accounts storage.AccountStore, payments storage.PaymentStore, pol storage.PolicyStore, gate *guard.Gate, feeSvc *fees.Service, tracker *limits.Tracker, tokens token.Service, env *exec.Env, sink events.Sink, log *logger.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &Service{
		accounts: accounts,
		payments: payments,
		policy:   pol,
		gate:     gate,
		fees:     feeSvc,
		limits:   tracker,
		tokens:   tokens,
		env:      env,
		sink:     sink,
		log:      log,
	}
}

// Send pulls the gross amount from the sender, pays the net to the recipient
// and routes the fee to the treasury. The pull, the net push and the fee push
// are three separate external transfers; a failure surfaces as
// ErrTransferFailed and earlier transfers in the sequence stay applied.
func (s *Service) Send(ctx context.Context, caller, recipient, tok string, amount uint64, note string) (payment.Payment, error) {
	s.env.Lock()
	defer s.env.Unlock()

	if err := s.gate.NotPaused(ctx); err != nil {
		return payment.Payment{}, err
	}
	if err := s.gate.Registered(ctx, caller); err != nil {
		return payment.Payment{}, err
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return payment.Payment{}, remit.ErrInvalidRecipients
	}
	supported, err := s.policy.IsTokenSupported(ctx, tok)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("check token support: %w", err)
	}
	if !supported || amount == 0 {
		return payment.Payment{}, remit.ErrInvalidConfiguration
	}
	if err := s.limits.Check(ctx, caller, amount); err != nil {
		return payment.Payment{}, err
	}

	fee, net, err := s.fees.Quote(ctx, amount)
	if err != nil {
		return payment.Payment{}, err
	}

	ok, err := s.tokens.TransferFrom(ctx, tok, caller, s.env.Self(), amount)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).WithField("sender", caller).Warn("payment pull failed")
		}
		return payment.Payment{}, remit.ErrTransferFailed
	}
	ok, err = s.tokens.Transfer(ctx, tok, recipient, net)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).WithField("recipient", recipient).Warn("payment push failed")
		}
		return payment.Payment{}, remit.ErrTransferFailed
	}
	if fee > 0 {
		st, err := s.policy.GetPolicy(ctx)
		if err != nil {
			return payment.Payment{}, fmt.Errorf("load policy: %w", err)
		}
		ok, err = s.tokens.Transfer(ctx, tok, st.Treasury, fee)
		if err != nil || !ok {
			if err != nil {
				s.log.WithError(err).Warn("fee push failed")
			}
			return payment.Payment{}, remit.ErrTransferFailed
		}
	}

	id, err := s.policy.NextPaymentID(ctx)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("allocate payment id: %w", err)
	}
	p := payment.Payment{
		ID:        id,
		Sender:    caller,
		Recipient: recipient,
		Amount:    amount,
		Token:     tok,
		Timestamp: s.env.Unix(),
		Type:      payment.TypeManual,
		Note:      note,
		Completed: true,
	}
	stored, err := s.payments.AppendPayment(ctx, p)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("append payment: %w", err)
	}

	sender, err := s.accounts.GetAccount(ctx, caller)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("load sender: %w", err)
	}
	sender.TotalSent += amount
	if _, err := s.accounts.UpdateAccount(ctx, sender); err != nil {
		return payment.Payment{}, fmt.Errorf("update sender: %w", err)
	}

	// The recipient side of the lifetime totals only exists for registered
	// accounts, and it accrues the net amount.
	rcpt, err := s.accounts.GetAccount(ctx, recipient)
	if err == nil {
		rcpt.TotalReceived += net
		if _, err := s.accounts.UpdateAccount(ctx, rcpt); err != nil {
			return payment.Payment{}, fmt.Errorf("update recipient: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return payment.Payment{}, fmt.Errorf("load recipient: %w", err)
	}

	if err := s.limits.Record(ctx, caller, amount); err != nil {
		return payment.Payment{}, err
	}

	metrics.RecordPayment(tok, fee)
	e := events.New(events.TypePaymentSent, s.env.Now())
	e.Account = caller
	e.Counterparty = recipient
	e.Token = tok
	e.Amount = amount
	e.Fields = map[string]string{"payment_id": fmt.Sprintf("%d", stored.ID), "fee": fmt.Sprintf("%d", fee)}
	s.sink.Emit(e)

	s.log.WithField("payment_id", stored.ID).WithField("sender", caller).Info("payment sent")
	return stored, nil
}

// Get returns one payment record by id. Unknown ids fail with
// ErrInvalidConfiguration.
func (s *Service) Get(ctx context.Context, id uint64) (payment.Payment, error) {
	p, err := s.payments.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return payment.Payment{}, remit.ErrInvalidConfiguration
		}
		return payment.Payment{}, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

// Stats returns the engine-wide counters and switches in one view.
func (s *Service) Stats(ctx context.Context) (policy.Stats, error) {
	st, err := s.policy.GetPolicy(ctx)
	if err != nil {
		return policy.Stats{}, fmt.Errorf("load policy: %w", err)
	}
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return policy.Stats{}, fmt.Errorf("list accounts: %w", err)
	}
	return policy.Stats{
		PaymentCount:   st.PaymentCount,
		ExecutionCount: st.ExecutionCount,
		FeeBps:         st.FeeBps,
		Paused:         st.Paused,
		Treasury:       st.Treasury,
		TotalAccounts:  int64(len(accounts)),
		GeneratedAt:    s.env.Now(),
	}, nil
}
