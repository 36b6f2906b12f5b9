// Package events carries the engine's structured notifications. Emission is
// fire-and-forget: sinks never block or fail an operation.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	TypeUserRegistered      Type = "user_registered"
	TypeBalanceDeposited    Type = "balance_deposited"
	TypeBalanceWithdrawn    Type = "balance_withdrawn"
	TypePaymentSent         Type = "payment_sent"
	TypeBeneficiaryAdded    Type = "beneficiary_added"
	TypeBeneficiaryUpdated  Type = "beneficiary_updated"
	TypeBeneficiaryRemoved  Type = "beneficiary_removed"
	TypeAutoPaymentExecuted Type = "auto_payment_executed"
)

// Event is one notification. Account is the acting or owning account;
// Counterparty is the other side where one exists (recipient, beneficiary).
type Event struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	Time         time.Time         `json:"time"`
	Account      string            `json:"account"`
	Counterparty string            `json:"counterparty,omitempty"`
	Token        string            `json:"token,omitempty"`
	Amount       uint64            `json:"amount,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// New stamps a fresh event with an id and timestamp.
func New(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: at.UTC()}
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the emitting operation.
type Sink interface {
	Emit(Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(e)
		}
	}
}
