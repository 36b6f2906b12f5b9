package payment

import "time"

// Type tags how a payment was produced.
type Type uint8

const (
	TypeManual    Type = 0
	TypeAuto      Type = 1
	TypeScheduled Type = 2
)

// Payment is an immutable record of a completed manual transfer. IDs are
// allocated from a global monotonically increasing counter; failed payments
// are never recorded, so Completed is always true once persisted.
type Payment struct {
	ID        uint64
	Sender    string
	Recipient string
	Amount    uint64 // gross, pre-fee
	Token     string
	Timestamp int64 // unix seconds
	Type      Type
	Note      string
	Completed bool

	CreatedAt time.Time
}
