// Package remit defines the protocol-level error set and shared constants.
//
// Every public operation of the engine fails with exactly one of these
// sentinel errors. Callers match them with errors.Is; the HTTP layer maps
// them to stable wire codes via Code.
package remit

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrInvalidRecipients     = errors.New("invalid recipients")
	ErrExceedsLimit          = errors.New("daily limit exceeded")
	ErrContractPaused        = errors.New("engine paused")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrNotRegistered         = errors.New("caller not registered")
	ErrFrequencyNotMet       = errors.New("frequency not met")
	ErrUserAlreadyRegistered = errors.New("user already registered")
	ErrBeneficiaryNotFound   = errors.New("beneficiary not found")
	ErrInvalidFrequency      = errors.New("invalid frequency")
	ErrNotSupportedToken     = errors.New("token not supported")
)

const (
	// BpsDenominator converts basis points to a fraction.
	BpsDenominator = 10000

	// MaxFeeBps caps the platform fee at 1%.
	MaxFeeBps = 100

	// DefaultFeeBps is the fee rate applied at bootstrap (0.5%).
	DefaultFeeBps = 50

	// SecondsPerDay is the day length used for limits and scheduling.
	SecondsPerDay = 86400
)

var codes = map[error]string{
	ErrUnauthorized:          "UNAUTHORIZED",
	ErrInvalidConfiguration:  "INVALID_CONFIGURATION",
	ErrInsufficientBalance:   "INSUFFICIENT_BALANCE",
	ErrTransferFailed:        "TRANSFER_FAILED",
	ErrInvalidRecipients:     "INVALID_RECIPIENTS",
	ErrExceedsLimit:          "EXCEEDS_LIMIT",
	ErrContractPaused:        "CONTRACT_PAUSED",
	ErrInvalidAmount:         "INVALID_AMOUNT",
	ErrNotRegistered:         "NOT_REGISTERED",
	ErrFrequencyNotMet:       "FREQUENCY_NOT_MET",
	ErrUserAlreadyRegistered: "USER_ALREADY_REGISTERED",
	ErrBeneficiaryNotFound:   "BENEFICIARY_NOT_FOUND",
	ErrInvalidFrequency:      "INVALID_FREQUENCY",
	ErrNotSupportedToken:     "NOT_SUPPORTED_TOKEN",
}

// Code returns the stable wire code for a protocol error, or "INTERNAL" when
// the error is not part of the closed set.
func Code(err error) string {
	for sentinel, code := range codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "INTERNAL"
}
