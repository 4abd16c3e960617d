package services

import (
	"errors"
	"fmt"
)

var (
	// ErrDonationNotFound means no donation carries the remote payment id a
	// notification or poll referred to. The webhook path surfaces this as a
	// server error so the provider redelivers instead of the event being
	// silently dropped.
	ErrDonationNotFound = errors.New("donation not found")

	// ErrFundNotFound means the target fund of a donation does not exist.
	ErrFundNotFound = errors.New("fund not found")

	// ErrAlreadyTerminal means the donation already reached a terminal state
	// and the trigger was a duplicate or late observation. Benign: logged and
	// acknowledged, never escalated.
	ErrAlreadyTerminal = errors.New("donation already in terminal state")
)

// GatewayError is any failure talking to the payment provider: transport
// errors, timeouts, non-2xx responses, or responses missing required fields.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("yookassa %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("yookassa %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
