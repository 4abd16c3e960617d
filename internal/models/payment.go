package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentResult is the mapped shape of every provider payment response,
// shared by create, status, capture and cancel. Status carries the provider's
// status string verbatim ("pending", "succeeded", "waiting_for_capture", ...).
type PaymentResult struct {
	PaymentID       string          `json:"payment_id"`
	ConfirmationURL string          `json:"confirmation_url,omitempty"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PaymentAmount is the provider's nested amount object.
type PaymentAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// PaymentObject is the payment snapshot embedded in a webhook notification.
type PaymentObject struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Amount PaymentAmount `json:"amount"`
}

// PaymentNotification is the untrusted webhook payload. It is never
// persisted; it only correlates to a donation through Object.ID.
type PaymentNotification struct {
	Type   string        `json:"type"`
	Event  string        `json:"event"`
	Object PaymentObject `json:"object"`
}

// PaymentID returns the remote payment id the notification refers to.
func (n *PaymentNotification) PaymentID() string {
	return n.Object.ID
}
