package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DonationStatus is the lifecycle state of a donation. A donation starts
// PENDING and moves forward exactly once into one of the terminal states.
type DonationStatus string

const (
	DonationPending   DonationStatus = "PENDING"
	DonationCompleted DonationStatus = "COMPLETED"
	DonationFailed    DonationStatus = "FAILED"
	DonationRefunded  DonationStatus = "REFUNDED"
)

// Terminal reports whether no further transition is permitted from s.
func (s DonationStatus) Terminal() bool {
	switch s {
	case DonationCompleted, DonationFailed, DonationRefunded:
		return true
	}
	return false
}

// Donation is one monetary pledge tied to a single remote payment.
// PaymentID is the provider-assigned identifier and is the correlation key
// for webhook notifications and reconciliation polls; there is exactly one
// donation per payment id (unique index).
type Donation struct {
	ID       primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	FundID   primitive.ObjectID   `bson:"fund_id" json:"fund_id"`
	DonorID  primitive.ObjectID   `bson:"donor_id" json:"donor_id"`
	Amount   primitive.Decimal128 `bson:"amount" json:"amount"`
	Currency string               `bson:"currency" json:"currency"`
	Status   DonationStatus       `bson:"status" json:"status"`
	// BalanceApplied records whether the donation's amount has reached the
	// fund total. Set only after a successful balance write; a COMPLETED
	// donation with BalanceApplied false is owed to its fund and is retried
	// until the write lands.
	BalanceApplied bool      `bson:"balance_applied" json:"balance_applied"`
	PaymentID      string    `bson:"payment_id" json:"payment_id"`
	Description    string    `bson:"description" json:"description"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}
