package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type FundStatus string

const (
	FundActive    FundStatus = "ACTIVE"
	FundCompleted FundStatus = "COMPLETED"
)

// Fund is the aggregate a completed donation pays into. CurrentAmount is the
// running total of all donations that ever reached COMPLETED, counted once
// each; once it reaches TargetAmount the fund flips to COMPLETED.
type Fund struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Title         string               `bson:"title" json:"title"`
	Description   string               `bson:"description" json:"description"`
	TargetAmount  primitive.Decimal128 `bson:"target_amount" json:"target_amount"`
	CurrentAmount primitive.Decimal128 `bson:"current_amount" json:"current_amount"`
	Status        FundStatus           `bson:"status" json:"status"`
	OwnerID       primitive.ObjectID   `bson:"owner_id,omitempty" json:"owner_id"`
	Category      string               `bson:"category,omitempty" json:"category,omitempty"`
	CreatedAt     time.Time            `bson:"created_at" json:"created_at"`
}
