package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fundraisehub/fundraise-gobackend/internal/models"
	"github.com/fundraisehub/fundraise-gobackend/internal/services"
)

// FundStore persists funds in the "funds" collection.
type FundStore struct {
	funds *mongo.Collection
}

func NewFundStore(db *mongo.Database) *FundStore {
	return &FundStore{funds: db.Collection("funds")}
}

func (s *FundStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Fund, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var fund models.Fund
	if err := s.funds.FindOne(ctx, bson.M{"_id": id}).Decode(&fund); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, services.ErrFundNotFound
		}
		return nil, fmt.Errorf("failed to fetch fund: %v", err)
	}
	return &fund, nil
}

// ApplyCompletedDonation adds a completed donation's amount to the fund
// balance as an atomic server-side $inc and flips the fund to COMPLETED once
// the target is reached. The increment is the authoritative write; the
// status flip is idempotent and racing flips are harmless.
func (s *FundStore) ApplyCompletedDonation(ctx context.Context, fundID primitive.ObjectID, amount primitive.Decimal128) (*models.Fund, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var fund models.Fund
	err := s.funds.FindOneAndUpdate(ctx,
		bson.M{"_id": fundID},
		bson.M{"$inc": bson.M{"current_amount": amount}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&fund)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, services.ErrFundNotFound
		}
		return nil, fmt.Errorf("failed to update fund balance: %v", err)
	}

	current, err := decimal.NewFromString(fund.CurrentAmount.String())
	if err != nil {
		return nil, fmt.Errorf("invalid fund balance %s: %v", fund.CurrentAmount, err)
	}
	target, err := decimal.NewFromString(fund.TargetAmount.String())
	if err != nil {
		return nil, fmt.Errorf("invalid fund target %s: %v", fund.TargetAmount, err)
	}

	if current.GreaterThanOrEqual(target) && fund.Status != models.FundCompleted {
		_, err := s.funds.UpdateOne(ctx,
			bson.M{"_id": fundID, "status": models.FundActive},
			bson.M{"$set": bson.M{"status": models.FundCompleted}},
		)
		if err != nil {
			// The balance is already applied; the flip will be retried by
			// the next completing donation.
			log.Printf("Failed to mark fund %s completed: %v", fundID.Hex(), err)
		} else {
			fund.Status = models.FundCompleted
			log.Printf("Fund %s reached its target: current=%s, target=%s", fundID.Hex(), current, target)
		}
	}

	return &fund, nil
}
