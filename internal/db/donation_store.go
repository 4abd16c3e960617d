package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fundraisehub/fundraise-gobackend/internal/models"
	"github.com/fundraisehub/fundraise-gobackend/internal/services"
)

// DonationStore persists donations in the "donations" collection.
type DonationStore struct {
	donations *mongo.Collection
}

func NewDonationStore(db *mongo.Database) *DonationStore {
	return &DonationStore{donations: db.Collection("donations")}
}

// EnsureIndexes creates the indexes the reconciliation flow depends on. The
// unique index on payment_id enforces exactly one donation per remote
// payment id.
func (s *DonationStore) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "payment_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "balance_applied", Value: 1}}},
		{Keys: bson.D{{Key: "fund_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "donor_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := s.donations.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Printf("Failed to create donation indexes: %v", err)
		return fmt.Errorf("failed to create donation indexes: %v", err)
	}
	return nil
}

func (s *DonationStore) Insert(ctx context.Context, d *models.Donation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.donations.InsertOne(ctx, d)
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		d.ID = id
	}
	return nil
}

func (s *DonationStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var donation models.Donation
	if err := s.donations.FindOne(ctx, bson.M{"_id": id}).Decode(&donation); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, services.ErrDonationNotFound
		}
		return nil, fmt.Errorf("failed to fetch donation: %v", err)
	}
	return &donation, nil
}

func (s *DonationStore) FindByPaymentID(ctx context.Context, paymentID string) (*models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var donation models.Donation
	if err := s.donations.FindOne(ctx, bson.M{"payment_id": paymentID}).Decode(&donation); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, services.ErrDonationNotFound
		}
		return nil, fmt.Errorf("failed to fetch donation: %v", err)
	}
	return &donation, nil
}

func (s *DonationStore) FindByFundID(ctx context.Context, fundID primitive.ObjectID) ([]models.Donation, error) {
	return s.find(ctx, bson.M{"fund_id": fundID})
}

func (s *DonationStore) FindByDonorID(ctx context.Context, donorID primitive.ObjectID) ([]models.Donation, error) {
	return s.find(ctx, bson.M{"donor_id": donorID})
}

// FindPendingBefore selects the donations a reconciliation sweep must
// re-check: still PENDING and created before the cutoff.
func (s *DonationStore) FindPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Donation, error) {
	return s.find(ctx, bson.M{
		"status":     models.DonationPending,
		"created_at": bson.M{"$lt": cutoff},
	})
}

func (s *DonationStore) find(ctx context.Context, query bson.M) ([]models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cur, err := s.donations.Find(ctx, query, options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch donations: %v", err)
	}
	defer cur.Close(ctx)

	var donations []models.Donation
	if err := cur.All(ctx, &donations); err != nil {
		return nil, fmt.Errorf("failed to decode donations: %v", err)
	}
	return donations, nil
}

// TransitionFromPending is the ledger's atomic check-and-set: one
// conditional update that only matches while the donation is still PENDING.
// Concurrent transitions on the same payment id serialize here; the loser
// sees ErrAlreadyTerminal.
func (s *DonationStore) TransitionFromPending(ctx context.Context, paymentID string, to models.DonationStatus) (*models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"payment_id": paymentID, "status": models.DonationPending}
	update := bson.M{"$set": bson.M{"status": to, "updated_at": time.Now()}}

	var donation models.Donation
	err := s.donations.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&donation)
	if err == nil {
		return &donation, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to transition donation: %v", err)
	}

	// No PENDING row matched: either the donation is unknown or another
	// channel already moved it to a terminal state.
	if _, ferr := s.FindByPaymentID(ctx, paymentID); ferr != nil {
		return nil, ferr
	}
	return nil, services.ErrAlreadyTerminal
}

// ClaimBalanceApplication is the at-most-once gate on the fund write: a
// conditional update that only matches a COMPLETED donation whose balance is
// not yet applied. Concurrent appliers serialize here; the loser sees
// ErrAlreadyTerminal.
func (s *DonationStore) ClaimBalanceApplication(ctx context.Context, paymentID string) (*models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"payment_id": paymentID, "status": models.DonationCompleted, "balance_applied": false}
	update := bson.M{"$set": bson.M{"balance_applied": true, "updated_at": time.Now()}}

	var donation models.Donation
	err := s.donations.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&donation)
	if err == nil {
		return &donation, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to claim balance application: %v", err)
	}

	if _, ferr := s.FindByPaymentID(ctx, paymentID); ferr != nil {
		return nil, ferr
	}
	return nil, services.ErrAlreadyTerminal
}

// ReleaseBalanceApplication undoes a claim after a failed fund write so the
// apply can be retried later.
func (s *DonationStore) ReleaseBalanceApplication(ctx context.Context, paymentID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.donations.UpdateOne(ctx,
		bson.M{"payment_id": paymentID, "status": models.DonationCompleted},
		bson.M{"$set": bson.M{"balance_applied": false, "updated_at": time.Now()}})
	if err != nil {
		return fmt.Errorf("failed to release balance application: %v", err)
	}
	return nil
}

// FindCompletedUnapplied selects the donations the sweep's balance repair
// pass must retry.
func (s *DonationStore) FindCompletedUnapplied(ctx context.Context) ([]models.Donation, error) {
	return s.find(ctx, bson.M{
		"status":          models.DonationCompleted,
		"balance_applied": false,
	})
}
