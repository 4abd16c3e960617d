package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/fundraisehub/fundraise-gobackend/internal/models"
)

// DonationStore is the persistence contract for donations. Implementations
// must make TransitionFromPending a single atomic check-and-set on the
// donation row: the ledger's at-most-once guarantee depends on it.
type DonationStore interface {
	Insert(ctx context.Context, d *models.Donation) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Donation, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Donation, error)
	FindByFundID(ctx context.Context, fundID primitive.ObjectID) ([]models.Donation, error)
	FindByDonorID(ctx context.Context, donorID primitive.ObjectID) ([]models.Donation, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Donation, error)
	// TransitionFromPending flips the donation for paymentID from PENDING to
	// the given terminal status and returns the updated donation. It returns
	// ErrAlreadyTerminal when the donation exists but is no longer PENDING,
	// and ErrDonationNotFound when no donation carries the payment id.
	TransitionFromPending(ctx context.Context, paymentID string, to models.DonationStatus) (*models.Donation, error)
	// ClaimBalanceApplication atomically flips balance_applied from false to
	// true on a COMPLETED donation and returns it. ErrAlreadyTerminal means
	// the balance is already applied (or being applied by a concurrent
	// caller); ErrDonationNotFound means no donation carries the payment id.
	ClaimBalanceApplication(ctx context.Context, paymentID string) (*models.Donation, error)
	// ReleaseBalanceApplication flips balance_applied back to false after a
	// failed fund write so a later delivery or sweep can retry it.
	ReleaseBalanceApplication(ctx context.Context, paymentID string) error
	// FindCompletedUnapplied lists COMPLETED donations whose amount has not
	// reached their fund yet.
	FindCompletedUnapplied(ctx context.Context) ([]models.Donation, error)
}

// FundStore is the persistence contract for fund balances.
// ApplyCompletedDonation must be an atomic read-modify-write on the balance.
type FundStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Fund, error)
	ApplyCompletedDonation(ctx context.Context, fundID primitive.ObjectID, amount primitive.Decimal128) (*models.Fund, error)
}

// DonationService owns the donation state machine. Webhook notifications and
// reconciliation poll results both converge on the same transition table, so
// the ledger stays consistent no matter which channel observes a payment's
// terminal state first.
type DonationService struct {
	gateway    PaymentGateway
	donations  DonationStore
	funds      FundStore
	staleAfter time.Duration
}

func NewDonationService(gateway PaymentGateway, donations DonationStore, funds FundStore, staleAfter time.Duration) *DonationService {
	return &DonationService{
		gateway:    gateway,
		donations:  donations,
		funds:      funds,
		staleAfter: staleAfter,
	}
}

// CreateDonation registers a remote payment for the donor and persists the
// donation in PENDING. No donation row is written unless the provider
// confirmed the payment and assigned it an id. Returns the stored donation
// and the provider confirmation URL the donor is redirected to.
func (s *DonationService) CreateDonation(ctx context.Context, donorID, fundID primitive.ObjectID, amount decimal.Decimal, description, returnURL string) (*models.Donation, string, error) {
	if !amount.IsPositive() {
		return nil, "", fmt.Errorf("amount must be positive")
	}

	fund, err := s.funds.FindByID(ctx, fundID)
	if err != nil {
		log.Printf("Fund lookup failed for %s: %v", fundID.Hex(), err)
		return nil, "", err
	}

	payment, err := s.gateway.CreatePayment(ctx, &CreatePaymentRequest{
		Amount:      amount,
		Currency:    "RUB",
		Description: "Donation to fund: " + fund.Title,
		ReturnURL:   returnURL,
		Metadata: map[string]string{
			"fund_id":  fundID.Hex(),
			"donor_id": donorID.Hex(),
		},
	})
	if err != nil {
		log.Printf("Failed to create payment for fund %s: %v", fundID.Hex(), err)
		return nil, "", err
	}
	if payment.PaymentID == "" {
		return nil, "", &GatewayError{Op: "create", Err: fmt.Errorf("payment id missing in response")}
	}

	storedAmount, err := primitive.ParseDecimal128(amount.StringFixed(2))
	if err != nil {
		return nil, "", fmt.Errorf("invalid donation amount %s: %v", amount, err)
	}

	now := time.Now()
	donation := &models.Donation{
		FundID:      fundID,
		DonorID:     donorID,
		Amount:      storedAmount,
		Currency:    "RUB",
		Status:      models.DonationPending,
		PaymentID:   payment.PaymentID,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.donations.Insert(ctx, donation); err != nil {
		log.Printf("Failed to save donation for payment %s: %v", payment.PaymentID, err)
		return nil, "", fmt.Errorf("failed to save donation: %v", err)
	}

	log.Printf("Donation created: paymentID=%s, fundID=%s, amount=%s", payment.PaymentID, fundID.Hex(), amount.StringFixed(2))
	return donation, payment.ConfirmationURL, nil
}

// GetDonation returns a single donation by its internal id.
func (s *DonationService) GetDonation(ctx context.Context, id primitive.ObjectID) (*models.Donation, error) {
	return s.donations.FindByID(ctx, id)
}

// GetFundDonations lists donations made to a fund.
func (s *DonationService) GetFundDonations(ctx context.Context, fundID primitive.ObjectID) ([]models.Donation, error) {
	return s.donations.FindByFundID(ctx, fundID)
}

// GetDonorDonations lists the donations a donor made.
func (s *DonationService) GetDonorDonations(ctx context.Context, donorID primitive.ObjectID) ([]models.Donation, error) {
	return s.donations.FindByDonorID(ctx, donorID)
}

// HandlePaymentNotification applies a verified webhook event to the ledger.
func (s *DonationService) HandlePaymentNotification(ctx context.Context, n *models.PaymentNotification) error {
	log.Printf("Processing payment notification: event=%s, paymentID=%s", n.Event, n.PaymentID())
	return s.applyTrigger(ctx, n.PaymentID(), n.Event)
}

// ApplyProviderStatus applies a reconciliation poll result to the ledger.
// The status string feeds the same transition table the webhook path uses.
func (s *DonationService) ApplyProviderStatus(ctx context.Context, paymentID, status string) error {
	log.Printf("Processing provider status: status=%s, paymentID=%s", status, paymentID)
	return s.applyTrigger(ctx, paymentID, status)
}

// applyTrigger is the single authoritative transition function. Triggers are
// webhook event names or provider status strings; both forms of the same
// transition share a case. The lookup below is advisory (it classifies
// not-found and duplicate triggers); the atomic guard is the store's
// conditional PENDING check-and-set inside complete/fail.
func (s *DonationService) applyTrigger(ctx context.Context, paymentID, trigger string) error {
	donation, err := s.donations.FindByPaymentID(ctx, paymentID)
	if err != nil {
		log.Printf("Donation not found for paymentID %s: %v", paymentID, err)
		return err
	}
	if donation.Status.Terminal() {
		// A COMPLETED donation whose balance write failed earlier is owed to
		// its fund; a redelivered success observation repairs it instead of
		// no-opping.
		if donation.Status == models.DonationCompleted && !donation.BalanceApplied {
			switch trigger {
			case "payment.succeeded", "succeeded", "payment.waiting_for_capture", "waiting_for_capture":
				return s.applyBalance(ctx, paymentID)
			}
		}
		log.Printf("Donation %s already %s, ignoring trigger %s", paymentID, donation.Status, trigger)
		return ErrAlreadyTerminal
	}

	switch trigger {
	case "payment.succeeded", "succeeded":
		return s.complete(ctx, paymentID)

	case "payment.waiting_for_capture", "waiting_for_capture":
		// Capture happens before the row claim so no lock is held across the
		// network call. On failure the donation stays PENDING and the next
		// sweep retries the capture-or-fail decision.
		if _, err := s.gateway.CapturePayment(ctx, paymentID); err != nil {
			log.Printf("Failed to capture payment %s: %v", paymentID, err)
			return err
		}
		return s.complete(ctx, paymentID)

	case "payment.canceled", "canceled", "expired":
		return s.fail(ctx, paymentID, models.DonationFailed)

	case "refund.succeeded":
		// The fund balance is not decremented on refund; the donation record
		// alone moves to REFUNDED.
		return s.fail(ctx, paymentID, models.DonationRefunded)

	case "pending":
		if time.Since(donation.CreatedAt) > s.staleAfter {
			log.Printf("Payment %s still pending after %v, failing donation", paymentID, s.staleAfter)
			return s.fail(ctx, paymentID, models.DonationFailed)
		}
		return nil

	default:
		log.Printf("Unknown payment trigger %q for paymentID %s, no action taken", trigger, paymentID)
		return nil
	}
}

// complete flips the donation to COMPLETED, then applies its amount to the
// fund balance through the balance_applied claim.
func (s *DonationService) complete(ctx context.Context, paymentID string) error {
	if _, err := s.donations.TransitionFromPending(ctx, paymentID, models.DonationCompleted); err != nil {
		if err == ErrAlreadyTerminal {
			log.Printf("Donation %s completed by a concurrent transition, skipping balance apply", paymentID)
		}
		return err
	}
	return s.applyBalance(ctx, paymentID)
}

// applyBalance adds a COMPLETED donation's amount to its fund exactly once.
// The balance_applied marker is the claim: only its winner performs the fund
// write, so concurrent retries cannot double-count. A failed fund write
// releases the claim, leaving the donation COMPLETED-but-unapplied; provider
// redelivery and the reconciliation sweep both retry it until the fund
// reflects the amount.
func (s *DonationService) applyBalance(ctx context.Context, paymentID string) error {
	donation, err := s.donations.ClaimBalanceApplication(ctx, paymentID)
	if err != nil {
		if err == ErrAlreadyTerminal {
			log.Printf("Balance for donation %s already applied, nothing to do", paymentID)
			return nil
		}
		return err
	}

	fund, err := s.funds.ApplyCompletedDonation(ctx, donation.FundID, donation.Amount)
	if err != nil {
		log.Printf("ERROR: fund %s balance apply failed for donation %s, releasing claim for retry: %v", donation.FundID.Hex(), paymentID, err)
		if rerr := s.donations.ReleaseBalanceApplication(ctx, paymentID); rerr != nil {
			log.Printf("ERROR: failed to release balance claim for donation %s, amount may stay unapplied: %v", paymentID, rerr)
		}
		return fmt.Errorf("failed to apply donation %s to fund balance: %v", paymentID, err)
	}

	log.Printf("Donation %s applied to fund %s: current=%s status=%s", paymentID, fund.ID.Hex(), fund.CurrentAmount.String(), fund.Status)
	return nil
}

// RetryBalanceApply re-attempts the fund write for a COMPLETED donation whose
// earlier apply failed. Used by the reconciliation sweep.
func (s *DonationService) RetryBalanceApply(ctx context.Context, paymentID string) error {
	return s.applyBalance(ctx, paymentID)
}

// fail flips the donation into a non-paying terminal state. No balance
// effect.
func (s *DonationService) fail(ctx context.Context, paymentID string, to models.DonationStatus) error {
	donation, err := s.donations.TransitionFromPending(ctx, paymentID, to)
	if err != nil {
		return err
	}
	log.Printf("Donation %s moved to %s", paymentID, donation.Status)
	return nil
}
