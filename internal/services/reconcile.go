package services

import (
	"context"
	"errors"
	"log"
	"time"
)

// PaymentStatusChecker periodically repairs donations the webhook channel
// missed: every sweep polls the provider for each PENDING donation older
// than the staleness threshold and feeds the status into the ledger's
// transition table. Run executes sweeps from a single goroutine, so two
// sweeps never run concurrently.
type PaymentStatusChecker struct {
	donations  DonationStore
	gateway    PaymentGateway
	ledger     *DonationService
	interval   time.Duration
	staleAfter time.Duration
	// perCallTimeout bounds each provider lookup and each status apply (which
	// may itself call the provider to capture) so one unresponsive call
	// cannot stall the rest of the sweep.
	perCallTimeout time.Duration
}

func NewPaymentStatusChecker(donations DonationStore, gateway PaymentGateway, ledger *DonationService, interval, staleAfter time.Duration) *PaymentStatusChecker {
	return &PaymentStatusChecker{
		donations:      donations,
		gateway:        gateway,
		ledger:         ledger,
		interval:       interval,
		staleAfter:     staleAfter,
		perCallTimeout: 10 * time.Second,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (c *PaymentStatusChecker) Run(ctx context.Context) {
	log.Printf("Payment status checker started: interval=%v, staleAfter=%v", c.interval, c.staleAfter)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Payment status checker stopped")
			return
		case <-ticker.C:
			c.CheckPendingPayments(ctx)
		}
	}
}

// CheckPendingPayments runs one reconciliation sweep. Per-donation failures
// are logged and skipped; they never abort the sweep for the remaining
// donations.
func (c *PaymentStatusChecker) CheckPendingPayments(ctx context.Context) {
	cutoff := time.Now().Add(-c.staleAfter)
	pending, err := c.donations.FindPendingBefore(ctx, cutoff)
	if err != nil {
		log.Printf("Failed to fetch pending donations: %v", err)
		return
	}

	log.Printf("Found %d pending donations to check", len(pending))

	for _, donation := range pending {
		callCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
		status, err := c.gateway.GetPaymentStatus(callCtx, donation.PaymentID)
		cancel()
		if err != nil {
			log.Printf("Error checking payment status for donation %s: %v", donation.PaymentID, err)
			continue
		}

		applyCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
		err = c.ledger.ApplyProviderStatus(applyCtx, donation.PaymentID, status.Status)
		cancel()
		if err != nil {
			// A concurrent webhook may have won the transition; that is the
			// expected race, not a sweep failure.
			if errors.Is(err, ErrAlreadyTerminal) {
				continue
			}
			log.Printf("Error applying status %s for donation %s: %v", status.Status, donation.PaymentID, err)
		}
	}

	c.repairUnappliedBalances(ctx)
}

// repairUnappliedBalances retries the fund write for donations that reached
// COMPLETED but whose amount never landed in the fund. Runs every sweep, so
// a transient store failure delays a donation's monetary effect instead of
// losing it.
func (c *PaymentStatusChecker) repairUnappliedBalances(ctx context.Context) {
	unapplied, err := c.donations.FindCompletedUnapplied(ctx)
	if err != nil {
		log.Printf("Failed to fetch unapplied donations: %v", err)
		return
	}
	if len(unapplied) > 0 {
		log.Printf("Found %d completed donations with unapplied balances", len(unapplied))
	}

	for _, donation := range unapplied {
		callCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
		err := c.ledger.RetryBalanceApply(callCtx, donation.PaymentID)
		cancel()
		if err != nil {
			log.Printf("Error retrying balance apply for donation %s: %v", donation.PaymentID, err)
		}
	}
}
