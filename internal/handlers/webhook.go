package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/fundraisehub/fundraise-gobackend/internal/models"
	"github.com/fundraisehub/fundraise-gobackend/internal/services"
)

const (
	// maxNotificationBytes bounds the webhook body read.
	maxNotificationBytes = 1 << 20
	// notificationTimeout bounds the whole webhook call, including a
	// possible capture round trip to the provider.
	notificationTimeout = 25 * time.Second
)

// WebhookHandler receives payment notifications from the provider. Every
// request passes the IP allow-list and the signature verifier before it can
// touch the ledger; the provider retries on any non-2xx answer.
type WebhookHandler struct {
	donations *services.DonationService
	allowList *services.IPAllowList
	secretKey string
}

func NewWebhookHandler(donations *services.DonationService, allowList *services.IPAllowList, secretKey string) *WebhookHandler {
	return &WebhookHandler{
		donations: donations,
		allowList: allowList,
		secretKey: secretKey,
	}
}

func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	ip := r.Header.Get("X-Real-Ip")
	if ip == "" {
		ip = r.RemoteAddr
	}
	log.Printf("Received webhook request from IP: %s", ip)

	if !h.allowList.Allowed(ip) {
		log.Printf("Request from unauthorized IP: %s", ip)
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil || len(body) == 0 {
		log.Printf("Failed to read notification body: %v", err)
		http.Error(w, `{"error":"invalid notification body"}`, http.StatusBadRequest)
		return
	}

	if !services.VerifySignature(h.secretKey, r.Header.Get("Signature"), body) {
		log.Printf("Notification signature verification failed")
		http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
		return
	}

	notification, err := parseNotification(body)
	if err != nil {
		log.Printf("Malformed notification: %v", err)
		http.Error(w, `{"error":"invalid notification body"}`, http.StatusBadRequest)
		return
	}
	if notification.Type != "notification" {
		log.Printf("Invalid notification type: %s", notification.Type)
		http.Error(w, `{"error":"invalid notification type"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), notificationTimeout)
	defer cancel()

	if err := h.donations.HandlePaymentNotification(ctx, notification); err != nil {
		// Duplicate or late observation of a terminal payment: acknowledge
		// so the provider stops redelivering.
		if errors.Is(err, services.ErrAlreadyTerminal) {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Unknown donation and processing failures answer 500 so the
		// provider redelivers later instead of the event being lost.
		log.Printf("Error processing payment notification: %v", err)
		http.Error(w, `{"error":"failed to process notification"}`, http.StatusInternalServerError)
		return
	}

	log.Printf("Successfully processed payment notification for paymentID: %s", notification.PaymentID())
	w.WriteHeader(http.StatusOK)
}

// parseNotification decodes an object body, or the first element when the
// provider delivers a single-element array.
func parseNotification(body []byte) (*models.PaymentNotification, error) {
	var raw json.RawMessage = body

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err == nil {
		if len(batch) == 0 {
			return nil, errors.New("empty notification array")
		}
		raw = batch[0]
	}

	var notification models.PaymentNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		return nil, err
	}
	return &notification, nil
}
