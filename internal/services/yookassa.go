package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundraisehub/fundraise-gobackend/internal/config"
	"github.com/fundraisehub/fundraise-gobackend/internal/models"
)

// PaymentGateway is the narrow contract the ledger and the reconciliation
// sweep use to talk to the payment provider.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*models.PaymentResult, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*models.PaymentResult, error)
	CapturePayment(ctx context.Context, paymentID string) (*models.PaymentResult, error)
	CancelPayment(ctx context.Context, paymentID string) (*models.PaymentResult, error)
}

// CreatePaymentRequest is the input for a new remote payment.
type CreatePaymentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

// YooKassaService talks to the YooKassa payments API over HTTPS with basic
// auth derived from the shop credentials. Every call is a single attempt;
// failures surface to the caller as *GatewayError, never retried here.
type YooKassaService struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewYooKassaService(cfg *config.Config) *YooKassaService {
	return &YooKassaService{
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		baseURL:   cfg.APIBaseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// paymentPayload is the provider's wire shape, shared by all four endpoints.
type paymentPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Confirmation *struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	CreatedAt string `json:"created_at"`
}

// CreatePayment registers a new payment with the provider. A fresh
// Idempotence-Key guards against provider-side double creation if the HTTP
// layer retries the request.
func (s *YooKassaService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*models.PaymentResult, error) {
	log.Printf("Creating payment: amount=%s %s", req.Amount.StringFixed(2), req.Currency)

	paymentData := map[string]interface{}{
		"amount": map[string]string{
			"value":    req.Amount.StringFixed(2),
			"currency": req.Currency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": req.ReturnURL,
		},
		"description": req.Description,
		"metadata":    req.Metadata,
	}

	body, err := json.Marshal(paymentData)
	if err != nil {
		return nil, &GatewayError{Op: "create", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, &GatewayError{Op: "create", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())
	httpReq.SetBasicAuth(s.shopID, s.secretKey)

	return s.do(httpReq, "create")
}

// GetPaymentStatus fetches the current provider-side state of a payment.
func (s *YooKassaService) GetPaymentStatus(ctx context.Context, paymentID string) (*models.PaymentResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return nil, &GatewayError{Op: "status", Err: err}
	}
	httpReq.SetBasicAuth(s.shopID, s.secretKey)

	return s.do(httpReq, "status")
}

// CapturePayment confirms a payment the provider reports as awaiting capture.
func (s *YooKassaService) CapturePayment(ctx context.Context, paymentID string) (*models.PaymentResult, error) {
	return s.post(ctx, "/payments/"+paymentID+"/capture", "capture")
}

// CancelPayment cancels a payment awaiting capture.
func (s *YooKassaService) CancelPayment(ctx context.Context, paymentID string) (*models.PaymentResult, error) {
	return s.post(ctx, "/payments/"+paymentID+"/cancel", "cancel")
}

func (s *YooKassaService) post(ctx context.Context, path, op string) (*models.PaymentResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, nil)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(s.shopID, s.secretKey)

	return s.do(httpReq, op)
}

func (s *YooKassaService) do(req *http.Request, op string) (*models.PaymentResult, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("YooKassa %s request failed: %v", op, err)
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("YooKassa %s failed with status %d: %s", op, resp.StatusCode, string(body))
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", string(body))}
	}

	var payload paymentPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("Failed to decode YooKassa %s response: %v", op, err)
		return nil, &GatewayError{Op: op, Err: err}
	}

	return mapPayment(&payload, op)
}

// mapPayment maps the provider wire shape onto the ledger's representation.
// The provider's status string is surfaced verbatim; the transition table
// owns its interpretation.
func mapPayment(p *paymentPayload, op string) (*models.PaymentResult, error) {
	if p.ID == "" {
		return nil, &GatewayError{Op: op, Err: fmt.Errorf("payment id missing in response")}
	}

	amount, err := decimal.NewFromString(p.Amount.Value)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: fmt.Errorf("invalid amount value %q: %v", p.Amount.Value, err)}
	}

	var createdAt time.Time
	if p.CreatedAt != "" {
		createdAt, err = time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return nil, &GatewayError{Op: op, Err: fmt.Errorf("invalid created_at %q: %v", p.CreatedAt, err)}
		}
	}

	result := &models.PaymentResult{
		PaymentID: p.ID,
		Status:    p.Status,
		Amount:    amount,
		Currency:  p.Amount.Currency,
		CreatedAt: createdAt,
	}
	if p.Confirmation != nil {
		result.ConfirmationURL = p.Confirmation.ConfirmationURL
	}
	return result, nil
}
