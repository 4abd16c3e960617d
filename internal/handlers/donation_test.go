package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/fundraisehub/fundraise-gobackend/internal/models"
	"github.com/fundraisehub/fundraise-gobackend/internal/services"
)

const apiJWTSecret = "test-jwt-secret"

// createStubGateway overrides payment creation with a scripted response; the
// remaining gateway calls fall through to stubGateway.
type createStubGateway struct {
	stubGateway
	result *models.PaymentResult
	err    error
}

func (g *createStubGateway) CreatePayment(context.Context, *services.CreatePaymentRequest) (*models.PaymentResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type donationAPIFixture struct {
	router    *mux.Router
	donations *memDonationStore
	funds     *memFundStore
	gateway   *createStubGateway
	fundID    primitive.ObjectID
	donorID   primitive.ObjectID
}

func newDonationAPIFixture(t *testing.T) *donationAPIFixture {
	t.Helper()

	donations := newMemDonationStore()
	funds := newMemFundStore()

	fundID := primitive.NewObjectID()
	target, err := primitive.ParseDecimal128("1000.00")
	require.NoError(t, err)
	funds.funds[fundID] = &models.Fund{
		ID:           fundID,
		Title:        "Test fund",
		TargetAmount: target,
		Status:       models.FundActive,
	}

	gateway := &createStubGateway{
		result: &models.PaymentResult{
			PaymentID:       "pay-1",
			ConfirmationURL: "https://provider/confirm",
			Status:          "pending",
			Amount:          decimal.RequireFromString("100.00"),
			Currency:        "RUB",
		},
	}

	service := services.NewDonationService(gateway, donations, funds, time.Minute)
	handler := NewDonationHandler(service, apiJWTSecret)

	router := mux.NewRouter()
	router.HandleFunc("/api/donation", handler.CreateDonation).Methods(http.MethodPost)
	router.HandleFunc("/api/donation/{donationID}", handler.GetDonation).Methods(http.MethodGet)
	router.HandleFunc("/api/donations", handler.GetMyDonations).Methods(http.MethodGet)
	router.HandleFunc("/api/fund/{fundID}/donations", handler.GetFundDonations).Methods(http.MethodGet)

	return &donationAPIFixture{
		router:    router,
		donations: donations,
		funds:     funds,
		gateway:   gateway,
		fundID:    fundID,
		donorID:   primitive.NewObjectID(),
	}
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	signed, err := token.SignedString([]byte(apiJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (f *donationAPIFixture) request(t *testing.T, method, path, auth string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// errorBody decodes an error response and fails the test if the body is not
// valid JSON with an error message.
func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "error body must be valid JSON: %s", rec.Body.String())
	require.NotEmpty(t, body["error"])
	return body["error"]
}

func TestCreateDonationEndpoint(t *testing.T) {
	f := newDonationAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/donation", bearerToken(t, f.donorID.Hex()), DonationRequest{
		FundID:      f.fundID.Hex(),
		Amount:      "100.00",
		Description: "for the dogs",
		ReturnURL:   "https://example.org/return",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp DonationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://provider/confirm", resp.ConfirmationURL)
	assert.Equal(t, models.DonationPending, resp.Donation.Status)
	assert.Equal(t, f.donorID, resp.Donation.DonorID)

	stored, err := f.donations.FindByPaymentID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.DonationPending, stored.Status)
}

func TestCreateDonationRequiresAuth(t *testing.T) {
	f := newDonationAPIFixture(t)

	payload := DonationRequest{FundID: f.fundID.Hex(), Amount: "100.00", ReturnURL: "https://example.org/return"}

	rec := f.request(t, http.MethodPost, "/api/donation", "", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	errorBody(t, rec)

	rec = f.request(t, http.MethodPost, "/api/donation", "Bearer not-a-token", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	errorBody(t, rec)
}

func TestCreateDonationRejectsWrongSigningKey(t *testing.T) {
	f := newDonationAPIFixture(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": f.donorID.Hex()})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/donation", "Bearer "+signed, DonationRequest{
		FundID: f.fundID.Hex(), Amount: "100.00", ReturnURL: "https://example.org/return",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	errorBody(t, rec)
}

func TestCreateDonationValidation(t *testing.T) {
	f := newDonationAPIFixture(t)
	auth := bearerToken(t, f.donorID.Hex())

	cases := []struct {
		name string
		req  DonationRequest
	}{
		{"bad fund id", DonationRequest{FundID: "nope", Amount: "100.00", ReturnURL: "https://example.org/return"}},
		{"zero amount", DonationRequest{FundID: f.fundID.Hex(), Amount: "0", ReturnURL: "https://example.org/return"}},
		{"negative amount", DonationRequest{FundID: f.fundID.Hex(), Amount: "-5", ReturnURL: "https://example.org/return"}},
		{"garbage amount", DonationRequest{FundID: f.fundID.Hex(), Amount: "lots", ReturnURL: "https://example.org/return"}},
		{"missing return url", DonationRequest{FundID: f.fundID.Hex(), Amount: "100.00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.request(t, http.MethodPost, "/api/donation", auth, tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			errorBody(t, rec)
		})
	}
}

func TestCreateDonationUnknownFund(t *testing.T) {
	f := newDonationAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/donation", bearerToken(t, f.donorID.Hex()), DonationRequest{
		FundID: primitive.NewObjectID().Hex(), Amount: "100.00", ReturnURL: "https://example.org/return",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errorBody(t, rec)
}

func TestCreateDonationGatewayErrorBodyIsValidJSON(t *testing.T) {
	f := newDonationAPIFixture(t)
	// Provider error text carries quotes; the response body must survive them.
	f.gateway.err = &services.GatewayError{
		Op:         "create",
		StatusCode: 400,
		Err:        errors.New(`{"description":"Invalid \"amount\" value"}`),
	}

	rec := f.request(t, http.MethodPost, "/api/donation", bearerToken(t, f.donorID.Hex()), DonationRequest{
		FundID: f.fundID.Hex(), Amount: "100.00", ReturnURL: "https://example.org/return",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(errorBody(t, rec), "Failed to create donation"))
}

func TestGetDonationEndpoint(t *testing.T) {
	f := newDonationAPIFixture(t)
	auth := bearerToken(t, f.donorID.Hex())

	amount, err := primitive.ParseDecimal128("100.00")
	require.NoError(t, err)
	donation := &models.Donation{
		FundID:    f.fundID,
		DonorID:   f.donorID,
		Amount:    amount,
		Currency:  "RUB",
		Status:    models.DonationPending,
		PaymentID: "pay-1",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.donations.Insert(context.Background(), donation))

	rec := f.request(t, http.MethodGet, "/api/donation/"+donation.ID.Hex(), auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Donation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, donation.ID, got.ID)
	assert.Equal(t, "pay-1", got.PaymentID)

	rec = f.request(t, http.MethodGet, "/api/donation/"+primitive.NewObjectID().Hex(), auth, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/donation/not-an-id", auth, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/donation/"+donation.ID.Hex(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetFundDonationsEndpoint(t *testing.T) {
	f := newDonationAPIFixture(t)

	amount, err := primitive.ParseDecimal128("100.00")
	require.NoError(t, err)
	for _, paymentID := range []string{"pay-1", "pay-2"} {
		require.NoError(t, f.donations.Insert(context.Background(), &models.Donation{
			FundID:    f.fundID,
			DonorID:   primitive.NewObjectID(),
			Amount:    amount,
			Currency:  "RUB",
			Status:    models.DonationPending,
			PaymentID: paymentID,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}))
	}

	rec := f.request(t, http.MethodGet, "/api/fund/"+f.fundID.Hex()+"/donations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Donation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestGetMyDonationsEndpoint(t *testing.T) {
	f := newDonationAPIFixture(t)

	amount, err := primitive.ParseDecimal128("100.00")
	require.NoError(t, err)
	mine := &models.Donation{
		FundID: f.fundID, DonorID: f.donorID, Amount: amount, Currency: "RUB",
		Status: models.DonationPending, PaymentID: "pay-mine",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	other := &models.Donation{
		FundID: f.fundID, DonorID: primitive.NewObjectID(), Amount: amount, Currency: "RUB",
		Status: models.DonationPending, PaymentID: "pay-other",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, f.donations.Insert(context.Background(), mine))
	require.NoError(t, f.donations.Insert(context.Background(), other))

	rec := f.request(t, http.MethodGet, "/api/donations", bearerToken(t, f.donorID.Hex()), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Donation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "pay-mine", got[0].PaymentID)
}
