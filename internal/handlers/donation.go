package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/fundraisehub/fundraise-gobackend/internal/models"
	"github.com/fundraisehub/fundraise-gobackend/internal/services"
)

type DonationHandler struct {
	service   *services.DonationService
	jwtSecret []byte
}

func NewDonationHandler(service *services.DonationService, jwtSecret string) *DonationHandler {
	return &DonationHandler{service: service, jwtSecret: []byte(jwtSecret)}
}

type DonationRequest struct {
	FundID      string `json:"fund_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	ReturnURL   string `json:"return_url"`
}

type DonationResponse struct {
	Donation        *models.Donation `json:"donation"`
	ConfirmationURL string           `json:"confirmation_url,omitempty"`
}

// writeError sends a JSON error body. The message goes through the encoder
// so arbitrary error text (quotes included) stays valid JSON.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}

// donorID authenticates the request and returns the caller's identity from
// the bearer token's user_id claim. Identity is always threaded into the
// service explicitly; there is no ambient auth context.
func (h *DonationHandler) donorID(r *http.Request) (primitive.ObjectID, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return primitive.NilObjectID, fmt.Errorf("authorization header required")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return primitive.NilObjectID, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("invalid token claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("invalid user_id in token")
	}

	donorID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid user_id format: %v", err)
	}
	return donorID, nil
}

func (h *DonationHandler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	donorID, err := h.donorID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var req DonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	fundID, err := primitive.ObjectIDFromHex(req.FundID)
	if err != nil {
		writeError(w, "Invalid fund_id", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, "Amount must be a positive decimal", http.StatusBadRequest)
		return
	}
	if req.ReturnURL == "" {
		writeError(w, "return_url is required", http.StatusBadRequest)
		return
	}

	donation, confirmationURL, err := h.service.CreateDonation(r.Context(), donorID, fundID, amount, req.Description, req.ReturnURL)
	if err != nil {
		log.Printf("Failed to create donation: %v", err)
		if errors.Is(err, services.ErrFundNotFound) {
			writeError(w, "fund not found", http.StatusNotFound)
			return
		}
		writeError(w, fmt.Sprintf("Failed to create donation: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(DonationResponse{Donation: donation, ConfirmationURL: confirmationURL}); err != nil {
		log.Printf("Failed to encode donation: %v", err)
		writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *DonationHandler) GetDonation(w http.ResponseWriter, r *http.Request) {
	if _, err := h.donorID(r); err != nil {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	donationID, err := primitive.ObjectIDFromHex(mux.Vars(r)["donationID"])
	if err != nil {
		writeError(w, "Invalid donation id", http.StatusBadRequest)
		return
	}

	donation, err := h.service.GetDonation(r.Context(), donationID)
	if err != nil {
		if errors.Is(err, services.ErrDonationNotFound) {
			writeError(w, "donation not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to get donation %s: %v", donationID.Hex(), err)
		writeError(w, "Failed to fetch donation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(donation); err != nil {
		log.Printf("Failed to encode donation: %v", err)
		writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *DonationHandler) GetFundDonations(w http.ResponseWriter, r *http.Request) {
	fundID, err := primitive.ObjectIDFromHex(mux.Vars(r)["fundID"])
	if err != nil {
		writeError(w, "Invalid fund id", http.StatusBadRequest)
		return
	}

	donations, err := h.service.GetFundDonations(r.Context(), fundID)
	if err != nil {
		log.Printf("Failed to get donations for fund %s: %v", fundID.Hex(), err)
		writeError(w, "Failed to fetch donations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(donations); err != nil {
		log.Printf("Failed to encode donations: %v", err)
		writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *DonationHandler) GetMyDonations(w http.ResponseWriter, r *http.Request) {
	donorID, err := h.donorID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	donations, err := h.service.GetDonorDonations(r.Context(), donorID)
	if err != nil {
		log.Printf("Failed to get donations for donor %s: %v", donorID.Hex(), err)
		writeError(w, "Failed to fetch donations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(donations); err != nil {
		log.Printf("Failed to encode donations: %v", err)
		writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
