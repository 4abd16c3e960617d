package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/fundraisehub/fundraise-gobackend/internal/config"
	"github.com/fundraisehub/fundraise-gobackend/internal/db"
	"github.com/fundraisehub/fundraise-gobackend/internal/handlers"
	"github.com/fundraisehub/fundraise-gobackend/internal/services"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env: %s", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := db.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	database := client.Database(cfg.Database)

	donationStore := db.NewDonationStore(database)
	if err := donationStore.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}
	fundStore := db.NewFundStore(database)

	gateway := services.NewYooKassaService(cfg)
	ledger := services.NewDonationService(gateway, donationStore, fundStore, cfg.StaleAfter)
	checker := services.NewPaymentStatusChecker(donationStore, gateway, ledger, cfg.SweepInterval, cfg.StaleAfter)
	go checker.Run(ctx)

	allowList := services.NewIPAllowList(cfg.TestMode, nil)
	donationHandler := handlers.NewDonationHandler(ledger, cfg.JWTSecret)
	webhookHandler := handlers.NewWebhookHandler(ledger, allowList, cfg.SecretKey)

	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")

	router.HandleFunc("/api/donation", donationHandler.CreateDonation).Methods("POST")
	router.HandleFunc("/api/donation/{donationID}", donationHandler.GetDonation).Methods("GET")
	router.HandleFunc("/api/donations", donationHandler.GetMyDonations).Methods("GET")
	router.HandleFunc("/api/fund/{fundID}/donations", donationHandler.GetFundDonations).Methods("GET")

	router.HandleFunc("/api/v1/payments/notifications", webhookHandler.HandleNotification).Methods("POST")

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server running on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
