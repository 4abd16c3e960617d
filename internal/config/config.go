package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

const defaultAPIBaseURL = "https://api.yookassa.ru/v3"

// Config carries everything main needs to wire the server: shop credentials
// for the payment provider, the webhook signing secret, the reconciliation
// timings and the usual server/database settings.
type Config struct {
	Port      string
	MongoURI  string
	Database  string
	JWTSecret string

	ShopID     string
	SecretKey  string
	APIBaseURL string
	// TestMode relaxes the webhook IP allow-list. Never enable in production.
	TestMode bool

	// StaleAfter is how old a PENDING donation must be before the sweep
	// re-checks it with the provider.
	StaleAfter time.Duration
	// SweepInterval is the reconciliation sweep period.
	SweepInterval time.Duration
}

// Load reads configuration from the environment, applying defaults for
// everything that is safe to default.
func Load() *Config {
	return &Config{
		Port:          getenv("PORT", "8080"),
		MongoURI:      os.Getenv("MONGOURI"),
		Database:      getenv("MONGO_DBNAME", "fundraisedb"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		ShopID:        os.Getenv("YOOKASSA_SHOP_ID"),
		SecretKey:     os.Getenv("YOOKASSA_SECRET_KEY"),
		APIBaseURL:    getenv("YOOKASSA_API_URL", defaultAPIBaseURL),
		TestMode:      getBool("YOOKASSA_TEST_MODE", false),
		StaleAfter:    getDuration("PAYMENT_STALE_AFTER", time.Minute),
		SweepInterval: getDuration("PAYMENT_SWEEP_INTERVAL", 100*time.Second),
	}
}

// Validate refuses configurations the payment flow cannot run with.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGOURI environment variable not set")
	}
	if c.ShopID == "" {
		return fmt.Errorf("YooKassa shop id is not configured")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("YooKassa secret key is not configured")
	}
	if c.StaleAfter <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("staleness threshold and sweep interval must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Invalid boolean for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
