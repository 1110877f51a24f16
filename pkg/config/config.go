package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BackendBaseURL  string
	RendererBaseURL string
	InternalAPIKey  string
	JWTSecret       string
	Port            string
	Host            string
	Env             string
	AllowedOrigins  []string

	RedisURL            string
	RedisPassword       string
	WalletEventsChannel string

	NotificationPollInterval time.Duration
	NotificationLimit        int
	TransactionFetchSize     int
	LedgerPageSize           int
	BankLookupDebounce       time.Duration
	P2PLookupDebounce        time.Duration
	LookupTimeout            time.Duration
	FetchTimeout             time.Duration
	NarrationMaxLength       int
	Timezone                 string
	SessionIdleTimeout       time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

func LoadConfig() Config {
	godotenv.Load()

	backendURL := strings.TrimRight(getEnv("BACKEND_BASE_URL"), "/")

	return Config{
		BackendBaseURL:  backendURL,
		RendererBaseURL: strings.TrimRight(getEnvOrDefault("RENDERER_BASE_URL", backendURL), "/"),
		InternalAPIKey:  getEnvOrDefault("INTERNAL_API_KEY", ""),
		JWTSecret:       getEnv("JWT_SECRET"),
		Port:            getEnv("PORT"),
		Host:            getEnvOrDefault("HOST", "http://localhost"),
		Env:             getEnvOrDefault("ENV", "development"),
		AllowedOrigins:  strings.Split(getEnvOrDefault("ALLOWED_ORIGINS", "*"), ","),

		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword:       getEnvOrDefault("REDIS_PASSWORD", ""),
		WalletEventsChannel: getEnvOrDefault("WALLET_EVENTS_CHANNEL", "wallet_events"),

		NotificationPollInterval: getDurationOrDefault("NOTIFICATION_POLL_INTERVAL", 2*time.Minute),
		NotificationLimit:        getIntOrDefault("NOTIFICATION_LIMIT", 50),
		TransactionFetchSize:     getIntOrDefault("TRANSACTION_FETCH_SIZE", 200),
		LedgerPageSize:           getIntOrDefault("LEDGER_PAGE_SIZE", 10),
		BankLookupDebounce:       getDurationOrDefault("BANK_LOOKUP_DEBOUNCE", 700*time.Millisecond),
		P2PLookupDebounce:        getDurationOrDefault("P2P_LOOKUP_DEBOUNCE", 400*time.Millisecond),
		LookupTimeout:            getDurationOrDefault("LOOKUP_TIMEOUT", 15*time.Second),
		FetchTimeout:             getDurationOrDefault("FETCH_TIMEOUT", 20*time.Second),
		NarrationMaxLength:       getIntOrDefault("NARRATION_MAX_LENGTH", 100),
		Timezone:                 getEnvOrDefault("TIMEZONE", "Africa/Lagos"),
		SessionIdleTimeout:       getDurationOrDefault("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		RateLimitRPS:   getFloatOrDefault("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getIntOrDefault("RATE_LIMIT_BURST", 20),
	}
}

// Location resolves Timezone, falling back to UTC when the zone database lacks it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	panic(fmt.Sprintf("%s is required", key))
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntOrDefault(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		panic(fmt.Sprintf("%s must be a valid integer", key))
	}
	return value
}

func getFloatOrDefault(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		panic(fmt.Sprintf("%s must be a valid number", key))
	}
	return value
}

func getDurationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		panic(fmt.Sprintf("%s must be a valid duration (e.g. 700ms, 2m)", key))
	}
	return value
}
