package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server configuration
	Port     string
	LogLevel string
	LogJSON  bool

	// Storage configuration
	DatabaseURL string
	RedisAddr   string

	// Vendor catalog (vendors, plans, pricing rules)
	CatalogPath string

	// Routing and health check configuration
	VendorTimeout       time.Duration
	FailureThreshold    int
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// Wallet lock configuration
	LockTTL    time.Duration
	LockPrefix string

	// Payment gateway configuration
	PaystackBaseURL     string
	PaystackSecretKey   string
	PaystackCallbackURL string
	FundingEmailDomain  string
	GatewayTimeout      time.Duration
	GatewayRetryTimeout time.Duration

	// Queue configuration
	VerifyQueue      string
	RetryDelayQueue  string
	DeadLetterQueue  string
	VerifyMaxRetries int
	RetryBaseDelay   time.Duration
	WorkerCount      int

	// Event publishing configuration
	KafkaBrokers []string
	KafkaTopic   string
	EventWorkers int
}

func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogJSON:             getBoolEnv("LOG_JSON", true),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		CatalogPath:         getEnv("CATALOG_PATH", "catalog.yaml"),
		VendorTimeout:       getDurationEnv("VENDOR_TIMEOUT", 30*time.Second),
		FailureThreshold:    getIntEnv("FAILURE_THRESHOLD", 3),
		HealthCheckInterval: getDurationEnv("HEALTH_CHECK_INTERVAL", time.Minute),
		HealthCheckTimeout:  getDurationEnv("HEALTH_CHECK_TIMEOUT", 10*time.Second),
		LockTTL:             getDurationEnv("LOCK_TTL", 2*time.Minute),
		LockPrefix:          getEnv("LOCK_PREFIX", "wallet_lock:"),
		PaystackBaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		PaystackSecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackCallbackURL: getEnv("PAYSTACK_CALLBACK_URL", ""),
		FundingEmailDomain:  getEnv("FUNDING_EMAIL_DOMAIN", "wallet.vtu.ng"),
		GatewayTimeout:      getDurationEnv("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayRetryTimeout: getDurationEnv("GATEWAY_RETRY_TIMEOUT", 15*time.Second),
		VerifyQueue:         getEnv("VERIFY_QUEUE", "verify_jobs"),
		RetryDelayQueue:     getEnv("RETRY_DELAY_QUEUE", "verify_jobs_delayed"),
		DeadLetterQueue:     getEnv("DEAD_LETTER_QUEUE", "verify_jobs_dlq"),
		VerifyMaxRetries:    getIntEnv("VERIFY_MAX_RETRIES", 8),
		RetryBaseDelay:      getDurationEnv("RETRY_BASE_DELAY", 5*time.Second),
		WorkerCount:         getIntEnv("WORKER_COUNT", 4),
		KafkaBrokers:        getListEnv("KAFKA_BROKERS"),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "vtu.transactions"),
		EventWorkers:        getIntEnv("EVENT_WORKERS", 4),
	}
}

// FailoverBudget is the longest a purchase can spend walking vendors
// sequentially, plus slack for the ledger writes around it.
func (c *Config) FailoverBudget(vendorCount int) time.Duration {
	if vendorCount < 1 {
		vendorCount = 1
	}
	return time.Duration(vendorCount)*c.VendorTimeout + 15*time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
