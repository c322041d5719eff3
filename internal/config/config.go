package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Booking
	BookingPastTolerance    time.Duration
	BookingRetryMaxAttempts int
	BookingRetryBaseDelay   time.Duration
	BookingRetryMaxDelay    time.Duration
	BookingLockTTL          time.Duration
	StoreCallTimeout        time.Duration

	// Sessions
	SessionTTL               time.Duration
	SessionReapInterval      time.Duration
	SessionSlotDuration      time.Duration
	MaxValidationFailures    int
	MaxEffectsPerTurn        int

	// Notifications
	PreferredChannel        string
	NotifyRetryMaxAttempts  int
	NotifyRetryBaseDelay    time.Duration
	NotifyCircuitThreshold  int
	NotifyCircuitCooldown   time.Duration
	NotifyCallTimeout       time.Duration
	OperatorPhone           string
	OperatorEmail           string

	// Twilio SMS
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioBaseURL    string

	// SendGrid Email
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Knowledge base
	KnowledgeDir          string
	KnowledgeChunkSize    int
	KnowledgeChunkOverlap int
	GeminiAPIKey          string
	EmbeddingModel        string
	RetrieverTopK         int
	RetrieverCallTimeout  time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		BookingPastTolerance:    getEnvAsDuration("BOOKING_PAST_TOLERANCE", 5*time.Minute),
		BookingRetryMaxAttempts: getEnvAsInt("BOOKING_RETRY_MAX_ATTEMPTS", 3),
		BookingRetryBaseDelay:   getEnvAsDuration("BOOKING_RETRY_BASE_DELAY", 4*time.Second),
		BookingRetryMaxDelay:    getEnvAsDuration("BOOKING_RETRY_MAX_DELAY", 10*time.Second),
		BookingLockTTL:          getEnvAsDuration("BOOKING_LOCK_TTL", 15*time.Second),
		StoreCallTimeout:        getEnvAsDuration("STORE_CALL_TIMEOUT", 5*time.Second),

		SessionTTL:            getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		SessionReapInterval:   getEnvAsDuration("SESSION_REAP_INTERVAL", time.Minute),
		SessionSlotDuration:   getEnvAsDuration("SESSION_SLOT_DURATION", 30*time.Minute),
		MaxValidationFailures: getEnvAsInt("SESSION_MAX_VALIDATION_FAILURES", 3),
		MaxEffectsPerTurn:     getEnvAsInt("ENGINE_MAX_EFFECTS_PER_TURN", 8),

		PreferredChannel:       strings.ToLower(strings.TrimSpace(getEnv("PREFERRED_CHANNEL", "sms"))),
		NotifyRetryMaxAttempts: getEnvAsInt("NOTIFY_RETRY_MAX_ATTEMPTS", 2),
		NotifyRetryBaseDelay:   getEnvAsDuration("NOTIFY_RETRY_BASE_DELAY", time.Second),
		NotifyCircuitThreshold: getEnvAsInt("NOTIFY_CIRCUIT_THRESHOLD", 3),
		NotifyCircuitCooldown:  getEnvAsDuration("NOTIFY_CIRCUIT_COOLDOWN", time.Minute),
		NotifyCallTimeout:      getEnvAsDuration("NOTIFY_CALL_TIMEOUT", 10*time.Second),
		OperatorPhone:          getEnv("DOCTOR_PHONE", ""),
		OperatorEmail:          getEnv("DOCTOR_EMAIL", ""),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioBaseURL:    getEnv("TWILIO_BASE_URL", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Assistant"),

		KnowledgeDir:          getEnv("KNOWLEDGE_DIR", "data/clinic_docs"),
		KnowledgeChunkSize:    getEnvAsInt("KNOWLEDGE_CHUNK_SIZE", 1000),
		KnowledgeChunkOverlap: getEnvAsInt("KNOWLEDGE_CHUNK_OVERLAP", 200),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		EmbeddingModel:        getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		RetrieverTopK:         getEnvAsInt("RETRIEVER_TOP_K", 3),
		RetrieverCallTimeout:  getEnvAsDuration("RETRIEVER_CALL_TIMEOUT", 10*time.Second),
	}
}

// ChannelOrder returns the deployment-default notification channel priority,
// derived from PREFERRED_CHANNEL. Callers may still pass an explicit order.
func (c *Config) ChannelOrder() []string {
	if c.PreferredChannel == "email" {
		return []string{"email", "sms"}
	}
	return []string{"sms", "email"}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
