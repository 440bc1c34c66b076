package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	RedisURL      string
	PublicBaseURL string

	// Storefront pages customers are sent back to. These live on the surrounding
	// e-commerce platform, not on this service.
	CheckoutURL      string
	OrderReceivedURL string

	// NBE gateway credentials. Empty credentials leave the gateway unconfigured,
	// which blocks session creation and callback verification but is not a
	// startup error.
	MerchantID   string
	APIUsername  string
	APIPassword  string
	TestMode     bool
	MerchantName string

	SessionTimeout     time.Duration
	VerifyTimeout      time.Duration
	GatewayMaxAttempts int

	CallbackLockTTL    time.Duration
	CallbackRateMax    int
	CallbackRateWindow time.Duration

	CORSAllowedOrigins []string

	LogLevel  string
	LogFormat string

	TracingEnabled   bool
	OTLPEndpoint     string
	TraceSampleRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		CheckoutURL:        strings.TrimSpace(k.String("STOREFRONT_CHECKOUT_URL")),
		OrderReceivedURL:   strings.TrimSpace(k.String("STOREFRONT_ORDER_RECEIVED_URL")),
		MerchantID:         strings.TrimSpace(k.String("NBE_MERCHANT_ID")),
		APIUsername:        strings.TrimSpace(k.String("NBE_API_USERNAME")),
		APIPassword:        k.String("NBE_API_PASSWORD"),
		TestMode:           parseBool(valueOrDefault(k.String("NBE_TEST_MODE"), "true")),
		MerchantName:       valueOrDefault(k.String("NBE_MERCHANT_NAME"), "Online Store"),
		SessionTimeout:     parseDuration(k.String("NBE_SESSION_TIMEOUT"), "45s"),
		VerifyTimeout:      parseDuration(k.String("NBE_VERIFY_TIMEOUT"), "30s"),
		GatewayMaxAttempts: atoiDefault(k.String("NBE_GATEWAY_MAX_ATTEMPTS"), 1),
		CallbackLockTTL:    parseDuration(k.String("CALLBACK_LOCK_TTL"), "30s"),
		CallbackRateMax:    atoiDefault(k.String("CALLBACK_RATE_MAX"), 30),
		CallbackRateWindow: parseDuration(k.String("CALLBACK_RATE_WINDOW"), "1m"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		TracingEnabled:     parseBool(k.String("TRACING_ENABLED")),
		OTLPEndpoint:       strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TraceSampleRatio:   parseFloat(k.String("TRACE_SAMPLE_RATIO"), 1),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = cfg.PublicBaseURL + "/checkout"
	}
	if cfg.OrderReceivedURL == "" {
		cfg.OrderReceivedURL = cfg.PublicBaseURL + "/order-received"
	}
	if cfg.GatewayMaxAttempts < 1 {
		cfg.GatewayMaxAttempts = 1
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseFloat(value string, def float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return def
	}
	return parsed
}

func atoiDefault(value string, def int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without leaking
// into the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
