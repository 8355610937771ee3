package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config captures runtime configuration values used by the payments backend.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// JWTSecret signs and verifies bearer tokens presented to the client RPCs.
	JWTSecret string

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string

	Stripe StripeConfig
	Mail   MailConfig
	Push   PushConfig

	// WorkerConcurrency is the number of notification job processors.
	WorkerConcurrency int

	// RPCRatePerMinute bounds client RPC calls per authenticated caller.
	RPCRatePerMinute int
}

// StripeConfig holds gateway credentials and checkout defaults. An empty
// SecretKey leaves the Issuer RPCs unconfigured (failed-precondition).
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string

	PriceMonthly     string
	PriceThreeMonths string
	PriceSixMonths   string
	TrialDays        int

	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// Configured reports whether outbound gateway calls are possible.
func (s StripeConfig) Configured() bool {
	return s.SecretKey != ""
}

// MailConfig holds SMTP settings for transactional email.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether an SMTP relay is available.
func (m MailConfig) Configured() bool {
	return m.Host != "" && m.From != ""
}

// PushConfig holds Firebase Cloud Messaging credentials.
type PushConfig struct {
	CredentialsFile string
}

// Configured reports whether FCM credentials are available.
func (p PushConfig) Configured() bool {
	return p.CredentialsFile != ""
}

const (
	defaultServerAddress     = ":18111"
	defaultLogLevel          = "info"
	defaultTrialDays         = 7
	defaultSMTPPort          = 587
	defaultWorkerConcurrency = 5
	defaultRPCRatePerMinute  = 60

	envServerAddress      = "BACKEND_ADDR"
	envDatabaseURL        = "DATABASE_URL"
	envJWTSecret          = "JWT_SECRET"
	envLogLevel           = "LOG_LEVEL"
	envStripeSecretKey    = "STRIPE_SECRET_KEY"
	envStripeWebhook      = "STRIPE_WEBHOOK_SECRET"
	envPriceMonthly       = "STRIPE_PRICE_MONTHLY"
	envPriceThreeMonths   = "STRIPE_PRICE_3MONTHS"
	envPriceSixMonths     = "STRIPE_PRICE_6MONTHS"
	envTrialDays          = "SUBSCRIPTION_TRIAL_DAYS"
	envCheckoutSuccessURL = "CHECKOUT_SUCCESS_URL"
	envCheckoutCancelURL  = "CHECKOUT_CANCEL_URL"
	envPortalReturnURL    = "PORTAL_RETURN_URL"
	envSMTPHost           = "SMTP_HOST"
	envSMTPPort           = "SMTP_PORT"
	envSMTPUsername       = "SMTP_USERNAME"
	envSMTPPassword       = "SMTP_PASSWORD"
	envMailFrom           = "MAIL_FROM"
	envFCMCredentials     = "FCM_CREDENTIALS_FILE"
	envWorkerConcurrency  = "WORKER_CONCURRENCY"
	envRPCRatePerMinute   = "RPC_RATE_PER_MINUTE"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress: firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:   strings.TrimSpace(os.Getenv(envDatabaseURL)),
		JWTSecret:     os.Getenv(envJWTSecret),
		LogLevel:      strings.ToLower(firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel)),
		Stripe: StripeConfig{
			SecretKey:          os.Getenv(envStripeSecretKey),
			WebhookSecret:      os.Getenv(envStripeWebhook),
			PriceMonthly:       os.Getenv(envPriceMonthly),
			PriceThreeMonths:   os.Getenv(envPriceThreeMonths),
			PriceSixMonths:     os.Getenv(envPriceSixMonths),
			CheckoutSuccessURL: os.Getenv(envCheckoutSuccessURL),
			CheckoutCancelURL:  os.Getenv(envCheckoutCancelURL),
			PortalReturnURL:    os.Getenv(envPortalReturnURL),
		},
		Mail: MailConfig{
			Host:     os.Getenv(envSMTPHost),
			Username: os.Getenv(envSMTPUsername),
			Password: os.Getenv(envSMTPPassword),
			From:     os.Getenv(envMailFrom),
		},
		Push: PushConfig{
			CredentialsFile: os.Getenv(envFCMCredentials),
		},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("%s is required", envJWTSecret)
	}

	var err error
	if cfg.Stripe.TrialDays, err = intFromEnv(envTrialDays, defaultTrialDays); err != nil {
		return Config{}, err
	}
	if cfg.Mail.Port, err = intFromEnv(envSMTPPort, defaultSMTPPort); err != nil {
		return Config{}, err
	}
	if cfg.WorkerConcurrency, err = intFromEnv(envWorkerConcurrency, defaultWorkerConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.RPCRatePerMinute, err = intFromEnv(envRPCRatePerMinute, defaultRPCRatePerMinute); err != nil {
		return Config{}, err
	}

	if cfg.Stripe.TrialDays < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", envTrialDays)
	}

	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
