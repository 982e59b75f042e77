package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Processor names accepted by PROCESSOR.
const (
	ProcessorTokenz = "tokenz"
	ProcessorStripe = "stripe"
)

// ErrMissingJWTSecret is returned by EnsureJWTSecret when a deployed run has no secret.
var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set unless RUN_LOCAL=true")

// Config is the runtime configuration shared by every binary.
type Config struct {
	DBPath             string
	Port               string
	RunLocal           bool
	Processor          string
	TokenzAPIURL       string
	TokenzAPIToken     string
	StripeSecretKey    string
	StripeWebhookKey   string
	FrontendBaseURL    string
	DefaultCurrency    string
	JWTSecret          string
	RedisAddr          string
	IdempotencyTable   string
	ReplayQueueURL     string
	MetricsNamespace   string
	MetricsEnabled     bool
	ProcessorTimeout   time.Duration
	SeedUsers          string
	AWSRegion          string
	AWSEndpoint        string
	CORSAllowedOrigins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_PATH", "data/checkout.sqlite")
	v.SetDefault("PORT", "8080")
	v.SetDefault("RUN_LOCAL", false)
	v.SetDefault("PROCESSOR", ProcessorTokenz)
	v.SetDefault("TOKENZ_API_URL", "https://api.tokenz.one")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:5173")
	v.SetDefault("DEFAULT_CURRENCY", "TWD")
	v.SetDefault("METRICS_NAMESPACE", "CheckoutReconcile")
	v.SetDefault("PROCESSOR_TIMEOUT", "15s")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
}

// Load reads .env when present, then the process environment.
func Load() *Config {
	if err := godotenv.Load(".env"); err == nil {
		log.Println("[config] loaded .env")
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	timeout := v.GetDuration("PROCESSOR_TIMEOUT")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg := &Config{
		DBPath:           v.GetString("DB_PATH"),
		Port:             v.GetString("PORT"),
		RunLocal:         v.GetBool("RUN_LOCAL"),
		Processor:        strings.ToLower(strings.TrimSpace(v.GetString("PROCESSOR"))),
		TokenzAPIURL:     v.GetString("TOKENZ_API_URL"),
		TokenzAPIToken:   v.GetString("TOKENZ_API_TOKEN"),
		StripeSecretKey:  v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookKey: v.GetString("STRIPE_WEBHOOK_SECRET"),
		FrontendBaseURL:  strings.TrimRight(v.GetString("FRONTEND_BASE_URL"), "/"),
		DefaultCurrency:  strings.ToUpper(v.GetString("DEFAULT_CURRENCY")),
		JWTSecret:        v.GetString("JWT_SECRET"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		IdempotencyTable: v.GetString("IDEMPOTENCY_TABLE"),
		ReplayQueueURL:   v.GetString("REPLAY_QUEUE_URL"),
		MetricsNamespace: v.GetString("METRICS_NAMESPACE"),
		MetricsEnabled:   v.GetBool("METRICS_ENABLED"),
		ProcessorTimeout: timeout,
		SeedUsers:        v.GetString("SEED_USERS"),
		AWSRegion:        v.GetString("AWS_REGION"),
		AWSEndpoint:      v.GetString("AWS_ENDPOINT_OVERRIDE"),
	}
	for _, o := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}
	return cfg
}

// UsesAWS reports whether any AWS-backed component is configured.
func (c *Config) UsesAWS() bool {
	return c.IdempotencyTable != "" || c.ReplayQueueURL != "" || c.MetricsEnabled
}

// EnsureJWTSecret checks the operator token secret. Local runs without one get a
// random secret for the life of the process; any other run fails.
func (c *Config) EnsureJWTSecret() error {
	if c.JWTSecret != "" {
		return nil
	}
	if !c.RunLocal {
		return ErrMissingJWTSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate jwt secret: %w", err)
	}
	c.JWTSecret = hex.EncodeToString(buf)
	log.Println("[config] JWT_SECRET not set; using a random secret, operator tokens end with this process")
	return nil
}
