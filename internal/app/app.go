package app

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/checkout"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/idempotency"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
	"github.com/imrishuroy/go-checkout-reconcile/internal/reconcile"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
	"github.com/imrishuroy/go-checkout-reconcile/internal/users"
	"github.com/imrishuroy/go-checkout-reconcile/internal/webhooks"
)

// App holds the wired components shared by the api, worker and CLI binaries.
type App struct {
	Config      *config.Config
	DB          *sqlx.DB
	Orders      *orders.Store
	Ledger      *webhooks.Ledger
	Users       *users.Store
	Engine      *reconcile.Engine
	Processor   processor.Processor
	Checkout    *checkout.Service
	Idempotency idempotency.Store

	// Optional components; nil when not configured.
	Stripe  *processor.Stripe
	AWS     *aws.Clients
	Replays *aws.Publisher
}

// New opens and migrates the database and wires every component from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := store.OpenAndMigrate(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config: cfg,
		DB:     db,
		Orders: orders.NewStore(db),
		Ledger: webhooks.NewLedger(db),
		Users:  users.NewStore(db),
	}

	if cfg.UsesAWS() {
		a.AWS, err = aws.NewClients(ctx, aws.Settings{Region: cfg.AWSRegion, EndpointOverride: cfg.AWSEndpoint})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
	}

	var metrics reconcile.Metrics
	if cfg.MetricsEnabled {
		metrics = aws.NewMetrics(a.AWS.CloudWatch, cfg.MetricsNamespace)
	}
	a.Engine = reconcile.NewEngine(a.Orders, a.Ledger, cfg.DefaultCurrency, metrics)

	if cfg.ReplayQueueURL != "" {
		a.Replays = aws.NewPublisher(a.AWS.SQS, cfg.ReplayQueueURL)
	}

	if cfg.IdempotencyTable != "" {
		a.Idempotency = idempotency.NewDynamoStore(a.AWS.DynamoDB, cfg.IdempotencyTable, idempotency.DefaultTTL)
	} else {
		a.Idempotency = idempotency.NewSQLStore(db, idempotency.DefaultTTL)
	}

	switch cfg.Processor {
	case config.ProcessorStripe:
		a.Stripe = processor.NewStripe(processor.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookKey,
		})
		a.Processor = a.Stripe
	case config.ProcessorTokenz, "":
		if cfg.TokenzAPIToken == "" {
			log.Println("[app] TOKENZ_API_TOKEN is not set; checkout calls will be rejected by the processor")
		}
		a.Processor = processor.NewTokenz(processor.TokenzConfig{
			BaseURL: cfg.TokenzAPIURL,
			Token:   cfg.TokenzAPIToken,
			Timeout: cfg.ProcessorTimeout,
		})
	default:
		db.Close()
		return nil, fmt.Errorf("unknown processor %q", cfg.Processor)
	}

	a.Checkout = checkout.NewService(a.Orders, a.Processor, a.Idempotency, checkout.Config{
		FrontendBaseURL: cfg.FrontendBaseURL,
		DefaultCurrency: cfg.DefaultCurrency,
	})
	return a, nil
}

// SeedUsers creates the configured operator accounts, or the built-in defaults
// when none are configured.
func (a *App) SeedUsers(ctx context.Context) error {
	creds := users.ParseCredentials(a.Config.SeedUsers)
	if len(creds) == 0 {
		creds = users.DefaultCredentials
	}
	_, err := a.Users.EnsureDefaults(ctx, creds)
	return err
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
