package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-checkout-reconcile/internal/app"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/handlers"
	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

func setupRouter(cfg *config.Config, hc handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 0 || cfg.CORSAllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSAllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "Idempotency-Key")
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	handlers.RegisterRoutes(r, hc)

	return r
}

func handlerConfig(a *app.App) handlers.HandlerConfig {
	hc := handlers.HandlerConfig{
		Orders:   a.Orders,
		Ledger:   a.Ledger,
		Engine:   a.Engine,
		Checkout: a.Checkout,
		Users:    a.Users,
		Auth:     handlers.NewAuth(a.Config.JWTSecret),
		Validate: validation.New(),
	}
	if a.Stripe != nil {
		hc.Verifier = a.Stripe
	}
	if a.Replays != nil {
		hc.Replays = a.Replays
	}
	if a.Config.RedisAddr != "" {
		hc.Throttle = handlers.NewRedisThrottle(redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr}))
	}
	return hc
}

func main() {
	ctx := context.Background()
	cfg := config.Load()
	if err := cfg.EnsureJWTSecret(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer a.Close()

	if err := a.SeedUsers(ctx); err != nil {
		log.Fatalf("failed to seed users: %v", err)
	}

	r := setupRouter(cfg, handlerConfig(a))

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		log.Printf("running local server on %s (processor=%s, db=%s)", addr, a.Processor.Name(), cfg.DBPath)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
