package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

// TokenTTL is how long an operator token stays valid.
const TokenTTL = 24 * time.Hour

const operatorKey = "operator"

// Auth issues and checks HS256 operator tokens.
type Auth struct {
	secret  []byte
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewAuth creates an Auth signing with secret.
func NewAuth(secret string) *Auth {
	return &Auth{
		secret:  []byte(secret),
		ttl:     TokenTTL,
		nowFunc: time.Now,
	}
}

// Issue signs a token for email.
func (a *Auth) Issue(email string) (string, time.Time, error) {
	now := a.nowFunc()
	exp := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Parse validates a token and returns its subject.
func (a *Auth) Parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.nowFunc))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Required rejects requests without a valid bearer token.
func (a *Auth) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		email, err := a.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(operatorKey, email)
		c.Next()
	}
}

// LoginThrottle counts failed logins per email.
type LoginThrottle interface {
	// Blocked returns how long email must wait, or 0 when it may try.
	Blocked(ctx context.Context, email string) time.Duration
	Failed(ctx context.Context, email string)
	Succeeded(ctx context.Context, email string)
}

// Login throttle limits.
const (
	LoginMaxAttempts = 5
	LoginCooldown    = 15 * time.Minute
)

// RedisThrottle keeps login attempt counters in Redis. Redis errors are logged
// and the login is let through.
type RedisThrottle struct {
	client   redis.Cmdable
	max      int
	cooldown time.Duration
}

// NewRedisThrottle creates a throttle with the default limits.
func NewRedisThrottle(client redis.Cmdable) *RedisThrottle {
	return &RedisThrottle{client: client, max: LoginMaxAttempts, cooldown: LoginCooldown}
}

func attemptsKey(email string) string { return "login_attempts:" + email }
func cooldownKey(email string) string { return "login_cooldown:" + email }

func (t *RedisThrottle) Blocked(ctx context.Context, email string) time.Duration {
	ttl, err := t.client.TTL(ctx, cooldownKey(email)).Result()
	if err != nil {
		log.Printf("[login] throttle lookup for %s: %v", email, err)
		return 0
	}
	if ttl > 0 {
		return ttl
	}
	attempts, err := t.client.Get(ctx, attemptsKey(email)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("[login] throttle lookup for %s: %v", email, err)
		return 0
	}
	if attempts < t.max {
		return 0
	}
	pipe := t.client.TxPipeline()
	pipe.Set(ctx, cooldownKey(email), "1", t.cooldown)
	pipe.Del(ctx, attemptsKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[login] start cooldown for %s: %v", email, err)
	}
	return t.cooldown
}

func (t *RedisThrottle) Failed(ctx context.Context, email string) {
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, attemptsKey(email))
	pipe.Expire(ctx, attemptsKey(email), t.cooldown)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[login] record failure for %s: %v", email, err)
	}
}

func (t *RedisThrottle) Succeeded(ctx context.Context, email string) {
	if err := t.client.Del(ctx, attemptsKey(email), cooldownKey(email)).Err(); err != nil {
		log.Printf("[login] reset throttle for %s: %v", email, err)
	}
}

// RegisterAuthRoutes registers /login and the operator user endpoints.
func RegisterAuthRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/login", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.LoginRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validate); err != nil {
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))

		if cfg.Throttle != nil {
			if wait := cfg.Throttle.Blocked(ctx, email); wait > 0 {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":       "too many failed attempts",
					"retry_after": int(wait.Seconds()),
				})
				return
			}
		}

		ok, err := cfg.Users.Authenticate(ctx, email, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		if !ok {
			if cfg.Throttle != nil {
				cfg.Throttle.Failed(ctx, email)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		if cfg.Throttle != nil {
			cfg.Throttle.Succeeded(ctx, email)
		}

		token, exp, err := cfg.Auth.Issue(email)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "token": token, "expiresAt": exp.UTC()})
	})

	operator := r.Group("/users", cfg.Auth.Required())
	operator.GET("", func(c *gin.Context) {
		list, err := cfg.Users.List(c.Request.Context(), queryLimit(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": list})
	})
	operator.POST("", func(c *gin.Context) {
		var req validation.UserRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validate); err != nil {
			return
		}
		u, err := cfg.Users.Create(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": u})
	})
}
