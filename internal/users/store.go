package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/store"
)

// User is an operator account. The password material never leaves the package.
type User struct {
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Credential is an email/password pair used for seeding.
type Credential struct {
	Email    string
	Password string
}

// DefaultCredentials are seeded into an empty deployment.
var DefaultCredentials = []Credential{
	{Email: "aaa@aaa.com", Password: "0"},
	{Email: "bbb@bbb.com", Password: "1"},
	{Email: "ccc@ccc.com", Password: "1"},
	{Email: "ddd@ddd.com", Password: "1"},
}

// Store encapsulates operations on the users table.
type Store struct {
	db      *sqlx.DB
	nowFunc func() time.Time
}

// NewStore creates a new users Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:      db,
		nowFunc: store.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const insertUserQuery = `INSERT INTO users (email, password_hash, password_salt, created_at) VALUES (?, ?, ?, ?)`

// Create registers a user. The email is trimmed and lower-cased first.
func (s *Store) Create(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, apperr.Validation("email", "is required")
	}
	if password == "" {
		return nil, apperr.Validation("password", "is required")
	}
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(password, salt)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc()
	if _, err := s.db.ExecContext(ctx, insertUserQuery, email, hash, salt, now); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("user %s: %w", email, apperr.ErrConflict)
		}
		return nil, apperr.Storage("insert user", err)
	}
	return &User{Email: email, CreatedAt: now}, nil
}

// Authenticate reports whether password matches the stored hash for email.
// Unknown emails are a plain mismatch, not an error.
func (s *Store) Authenticate(ctx context.Context, email, password string) (bool, error) {
	var row struct {
		Hash string `db:"password_hash"`
		Salt string `db:"password_salt"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT password_hash, password_salt FROM users WHERE email = ? LIMIT 1`, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("load user", err)
	}
	return checkPassword(password, row.Salt, row.Hash)
}

// List returns users newest first. The limit is clamped like every list endpoint.
func (s *Store) List(ctx context.Context, limit int) ([]User, error) {
	var out []User
	err := s.db.SelectContext(ctx, &out, `SELECT email, created_at FROM users ORDER BY created_at DESC LIMIT ?`, store.ClampLimit(limit))
	if err != nil {
		return nil, apperr.Storage("list users", err)
	}
	return out, nil
}

// EnsureDefaults creates each credential whose email is not registered yet and
// returns how many were created. Existing passwords are left alone.
func (s *Store) EnsureDefaults(ctx context.Context, creds []Credential) (int, error) {
	created := 0
	for _, c := range creds {
		_, err := s.Create(ctx, c.Email, c.Password)
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", c.Email, err)
		}
		created++
	}
	if created > 0 {
		log.Printf("[users] seeded %d default users", created)
	}
	return created, nil
}

// ParseCredentials reads "email:password" pairs separated by commas, as used
// by the SEED_USERS setting. Malformed entries are skipped.
func ParseCredentials(s string) []Credential {
	var out []Credential
	for _, part := range strings.Split(s, ",") {
		email, password, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || strings.TrimSpace(email) == "" {
			continue
		}
		out = append(out, Credential{Email: strings.TrimSpace(email), Password: password})
	}
	return out
}
