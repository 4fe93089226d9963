package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// PgAuth keeps users, role grants and sessions in Postgres.
type PgAuth struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPgAuth(pool *pgxpool.Pool) *PgAuth {
	return &PgAuth{pool: pool, now: time.Now}
}

func (a *PgAuth) Session(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	s := Session{Token: token}
	err := a.pool.QueryRow(ctx, `
		SELECT user_id::text, expires_at FROM sessions
		WHERE token = $1 AND expires_at > $2`,
		token, a.now(),
	).Scan(&s.UserID, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &s, nil
}

func (a *PgAuth) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var ok bool
	err := a.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`,
		userID, role,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("select user_roles: %w", err)
	}
	return ok, nil
}

// SignIn checks the password and opens a session. Repeated failures for
// one email are throttled.
func (a *PgAuth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	wait, err := a.SignInThrottleWait(ctx, email)
	if err != nil {
		return nil, err
	}
	if wait > 0 {
		return nil, &ThrottledError{Wait: wait}
	}

	var userID, hash string
	err = a.pool.QueryRow(ctx, `SELECT id::text, password_hash FROM users WHERE email = $1`, email).Scan(&userID, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = a.recordSignInFailed(ctx, email)
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		_ = a.recordSignInFailed(ctx, email)
		return nil, ErrBadCredentials
	}
	_ = a.recordSignInSuccess(ctx, email)

	s := &Session{Token: uuid.NewString(), UserID: userID, ExpiresAt: a.now().Add(SessionTTL)}
	_, err = a.pool.Exec(ctx, `INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		s.Token, s.UserID, s.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (a *PgAuth) SignOut(ctx context.Context, token string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CreateAdmin creates the user if needed, resets its password and grants admin.
func (a *PgAuth) CreateAdmin(ctx context.Context, email, password string) (string, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	var userID string
	err = pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (email, password_hash) VALUES ($1, $2)
			ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash
			RETURNING id::text`,
			normalizeEmail(email), hash,
		).Scan(&userID)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
			ON CONFLICT (user_id, role) DO NOTHING`,
			userID, RoleAdmin,
		)
		if err != nil {
			return fmt.Errorf("grant admin: %w", err)
		}
		return nil
	})
	return userID, err
}

// HashPassword returns a bcrypt hash of the plain password for storing in DB.
func HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
