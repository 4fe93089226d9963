package services

import (
	"context"
	"errors"
	"time"
)

// RoleAdmin is the grant required to save the menu.
const RoleAdmin = "admin"

// SessionTTL is how long a sign-in stays valid.
const SessionTTL = 12 * time.Hour

var ErrBadCredentials = errors.New("invalid email or password")

// ThrottledError is returned by SignIn while an email is cooling down.
type ThrottledError struct {
	Wait time.Duration
}

func (e *ThrottledError) Error() string {
	return "too many failed sign-ins, retry in " + e.Wait.Round(time.Second).String()
}

type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Authenticator resolves sessions and role grants.
type Authenticator interface {
	// Session returns the live session for token, or nil when there is none.
	Session(ctx context.Context, token string) (*Session, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// AccountService signs admins in and out.
type AccountService interface {
	Authenticator
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, token string) error
	CreateAdmin(ctx context.Context, email, password string) (userID string, err error)
}
