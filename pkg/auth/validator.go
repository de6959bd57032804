// Package auth validates the signed session credentials presented by
// connecting clients. Token issuance lives in the account service; this
// package only verifies.
package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
)

// User is an authenticated participant identity extracted from a credential.
type User struct {
	ID       uint32
	Username string
}

// TokenValidator abstracts credential validation so the server can support
// multiple verification policies (shared-secret JWT today, OIDC later).
type TokenValidator interface {
	// ValidateToken validates a credential and returns the participant identity.
	// Returns an error if the token is invalid, expired, or malformed.
	ValidateToken(ctx context.Context, token string) (*User, error)

	// Name returns the validator name for logging/debugging
	Name() string
}
