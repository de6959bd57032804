package auth

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator verifies HS256 session tokens issued by the account service.
//
// Expected claims: numeric "sub" (user id), "username", "exp", "iat".
type JWTValidator struct {
	secretKey []byte
}

// NewJWTValidator creates a validator for the shared signing secret.
// Returns an error if the secret is shorter than 32 characters (security requirement).
func NewJWTValidator(secret string) (*JWTValidator, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	return &JWTValidator{secretKey: []byte(secret)}, nil
}

// Name returns the validator name for logging
func (v *JWTValidator) Name() string {
	return "jwt-hs256"
}

// ValidateToken verifies signature and expiry and extracts the participant identity.
func (v *JWTValidator) ValidateToken(_ context.Context, token string) (*User, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return v.secretKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// "sub" is a numeric user id on this wire, not the RFC 7519 string form
	sub, ok := claims["sub"].(float64)
	if !ok || sub < 0 || sub > math.MaxUint32 {
		return nil, fmt.Errorf("%w: sub", ErrInvalidClaims)
	}
	username, ok := claims["username"].(string)
	if !ok || username == "" {
		return nil, fmt.Errorf("%w: username", ErrInvalidClaims)
	}

	return &User{ID: uint32(sub), Username: username}, nil
}
