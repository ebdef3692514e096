package jwtverifier

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nimbuschat/realtime/internal/auth"
	"github.com/nimbuschat/realtime/internal/domain"
)

var _ auth.Verifier = (*Verifier)(nil)

// Verifier checks HMAC (HS256) signed bearer tokens and extracts the
// subject claim as the user id.
type Verifier struct {
	secret []byte
}

// New creates a new HMAC-based token Verifier.
func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates token, returning the user id from the "sub" claim.
func (v *Verifier) Verify(_ context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, domain.ErrAuthFailure
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", domain.ErrAuthFailure, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, domain.ErrAuthFailure
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, domain.ErrAuthFailure
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid subject claim", domain.ErrAuthFailure)
	}

	return userID, nil
}
