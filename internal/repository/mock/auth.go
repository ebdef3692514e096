package mock

import (
	"context"

	"github.com/google/uuid"

	"github.com/nimbuschat/realtime/internal/auth"
	"github.com/nimbuschat/realtime/internal/domain"
)

var _ auth.Verifier = (*Verifier)(nil)

// Verifier is a mock auth.Verifier that resolves every token found in its
// Tokens map and rejects everything else.
type Verifier struct {
	Tokens map[string]uuid.UUID

	VerifyFunc func(ctx context.Context, token string) (uuid.UUID, error)
}

// NewVerifier creates a mock Verifier with an empty token map.
func NewVerifier() *Verifier {
	return &Verifier{Tokens: make(map[string]uuid.UUID)}
}

func (v *Verifier) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	if v.VerifyFunc != nil {
		return v.VerifyFunc(ctx, token)
	}
	id, ok := v.Tokens[token]
	if !ok {
		return uuid.Nil, domain.ErrAuthFailure
	}
	return id, nil
}
