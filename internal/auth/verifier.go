package auth

import (
	"context"

	"github.com/google/uuid"
)

// Verifier validates a bearer token and resolves it to a user id. Token
// minting lives in the out-of-scope HTTP CRUD surface; the realtime core
// only ever consumes this one capability.
type Verifier interface {
	Verify(ctx context.Context, token string) (uuid.UUID, error)
}
