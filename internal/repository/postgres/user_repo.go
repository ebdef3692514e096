package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbuschat/realtime/internal/broadcaster"
)

var _ broadcaster.UserDirectory = (*UserRepo)(nil)

// UserRepo resolves a user id to a username by reading the users table
// that the account-management service owns. The realtime module only
// ever reads from it — spec §1 Data model, "User identity (consumed, not
// owned)".
type UserRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a read-only UserDirectory backed by the shared users table.
func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Username(ctx context.Context, userID uuid.UUID) (string, error) {
	var username string
	err := r.pool.QueryRow(ctx, `SELECT username FROM users WHERE user_id = $1`, userID).Scan(&username)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("postgres: user %s not found", userID)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: lookup username: %w", err)
	}
	return username, nil
}
