package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbuschat/realtime/internal/broadcaster"
)

var _ broadcaster.RoomMembership = (*MembershipRepo)(nil)

// MembershipRepo checks room membership against the room_members table
// owned by the out-of-scope room/channel CRUD surface.
type MembershipRepo struct {
	pool *pgxpool.Pool
}

// NewMembershipRepo creates a postgres-backed RoomMembership.
func NewMembershipRepo(pool *pgxpool.Pool) *MembershipRepo {
	return &MembershipRepo{pool: pool}
}

func (r *MembershipRepo) IsMember(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check membership: %w", err)
	}
	return exists, nil
}
