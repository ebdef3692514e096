package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbuschat/realtime/internal/broadcaster"
	"github.com/nimbuschat/realtime/internal/digestion"
	"github.com/nimbuschat/realtime/internal/domain"
)

// Ensure MessageRepo implements both consumer-side interfaces.
var (
	_ digestion.MessageStore    = (*MessageRepo)(nil)
	_ broadcaster.SchemaManager = (*MessageRepo)(nil)
)

// identifierPattern constrains the only untrusted input that ever reaches
// a table name: a room id. pgx parameterizes values, never identifiers, so
// the per-room table name is built by string interpolation — this pattern
// is the only thing standing between that and injection, and is checked
// before every query that touches a dynamic table.
var identifierPattern = regexp.MustCompile(`^[0-9a-f]{8}_[0-9a-f]{4}_[0-9a-f]{4}_[0-9a-f]{4}_[0-9a-f]{12}$`)

// MessageRepo is the durable store's per-room message and channel tables,
// backed by pgx. Each room gets its own messages_{room_id} table, named
// after the room's UUID with hyphens replaced by underscores (Postgres
// identifiers cannot contain hyphens unquoted).
type MessageRepo struct {
	pool *pgxpool.Pool
}

// NewMessageRepo creates a postgres-backed MessageRepo.
func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func tableSuffix(roomID string) (string, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return "", fmt.Errorf("postgres: invalid room id %q: %w", roomID, err)
	}
	suffix := id.String()
	// uuid.String() is always lowercase hex with hyphens; re-derive the
	// underscore form and validate it before it ever touches a query string.
	underscored := strings.ReplaceAll(suffix, "-", "_")
	if !identifierPattern.MatchString(underscored) {
		return "", fmt.Errorf("postgres: room id %q failed identifier validation", roomID)
	}
	return underscored, nil
}

func messagesTable(roomID string) (string, error) {
	suffix, err := tableSuffix(roomID)
	if err != nil {
		return "", err
	}
	return "messages_" + suffix, nil
}

func channelsTable(roomID string) (string, error) {
	suffix, err := tableSuffix(roomID)
	if err != nil {
		return "", err
	}
	return "channels_" + suffix, nil
}

// EnsureRoomTables creates the per-room message and channel tables if they
// do not already exist. Called each time a room goes from no local
// subscribers to its first one; repeated calls are no-ops.
func (r *MessageRepo) EnsureRoomTables(ctx context.Context, roomID uuid.UUID) error {
	msgTable, err := messagesTable(roomID.String())
	if err != nil {
		return err
	}
	chanTable, err := channelsTable(roomID.String())
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			channel_id          uuid PRIMARY KEY,
			channel_name        text NOT NULL,
			channel_description text NOT NULL DEFAULT '',
			author              uuid NOT NULL,
			time_created        timestamptz NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS %s (
			message_id  text PRIMARY KEY,
			channel_id  uuid NOT NULL REFERENCES %s(channel_id),
			sender_id   uuid NOT NULL,
			message     text NOT NULL,
			sent_at     timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s_channel_idx ON %s (channel_id, sent_at DESC);
	`, chanTable, msgTable, chanTable, msgTable, msgTable)

	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure room tables: %w", err)
	}
	return nil
}

// InsertBatch writes rows (already grouped by room by the caller) into
// roomID's message table in one transaction.
func (r *MessageRepo) InsertBatch(ctx context.Context, roomID string, rows []domain.PersistedMessage) error {
	if len(rows) == 0 {
		return nil
	}
	table, err := messagesTable(roomID)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, channel_id, sender_id, message, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO NOTHING`, table)

	for _, row := range rows {
		if _, err := tx.Exec(ctx, query, row.ID, row.ChannelID, row.SenderID, row.Message, row.Timestamp); err != nil {
			return fmt.Errorf("postgres: insert batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch: %w", err)
	}
	return nil
}

// DeleteMessage removes one row from roomID's message table.
func (r *MessageRepo) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	table, err := messagesTable(roomID)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE message_id = $1`, table)
	if _, err := r.pool.Exec(ctx, query, messageID); err != nil {
		return fmt.Errorf("postgres: delete message: %w", err)
	}
	return nil
}

// LoadChannelMessages fetches up to limit of the most recent messages for
// a channel, newest first — the HTTP fallback path for
// /message/channel/cache when the tail cache has no entry.
func (r *MessageRepo) LoadChannelMessages(ctx context.Context, roomID string, channelID uuid.UUID, limit int) ([]domain.PersistedMessage, error) {
	table, err := messagesTable(roomID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT message_id, channel_id, sender_id, message, sent_at
		FROM %s
		WHERE channel_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`, table)

	rid, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid room id: %w", err)
	}

	rowsIter, err := r.pool.Query(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: load channel messages: %w", err)
	}
	defer rowsIter.Close()

	var out []domain.PersistedMessage
	for rowsIter.Next() {
		var m domain.PersistedMessage
		if err := rowsIter.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Message, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan message row: %w", err)
		}
		m.RoomID = rid
		out = append(out, m)
	}
	return out, rowsIter.Err()
}
