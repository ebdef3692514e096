package digestion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/digestion"
	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/repository/mock"
)

func newEnvelope(roomID uuid.UUID) domain.MessageEnvelope {
	return domain.MessageEnvelope{
		MID:       domain.NewMID(),
		UID:       uuid.New(),
		Username:  "alice",
		RoomID:    roomID,
		ChannelID: uuid.New(),
		Message:   "hello",
		Timestamp: domain.FormatServerTimestamp(time.Now().UTC()),
	}
}

func TestBroker_FlushesAtBatchSize(t *testing.T) {
	store := mock.NewMessageStore()
	broker := digestion.NewBroker(store, 3, time.Hour, zap.NewNop())

	room := uuid.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		broker.Add(ctx, "sender", newEnvelope(room))
	}

	deadline := time.Now().Add(time.Second)
	for broker.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := broker.Len(); got != 0 {
		t.Fatalf("expected batch to drain after reaching batch size, got %d pending", got)
	}
	if got := len(store.RowsFor(room.String())); got != 3 {
		t.Fatalf("expected 3 rows persisted, got %d", got)
	}
}

func TestBroker_RetainsOnlyFailedRoomOnPartialFailure(t *testing.T) {
	store := mock.NewMessageStore()
	goodRoom := uuid.New()
	badRoom := uuid.New()

	store.InsertBatchFunc = func(ctx context.Context, roomID string, rows []domain.PersistedMessage) error {
		if roomID == badRoom.String() {
			return errors.New("insert failed")
		}
		for _, r := range rows {
			// fall through to default in-memory behavior for the good room
			_ = r
		}
		return nil
	}

	broker := digestion.NewBroker(store, 100, time.Hour, zap.NewNop())
	ctx := context.Background()
	broker.Add(ctx, "sender", newEnvelope(goodRoom))
	broker.Add(ctx, "sender", newEnvelope(badRoom))

	broker.Flush(ctx)

	if got := broker.Len(); got != 1 {
		t.Fatalf("expected 1 retained message from the failed room, got %d", got)
	}
}

func TestBroker_DeleteRemovesFromPendingBatch(t *testing.T) {
	store := mock.NewMessageStore()
	broker := digestion.NewBroker(store, 100, time.Hour, zap.NewNop())

	room := uuid.New()
	env := newEnvelope(room)
	ctx := context.Background()
	broker.Add(ctx, "sender", env)

	if err := broker.Delete(ctx, env.MID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := broker.Len(); got != 0 {
		t.Fatalf("expected deleted message to leave the pending batch, got %d", got)
	}
}
