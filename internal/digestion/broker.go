package digestion

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/metrics"
)

// MessageStore is the durable store's write path, as consumed by the
// Digestion Broker. Implementations resolve the per-room table name
// (messages_{room_id}) themselves.
type MessageStore interface {
	// InsertBatch writes rows grouped by a single room in one transaction.
	InsertBatch(ctx context.Context, roomID string, rows []domain.PersistedMessage) error

	// DeleteMessage removes one row from a room's table.
	DeleteMessage(ctx context.Context, roomID, messageID string) error
}

// Broker is the Digestion Broker: a bounded in-memory batch flushed when it
// reaches batchSize or on every flushInterval tick, whichever comes first.
type Broker struct {
	store         MessageStore
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration

	mu          sync.Mutex
	batch       []domain.PersistedMessage
	roomOf      map[string]string // message id -> room id, for delete()
	flushing    bool
}

// NewBroker creates a Digestion Broker. batchSize and flushInterval fall
// back to the spec defaults (10, 5s) when non-positive.
func NewBroker(store MessageStore, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Broker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Broker{
		store:         store,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		roomOf:        make(map[string]string),
	}
}

// Add appends a normalized record to the batch. If the batch has reached
// batchSize and no flush is in flight, a flush is scheduled immediately in
// the background.
func (b *Broker) Add(ctx context.Context, senderID string, env domain.MessageEnvelope) {
	ts, ok := domain.ParseClientTimestamp(env.Timestamp)
	if !ok {
		ts = time.Now().UTC()
		b.logger.Debug("digestion: timestamp parse failed, substituting server time",
			zap.String("mid", env.MID), zap.String("raw", env.Timestamp))
	}

	rec := domain.PersistedMessage{
		ID:        env.MID,
		RoomID:    env.RoomID,
		ChannelID: env.ChannelID,
		SenderID:  env.UID,
		Message:   env.Message,
		Timestamp: ts,
	}

	b.mu.Lock()
	b.batch = append(b.batch, rec)
	b.roomOf[rec.ID] = rec.RoomID.String()
	shouldFlush := len(b.batch) >= b.batchSize && !b.flushing
	b.mu.Unlock()

	metrics.DigestionBatchSize.Set(float64(len(b.batch)))

	if shouldFlush {
		go b.Flush(ctx)
	}
}

// Flush groups the batch by room and inserts each group in one transaction
// per room. Rows that were inserted leave the batch; rows of a room whose
// insert failed, and rows added while the flush was running, are retained
// for the next attempt (at-least-once, spec P4).
func (b *Broker) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.flushing || len(b.batch) == 0 {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	pending := make([]domain.PersistedMessage, len(b.batch))
	copy(pending, b.batch)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.flushing = false
		b.mu.Unlock()
	}()

	grouped := make(map[string][]domain.PersistedMessage)
	for _, rec := range pending {
		key := rec.RoomID.String()
		grouped[key] = append(grouped[key], rec)
	}

	var failedRooms []string
	for roomID, rows := range grouped {
		if err := b.store.InsertBatch(ctx, roomID, rows); err != nil {
			b.logger.Error("digestion: flush failed, retaining batch for retry",
				zap.String("room_id", roomID), zap.Error(err))
			metrics.DigestionFlushFailures.Inc()
			failedRooms = append(failedRooms, roomID)
			continue
		}
		metrics.DigestionFlushedTotal.Add(float64(len(rows)))
	}

	// Drop only the rows that succeeded; keep failed rooms' rows and any
	// row added after the pending snapshot was taken.
	failed := make(map[string]bool, len(failedRooms))
	for _, r := range failedRooms {
		failed[r] = true
	}
	inPending := make(map[string]bool, len(pending))
	for _, rec := range pending {
		inPending[rec.ID] = true
	}
	b.mu.Lock()
	retained := b.batch[:0]
	for _, rec := range b.batch {
		if failed[rec.RoomID.String()] || !inPending[rec.ID] {
			retained = append(retained, rec)
		} else {
			delete(b.roomOf, rec.ID)
		}
	}
	b.batch = retained
	b.mu.Unlock()
	metrics.DigestionBatchSize.Set(float64(len(retained)))
}

// Delete removes a message from the in-memory batch if present, and issues
// a delete against its room's table regardless.
func (b *Broker) Delete(ctx context.Context, messageID string) error {
	b.mu.Lock()
	roomID, ok := b.roomOf[messageID]
	if ok {
		delete(b.roomOf, messageID)
		filtered := b.batch[:0]
		for _, rec := range b.batch {
			if rec.ID != messageID {
				filtered = append(filtered, rec)
			}
		}
		b.batch = filtered
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	return b.store.DeleteMessage(ctx, roomID, messageID)
}

// Run starts the periodic flush loop for the lifetime of ctx.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Len reports the current in-memory batch size (used by tests and the Observer).
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}
