package mock

import (
	"context"
	"sync"

	"github.com/nimbuschat/realtime/internal/digestion"
	"github.com/nimbuschat/realtime/internal/domain"
)

// Ensure MessageStore implements digestion.MessageStore.
var _ digestion.MessageStore = (*MessageStore)(nil)

// MessageStore is an in-memory mock of the durable store's write path.
type MessageStore struct {
	mu   sync.RWMutex
	rows map[string][]domain.PersistedMessage // room id -> rows

	InsertBatchFunc  func(ctx context.Context, roomID string, rows []domain.PersistedMessage) error
	DeleteMessageFunc func(ctx context.Context, roomID, messageID string) error
}

// NewMessageStore creates an empty mock MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{rows: make(map[string][]domain.PersistedMessage)}
}

func (m *MessageStore) InsertBatch(ctx context.Context, roomID string, rows []domain.PersistedMessage) error {
	if m.InsertBatchFunc != nil {
		return m.InsertBatchFunc(ctx, roomID, rows)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[roomID] = append(m.rows[roomID], rows...)
	return nil
}

func (m *MessageStore) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, roomID, messageID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := m.rows[roomID][:0]
	for _, row := range m.rows[roomID] {
		if row.ID != messageID {
			filtered = append(filtered, row)
		}
	}
	m.rows[roomID] = filtered
	return nil
}

// RowsFor returns the rows recorded for roomID (for test assertions).
func (m *MessageStore) RowsFor(roomID string) []domain.PersistedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PersistedMessage, len(m.rows[roomID]))
	copy(out, m.rows[roomID])
	return out
}
