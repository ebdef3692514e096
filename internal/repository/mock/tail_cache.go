package mock

import (
	"context"
	"sync"

	"github.com/nimbuschat/realtime/internal/cache"
)

var _ cache.TailCache = (*TailCache)(nil)

// TailCache is an in-memory mock of the shared tail cache.
type TailCache struct {
	mu       sync.RWMutex
	tails    map[string][][]byte // "room:channel" -> entries, newest first
	statuses map[string]string

	PushTailFunc func(ctx context.Context, roomID, channelID string, envelopeJSON []byte) error
}

// NewTailCache creates an empty mock TailCache.
func NewTailCache() *TailCache {
	return &TailCache{
		tails:    make(map[string][][]byte),
		statuses: make(map[string]string),
	}
}

func tailMockKey(roomID, channelID string) string { return roomID + ":" + channelID }

func (m *TailCache) PushTail(ctx context.Context, roomID, channelID string, envelopeJSON []byte) error {
	if m.PushTailFunc != nil {
		return m.PushTailFunc(ctx, roomID, channelID, envelopeJSON)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tailMockKey(roomID, channelID)
	m.tails[key] = append([][]byte{envelopeJSON}, m.tails[key]...)
	return nil
}

func (m *TailCache) LoadTail(ctx context.Context, roomID, channelID string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tails[tailMockKey(roomID, channelID)], nil
}

func (m *TailCache) SetStatus(ctx context.Context, userID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[userID] = status
	return nil
}

func (m *TailCache) GetStatus(ctx context.Context, userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[userID]
	return status, ok, nil
}

func (m *TailCache) GetAllStatuses(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out, nil
}
