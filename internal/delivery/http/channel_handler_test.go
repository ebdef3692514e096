package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/repository/mock"
)

type fakeChannelLoader struct {
	rows []domain.PersistedMessage
	err  error
}

func (f *fakeChannelLoader) LoadChannelMessages(ctx context.Context, roomID string, channelID uuid.UUID, limit int) ([]domain.PersistedMessage, error) {
	return f.rows, f.err
}

type fakeUserDirectory struct {
	names map[uuid.UUID]string
}

func (f *fakeUserDirectory) Username(ctx context.Context, userID uuid.UUID) (string, error) {
	return f.names[userID], nil
}

func setupChannelRouter(tail *mock.TailCache, loader ChannelMessageLoader) *gin.Engine {
	handler := NewChannelHandler(tail, loader, &fakeUserDirectory{names: map[uuid.UUID]string{}}, zap.NewNop())
	router := gin.New()
	router.GET("/message/channel/cache", handler.GetCache)
	return router
}

func TestChannelHandler_MissingParams(t *testing.T) {
	router := setupChannelRouter(mock.NewTailCache(), nil)

	req := httptest.NewRequest(http.MethodGet, "/message/channel/cache", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChannelHandler_ReturnsFromCacheWhenPresent(t *testing.T) {
	tail := mock.NewTailCache()
	roomID := uuid.New().String()
	channelID := uuid.New()
	ctx := context.Background()
	if err := tail.PushTail(ctx, roomID, channelID.String(), []byte(`{"message":"hi"}`)); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	router := setupChannelRouter(tail, nil)

	req := httptest.NewRequest(http.MethodGet, "/message/channel/cache?room_id="+roomID+"&channel_id="+channelID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Source   string            `json:"source"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if resp.Source != "cache" {
		t.Fatalf("expected source 'cache', got %q", resp.Source)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(resp.Messages))
	}
}

func TestChannelHandler_FallsBackToDurableStore(t *testing.T) {
	tail := mock.NewTailCache()
	roomID := uuid.New().String()
	channelID := uuid.New()
	senderID := uuid.New()

	loader := &fakeChannelLoader{rows: []domain.PersistedMessage{
		{ID: "msg-1", SenderID: senderID, RoomID: uuid.MustParse(roomID), ChannelID: channelID, Message: "from durable store"},
	}}
	router := setupChannelRouter(tail, loader)

	req := httptest.NewRequest(http.MethodGet, "/message/channel/cache?room_id="+roomID+"&channel_id="+channelID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Source   string                    `json:"source"`
		Messages []domain.MessageEnvelope `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if resp.Source != "durable_store" {
		t.Fatalf("expected source 'durable_store', got %q", resp.Source)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Message != "from durable store" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}
	if resp.Messages[0].MID != "msg-1" || resp.Messages[0].UID != senderID {
		t.Fatalf("expected envelope shape with mid/uid populated, got %+v", resp.Messages[0])
	}

	warmed, err := tail.LoadTail(context.Background(), roomID, channelID.String())
	if err != nil || len(warmed) != 1 {
		t.Fatalf("expected durable-store fallback to warm the cache, got %v, err %v", warmed, err)
	}
}

func TestChannelHandler_InvalidRoomID(t *testing.T) {
	router := setupChannelRouter(mock.NewTailCache(), nil)

	req := httptest.NewRequest(http.MethodGet, "/message/channel/cache?room_id=not-a-uuid&channel_id="+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
