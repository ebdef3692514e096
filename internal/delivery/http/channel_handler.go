package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/broadcaster"
	"github.com/nimbuschat/realtime/internal/cache"
	"github.com/nimbuschat/realtime/internal/domain"
)

// ChannelMessageLoader is the durable-store fallback consulted when the
// tail cache has no entry for a channel (cold start, or an eviction).
type ChannelMessageLoader interface {
	LoadChannelMessages(ctx context.Context, roomID string, channelID uuid.UUID, limit int) ([]domain.PersistedMessage, error)
}

// ChannelHandler serves the recent-message tail for a room's channel.
type ChannelHandler struct {
	tail   cache.TailCache
	store  ChannelMessageLoader
	users  broadcaster.UserDirectory
	logger *zap.Logger
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(tail cache.TailCache, store ChannelMessageLoader, users broadcaster.UserDirectory, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{tail: tail, store: store, users: users, logger: logger}
}

// GetCache handles GET /message/channel/cache?room_id=...&channel_id=...,
// returning up to 100 envelopes (spec §6's 7-field wire shape) newest
// first, regardless of whether they came from the tail cache or the
// durable-store fallback.
func (h *ChannelHandler) GetCache(c *gin.Context) {
	roomID := c.Query("room_id")
	channelIDStr := c.Query("channel_id")
	if roomID == "" || channelIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id and channel_id are required"})
		return
	}
	if _, err := uuid.Parse(roomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room_id"})
		return
	}
	channelID, err := uuid.Parse(channelIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel_id"})
		return
	}

	raw, err := h.tail.LoadTail(c.Request.Context(), roomID, channelIDStr)
	if err != nil {
		h.logger.Warn("channel: tail cache load failed, falling back to durable store", zap.Error(err))
	}

	if len(raw) > 0 {
		envelopes := make([]json.RawMessage, len(raw))
		for i, entry := range raw {
			envelopes[i] = json.RawMessage(entry)
		}
		c.JSON(http.StatusOK, gin.H{"source": "cache", "messages": envelopes})
		return
	}

	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"source": "cache", "messages": []json.RawMessage{}})
		return
	}

	rows, err := h.store.LoadChannelMessages(c.Request.Context(), roomID, channelID, 100)
	if err != nil {
		h.logger.Error("channel: durable store fallback failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	ctx := c.Request.Context()
	envelopes := h.envelopesOf(ctx, rows)
	h.warmCache(ctx, roomID, channelIDStr, envelopes)
	c.JSON(http.StatusOK, gin.H{"source": "durable_store", "messages": envelopes})
}

// envelopesOf rebuilds the wire-shape MessageEnvelope for each durable row,
// newest first, resolving each sender's username the same way
// Broadcaster.Publish does (original chat_service.py's get_messages calls
// get_user before lpush-ing a fallback read back into the tail cache).
func (h *ChannelHandler) envelopesOf(ctx context.Context, rows []domain.PersistedMessage) []domain.MessageEnvelope {
	envelopes := make([]domain.MessageEnvelope, len(rows))
	for i, row := range rows {
		envelopes[i] = domain.MessageEnvelope{
			MID:       row.ID,
			UID:       row.SenderID,
			Username:  h.resolveUsername(ctx, row.SenderID),
			RoomID:    row.RoomID,
			ChannelID: row.ChannelID,
			Message:   row.Message,
			Timestamp: domain.FormatServerTimestamp(row.Timestamp),
		}
	}
	return envelopes
}

func (h *ChannelHandler) resolveUsername(ctx context.Context, userID uuid.UUID) string {
	if h.users == nil {
		return userID.String()
	}
	name, err := h.users.Username(ctx, userID)
	if err != nil {
		h.logger.Warn("channel: username resolve failed, using raw id", zap.String("user_id", userID.String()), zap.Error(err))
		return userID.String()
	}
	return name
}

// warmCache repopulates the tail cache after a durable-store fallback, so
// the next read for this channel is served from the cache again.
// envelopes arrive newest-first; pushed oldest-first so PushTail's
// head-insert leaves the cache in the same newest-first order.
func (h *ChannelHandler) warmCache(ctx context.Context, roomID, channelID string, envelopes []domain.MessageEnvelope) {
	for i := len(envelopes) - 1; i >= 0; i-- {
		body, err := json.Marshal(envelopes[i])
		if err != nil {
			continue
		}
		if err := h.tail.PushTail(ctx, roomID, channelID, body); err != nil {
			h.logger.Warn("channel: cache warm failed", zap.Error(err))
			return
		}
	}
}
