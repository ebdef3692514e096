package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/auth"
	"github.com/nimbuschat/realtime/internal/broadcaster"
	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/notify"
)

// MessageHandler upgrades GET /message/:room_id into a room subscription:
// the socket is registered with the Room Broadcaster for fan-out, and
// every text frame the client sends is published to the room.
type MessageHandler struct {
	verifier    auth.Verifier
	broadcaster *broadcaster.Broadcaster
	dispatcher  *notify.Dispatcher
	logger      *zap.Logger
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(verifier auth.Verifier, b *broadcaster.Broadcaster, dispatcher *notify.Dispatcher, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{verifier: verifier, broadcaster: b, dispatcher: dispatcher, logger: logger}
}

// Handle services GET /message/:room_id.
func (h *MessageHandler) Handle(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	token := bearerToken(c)

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("message: upgrade failed", zap.Error(err))
		return
	}
	conn := NewConn(raw)
	defer conn.Close()

	ctx := c.Request.Context()

	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		conn.CloseWithCode(websocket.ClosePolicyViolation, domain.ErrAuthFailure.Error())
		return
	}

	if err := h.broadcaster.Connect(ctx, userID, roomID, conn); err != nil {
		conn.SendJSON(gin.H{"type": "error", "error": err.Error()})
		return
	}
	defer h.broadcaster.Disconnect(ctx, roomID, conn)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	incoming := make(chan domain.IncomingMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			var in domain.IncomingMessage
			if err := conn.ReadJSON(&in); err != nil {
				readErr <- err
				return
			}
			incoming <- in
		}
	}()

	for {
		select {
		case in := <-incoming:
			env, err := h.broadcaster.Publish(ctx, userID, roomID, in)
			if err != nil {
				conn.SendJSON(gin.H{"type": "error", "error": err.Error()})
				continue
			}
			if h.dispatcher != nil {
				h.dispatcher.Notify(userID, domain.Notification{
					Sender: userID.String(),
					Message: gin.H{
						"type":       domain.NotifyRoomPost,
						"room_id":    roomID.String(),
						"channel_id": env.ChannelID.String(),
						"mid":        env.MID,
					},
				})
			}
		case <-readErr:
			return
		case <-pingTicker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}
