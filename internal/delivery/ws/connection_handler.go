package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/auth"
	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/presence"
)

const (
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func bearerToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// ConnectionHandler upgrades GET /connection into a presence session: one
// socket per authenticated user, registered with the Presence Registry for
// the lifetime of the upgrade, with a heartbeat keepalive and a read pump
// that accepts client-initiated status changes.
type ConnectionHandler struct {
	verifier auth.Verifier
	presence *presence.Registry
	logger   *zap.Logger
}

// NewConnectionHandler creates a ConnectionHandler.
func NewConnectionHandler(verifier auth.Verifier, registry *presence.Registry, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{verifier: verifier, presence: registry, logger: logger}
}

// Handle services GET /connection.
func (h *ConnectionHandler) Handle(c *gin.Context) {
	token := bearerToken(c)

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("connection: upgrade failed", zap.Error(err))
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
	h.presence.Connect(ctx, userID, conn)
	defer h.presence.Disconnect(ctx, userID)

	conn.SendJSON(domain.StatusUpdateFrame{Type: "STATUS_UPDATE", Status: domain.StatusOnline})
	conn.SendJSON(gin.H{"status": "200", "connection": "established"})

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.presence.Heartbeat(userID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	clientDone := make(chan struct{})
	go h.readPump(ctx, conn, userID, clientDone)

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-clientDone:
			return
		case <-pingTicker.C:
			if err := conn.Ping(); err != nil {
				h.logger.Debug("connection: ping failed, closing", zap.String("user_id", userID.String()), zap.Error(err))
				return
			}
		}
	}
}

// readPump consumes client-initiated status change frames until the
// socket errors or closes. Inbound heartbeats arrive as control pong
// frames, handled by the pong handler installed in Handle.
func (h *ConnectionHandler) readPump(ctx context.Context, conn *Conn, userID uuid.UUID, done chan struct{}) {
	defer close(done)
	for {
		var frame domain.IncomingStatusFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Status == "" {
			continue
		}
		if err := h.presence.SetStatus(ctx, userID, frame.Status); err != nil {
			conn.SendJSON(gin.H{"type": "error", "error": err.Error()})
			continue
		}
		conn.SendJSON(domain.StatusUpdateFrame{Type: "STATUS_UPDATE", Status: frame.Status})
	}
}
