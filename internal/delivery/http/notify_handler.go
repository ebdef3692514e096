package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/notify"
)

// NotifyHandler lets the out-of-scope account/room CRUD surface push a
// best-effort notification (friend request, room invitation, DM) to a
// user's live socket. Gated by a static service-to-service token, not the
// per-user Verifier, since the caller here is another backend service.
type NotifyHandler struct {
	token      string
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
}

// NewNotifyHandler creates a NotifyHandler.
func NewNotifyHandler(token string, dispatcher *notify.Dispatcher, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{token: token, dispatcher: dispatcher, logger: logger}
}

type notifyRequest struct {
	RecipientID uuid.UUID               `json:"recipient_id"`
	Type        domain.NotificationType `json:"type"`
	Sender      string                  `json:"sender"`
	Message     any                     `json:"message"`
}

// Post handles POST /internal/notify.
func (h *NotifyHandler) Post(c *gin.Context) {
	presented := bearerTokenHTTP(c)
	if h.token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	err := h.dispatcher.Notify(req.RecipientID, domain.Notification{
		Sender:  req.Sender,
		Message: gin.H{"type": req.Type, "body": req.Message},
	})
	if err != nil {
		// Best-effort delivery: recipient not connected here is expected,
		// not a failure the caller needs to retry on (spec Non-goals: no
		// delivery receipts).
		c.JSON(http.StatusOK, gin.H{"delivered": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"delivered": true})
}
