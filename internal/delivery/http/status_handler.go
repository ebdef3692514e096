package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/auth"
	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/presence"
)

// StatusHandler serves the REST presence surface: reading a user's status
// and requesting a change from outside an open /connection socket (e.g.
// "set myself to dnd" from a settings page, not the chat window itself).
type StatusHandler struct {
	verifier auth.Verifier
	presence *presence.Registry
	logger   *zap.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(verifier auth.Verifier, registry *presence.Registry, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{verifier: verifier, presence: registry, logger: logger}
}

func bearerTokenHTTP(c *gin.Context) string {
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

// Get handles GET /status/get?token=..., returning the status of the user
// the token identifies (spec §6: "single status string for the requesting
// user" — never an arbitrary user_id query param).
func (h *StatusHandler) Get(c *gin.Context) {
	userID, err := h.verifier.Verify(c.Request.Context(), bearerTokenHTTP(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.ErrAuthFailure.Error()})
		return
	}

	status, err := h.presence.GetStatus(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("status: get failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Change handles POST /status/change?token=...&new_status=..., per spec
// §6's literal response shape {status: "200"}.
func (h *StatusHandler) Change(c *gin.Context) {
	userID, err := h.verifier.Verify(c.Request.Context(), bearerTokenHTTP(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.ErrAuthFailure.Error()})
		return
	}

	newStatus := domain.Status(c.Query("new_status"))
	if newStatus == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_status is required"})
		return
	}

	if err := h.presence.SetStatus(c.Request.Context(), userID, newStatus); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "200"})
}
