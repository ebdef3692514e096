package ws

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/observer"
)

// ObserverHandler upgrades GET /internal/observer into a push-only
// diagnostic stream: every Snapshot the Observer emits is forwarded to the
// socket verbatim. Gated by a single static bearer token rather than the
// per-user Verifier — this endpoint is for operators, not chat clients.
type ObserverHandler struct {
	token    string
	observer *observer.Observer
	logger   *zap.Logger
}

// NewObserverHandler creates an ObserverHandler. token is the static
// bearer value operators must present.
func NewObserverHandler(token string, o *observer.Observer, logger *zap.Logger) *ObserverHandler {
	return &ObserverHandler{token: token, observer: o, logger: logger}
}

// Handle services GET /internal/observer.
func (h *ObserverHandler) Handle(c *gin.Context) {
	presented := bearerToken(c)
	if h.token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("observer: upgrade failed", zap.Error(err))
		return
	}
	conn := NewConn(raw)
	defer conn.Close()

	snapshots, unsubscribe := h.observer.Subscribe()
	defer unsubscribe()

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		var discard any
		for {
			if err := conn.ReadJSON(&discard); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientClosed:
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := conn.SendJSON(snap); err != nil {
				return
			}
		}
	}
}
