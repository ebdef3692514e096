package notify

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/metrics"
	"github.com/nimbuschat/realtime/internal/presence"
)

// SocketLookup is the subset of the Presence Registry the dispatcher
// needs: resolving a user id to a live, locally-connected socket.
type SocketLookup interface {
	SocketOf(userID uuid.UUID) (presence.Socket, bool)
}

// Dispatcher is the Notification Dispatcher: best-effort point-to-point
// delivery of out-of-band events (friend requests, room invitations, DMs,
// room posts to users not currently subscribed to the room) to whichever
// local socket represents the recipient. There is no queue, retry, or
// receipt — if the recipient is not connected here, the notification is
// silently dropped (spec Non-goals: no delivery receipts).
type Dispatcher struct {
	presence SocketLookup
	logger   *zap.Logger
}

// New creates a Notification Dispatcher over a Presence Registry.
func New(registry SocketLookup, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{presence: registry, logger: logger}
}

// Notify attempts to deliver n to recipientID's live socket on this
// process. Returns domain.ErrUserNotConnected if the recipient has no
// socket here; callers treat that as informational, not an error to
// surface to the sender.
func (d *Dispatcher) Notify(recipientID uuid.UUID, n domain.Notification) error {
	socket, ok := d.presence.SocketOf(recipientID)
	if !ok {
		metrics.NotificationsDropped.Inc()
		return domain.ErrUserNotConnected
	}

	if err := socket.SendJSON(n); err != nil {
		d.logger.Debug("notify: send failed", zap.String("recipient_id", recipientID.String()), zap.Error(err))
		metrics.NotificationsDropped.Inc()
		return err
	}

	metrics.NotificationsDelivered.Inc()
	return nil
}
