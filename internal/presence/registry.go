package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/metrics"
)

// Socket is the minimal surface the registry needs from a client
// connection, independent of the transport package (mirrors
// broadcaster.Socket; kept separate to avoid an import between the two).
type Socket interface {
	ID() string
	SendJSON(v any) error
	Close() error
}

// StatusCache is the shared-cache subset the registry mirrors presence
// into, so that other processes (and the HTTP status surface) observe the
// same state without going through this process's in-memory maps.
type StatusCache interface {
	SetStatus(ctx context.Context, userID, status string) error
	GetStatus(ctx context.Context, userID string) (string, bool, error)
	GetAllStatuses(ctx context.Context) (map[string]string, error)
}

type connection struct {
	socket   Socket
	deadline time.Time
}

// Registry is the Presence Registry: the authoritative local record of who
// is connected to this process, their last-known status, and a heartbeat
// watchdog that evicts connections which stop renewing their deadline.
type Registry struct {
	mu          sync.RWMutex
	statusLocal map[uuid.UUID]domain.Status
	conns       map[uuid.UUID]*connection

	cache        StatusCache
	heartbeatTTL time.Duration
	logger       *zap.Logger
}

// New creates a Presence Registry. heartbeatTTL is the grace period a
// connection is given between heartbeats before the watchdog closes it
// (spec default 100s, used when heartbeatTTL is non-positive).
func New(cache StatusCache, heartbeatTTL time.Duration, logger *zap.Logger) *Registry {
	if heartbeatTTL <= 0 {
		heartbeatTTL = 100 * time.Second
	}
	return &Registry{
		statusLocal:  make(map[uuid.UUID]domain.Status),
		conns:        make(map[uuid.UUID]*connection),
		cache:        cache,
		heartbeatTTL: heartbeatTTL,
		logger:       logger,
	}
}

// Connect records userID as online through socket and mirrors the status
// into the shared cache. A second Connect for an already-connected user
// replaces the prior socket (last write wins — spec §3 Connection Ingress
// models one active connection per user).
func (r *Registry) Connect(ctx context.Context, userID uuid.UUID, socket Socket) {
	r.mu.Lock()
	_, already := r.conns[userID]
	r.conns[userID] = &connection{socket: socket, deadline: time.Now().Add(r.heartbeatTTL)}
	r.statusLocal[userID] = domain.StatusOnline
	r.mu.Unlock()

	if !already {
		metrics.PresenceConnected.Inc()
	}
	r.mirrorStatus(ctx, userID, domain.StatusOnline)
}

// Disconnect removes userID's connection and marks them offline.
func (r *Registry) Disconnect(ctx context.Context, userID uuid.UUID) {
	r.mu.Lock()
	_, existed := r.conns[userID]
	delete(r.conns, userID)
	r.statusLocal[userID] = domain.StatusOffline
	r.mu.Unlock()

	if existed {
		metrics.PresenceConnected.Dec()
	}
	r.mirrorStatus(ctx, userID, domain.StatusOffline)
}

// SetStatus updates userID's presence state without affecting their
// connection. Returns domain.ErrInvalidStatus for an unrecognized value.
func (r *Registry) SetStatus(ctx context.Context, userID uuid.UUID, status domain.Status) error {
	if !status.IsValid() {
		return domain.ErrInvalidStatus
	}

	r.mu.Lock()
	r.statusLocal[userID] = status
	r.mu.Unlock()

	r.mirrorStatus(ctx, userID, status)
	return nil
}

func (r *Registry) mirrorStatus(ctx context.Context, userID uuid.UUID, status domain.Status) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetStatus(ctx, userID.String(), string(status)); err != nil {
		r.logger.Warn("presence: cache mirror failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// IsConnected reports whether userID has a live socket on this process.
func (r *Registry) IsConnected(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// SocketOf returns userID's live socket, if connected on this process.
func (r *Registry) SocketOf(userID uuid.UUID) (Socket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	if !ok {
		return nil, false
	}
	return c.socket, true
}

// GetStatus returns userID's last-known status, preferring the local
// record and falling back to the shared cache (so status is visible across
// the fleet even when the connection lives on another process).
func (r *Registry) GetStatus(ctx context.Context, userID uuid.UUID) (domain.Status, error) {
	r.mu.RLock()
	status, ok := r.statusLocal[userID]
	r.mu.RUnlock()
	if ok {
		return status, nil
	}

	if r.cache == nil {
		return domain.StatusOffline, nil
	}
	raw, found, err := r.cache.GetStatus(ctx, userID.String())
	if err != nil {
		return domain.StatusOffline, err
	}
	if !found {
		return domain.StatusOffline, nil
	}
	return domain.Status(raw), nil
}

// Heartbeat extends userID's deadline by heartbeatTTL. Called on receipt
// of a client pong frame.
func (r *Registry) Heartbeat(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[userID]
	if !ok {
		return
	}
	c.deadline = time.Now().Add(r.heartbeatTTL)
}

// RunWatchdog periodically scans for connections past their heartbeat
// deadline and closes them. Deadlines are stored as absolute wall-clock
// points computed from a monotonic read (time.Now()), so a scan never
// needs to track per-connection timers — it is a single sweep over the
// map on each tick.
func (r *Registry) RunWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepExpired(ctx)
		}
	}
}

func (r *Registry) sweepExpired(ctx context.Context) {
	now := time.Now()

	r.mu.RLock()
	var expired []uuid.UUID
	for userID, c := range r.conns {
		if now.After(c.deadline) {
			expired = append(expired, userID)
		}
	}
	r.mu.RUnlock()

	for _, userID := range expired {
		r.mu.RLock()
		c, ok := r.conns[userID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		r.logger.Info("presence: heartbeat expired, closing connection", zap.String("user_id", userID.String()))
		metrics.HeartbeatExpirations.Inc()
		c.socket.Close()
		r.Disconnect(ctx, userID)
	}
}

// Snapshot returns every locally connected user id and status, for the
// Observer's diagnostic stream.
func (r *Registry) Snapshot() map[string]domain.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Status, len(r.conns))
	for userID := range r.conns {
		out[userID.String()] = r.statusLocal[userID]
	}
	return out
}
