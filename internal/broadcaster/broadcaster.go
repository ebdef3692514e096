package broadcaster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/bus"
	"github.com/nimbuschat/realtime/internal/cache"
	"github.com/nimbuschat/realtime/internal/digestion"
	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/metrics"
)

var errQueueClosed = errors.New("room queue closed unexpectedly")

// Socket is the minimal surface the broadcaster needs from a client
// connection. It is satisfied by internal/delivery/ws.Conn; defining it
// here (rather than importing the ws package) keeps broadcaster free of a
// transport dependency and avoids an import cycle.
type Socket interface {
	ID() string
	SendJSON(v any) error
	Close() error
}

// UserDirectory resolves a user id to a denormalized username. It is
// consulted once per sender (cached thereafter) so the per-message hot
// path never blocks on it after the first resolve.
type UserDirectory interface {
	Username(ctx context.Context, userID uuid.UUID) (string, error)
}

// RoomMembership answers whether a user may subscribe to a room. The
// membership store itself is owned by the out-of-scope CRUD surface; a
// permissive no-op implementation is provided where that store is absent.
type RoomMembership interface {
	IsMember(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
}

// AllowAllMembership is a RoomMembership that allows every user into every
// room. Used when no membership store is wired in.
type AllowAllMembership struct{}

func (AllowAllMembership) IsMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return true, nil
}

// SchemaManager ensures the durable-store tables for a room exist before
// the first message for that room is persisted.
type SchemaManager interface {
	EnsureRoomTables(ctx context.Context, roomID uuid.UUID) error
}

// room holds the state for one actively-subscribed room: its local
// sockets and the goroutine consuming the bus queue on their behalf.
type room struct {
	mu      sync.RWMutex
	sockets map[string]Socket

	sub    bus.Subscription
	cancel context.CancelFunc

	startedAt time.Time

	taskMu        sync.RWMutex
	taskDone      bool
	taskCancelled bool
	taskErr       error
}

func (r *room) subscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

// connectionIDs returns the socket IDs of every local subscriber, for the
// Observer's rooms.connection_ids diagnostic field.
func (r *room) connectionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sockets))
	for id := range r.sockets {
		ids = append(ids, id)
	}
	return ids
}

// markCancelled records that the room's consumer task was cooperatively
// cancelled, ahead of calling r.cancel().
func (r *room) markCancelled() {
	r.taskMu.Lock()
	r.taskCancelled = true
	r.taskMu.Unlock()
}

// markDone records that the consumer task has exited, carrying err if it
// exited abnormally (nil for a clean cancellation or channel drain).
func (r *room) markDone(err error) {
	r.taskMu.Lock()
	r.taskDone = true
	r.taskErr = err
	r.taskMu.Unlock()
}

func (r *room) taskState() (done, cancelled bool, err error) {
	r.taskMu.RLock()
	defer r.taskMu.RUnlock()
	return r.taskDone, r.taskCancelled, r.taskErr
}

// Broadcaster is the Room Broadcaster: one consumer loop per active room,
// fanning bus deliveries out to every locally connected socket and handing
// each envelope to the Digestion Broker and Tail Cache.
type Broadcaster struct {
	bus        bus.Gateway
	tail       cache.TailCache
	digestion  *digestion.Broker
	members    RoomMembership
	users      UserDirectory
	schema     SchemaManager
	logger     *zap.Logger
	slowClient time.Duration

	mu    sync.Mutex
	rooms map[uuid.UUID]*room

	usernamesMu sync.RWMutex
	usernames   map[uuid.UUID]string
}

// New creates a Room Broadcaster. members may be nil, in which case
// AllowAllMembership is used.
func New(gateway bus.Gateway, tail cache.TailCache, broker *digestion.Broker, members RoomMembership, users UserDirectory, schema SchemaManager, slowClientTimeout time.Duration, logger *zap.Logger) *Broadcaster {
	if slowClientTimeout <= 0 {
		slowClientTimeout = 2 * time.Second
	}
	if members == nil {
		members = AllowAllMembership{}
	}
	return &Broadcaster{
		bus:        gateway,
		tail:       tail,
		digestion:  broker,
		members:    members,
		users:      users,
		schema:     schema,
		slowClient: slowClientTimeout,
		logger:     logger,
		rooms:      make(map[uuid.UUID]*room),
		usernames:  make(map[uuid.UUID]string),
	}
}

// Connect registers socket as a local subscriber of roomID, after checking
// userID's membership. If this is the first local subscriber for the room,
// it ensures the room's durable tables exist, opens the room's bus queue,
// and starts the consumer loop before admitting the socket.
func (b *Broadcaster) Connect(ctx context.Context, userID, roomID uuid.UUID, socket Socket) error {
	ok, err := b.members.IsMember(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotMember
	}

	b.mu.Lock()
	r, exists := b.rooms[roomID]
	if !exists {
		r, err = b.startRoom(ctx, roomID)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		b.rooms[roomID] = r
		metrics.RoomsActive.Inc()
	}
	b.mu.Unlock()

	r.mu.Lock()
	r.sockets[socket.ID()] = socket
	count := len(r.sockets)
	r.mu.Unlock()

	metrics.RoomSubscribers.WithLabelValues(roomID.String()).Set(float64(count))
	return nil
}

// startRoom declares the room's queue and spins up its consumer loop.
// Caller must hold b.mu.
func (b *Broadcaster) startRoom(ctx context.Context, roomID uuid.UUID) (*room, error) {
	if b.schema != nil {
		if err := b.schema.EnsureRoomTables(ctx, roomID); err != nil {
			return nil, err
		}
	}

	sub, err := b.bus.Queue(ctx, roomID.String())
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &room{
		sockets:   make(map[string]Socket),
		sub:       sub,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	go b.consume(loopCtx, roomID, r)
	return r, nil
}

// consume pumps bus deliveries for roomID to every locally connected
// socket, persists each envelope, and pushes it onto the tail cache.
func (b *Broadcaster) consume(ctx context.Context, roomID uuid.UUID, r *room) {
	for {
		select {
		case <-ctx.Done():
			r.markDone(nil)
			return
		case <-r.sub.Closed():
			b.logger.Warn("broadcaster: room queue closed", zap.String("room_id", roomID.String()))
			r.markDone(errQueueClosed)
			b.mu.Lock()
			current := b.rooms[roomID] == r
			if current {
				delete(b.rooms, roomID)
			}
			b.mu.Unlock()
			if current {
				b.bus.Release(context.Background(), roomID.String())
				metrics.RoomsActive.Dec()
				metrics.RoomSubscribers.DeleteLabelValues(roomID.String())
				r.mu.RLock()
				for _, s := range r.sockets {
					s.Close()
				}
				r.mu.RUnlock()
			}
			return
		case d, ok := <-r.sub.Deliveries():
			if !ok {
				r.markDone(nil)
				return
			}
			b.deliver(ctx, roomID, r, d)
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, roomID uuid.UUID, r *room, d bus.Delivery) {
	var env domain.MessageEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		b.logger.Error("broadcaster: malformed envelope, dropping", zap.Error(err))
		d.Ack()
		return
	}

	if b.digestion != nil {
		b.digestion.Add(ctx, env.UID.String(), env)
	}
	if b.tail != nil {
		if err := b.tail.PushTail(ctx, env.RoomID.String(), env.ChannelID.String(), d.Body); err != nil {
			b.logger.Warn("broadcaster: tail cache push failed", zap.Error(err))
		}
	}

	r.mu.RLock()
	targets := make([]Socket, 0, len(r.sockets))
	for _, s := range r.sockets {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		b.sendWithTimeout(roomID, r, s, env)
	}

	if err := d.Ack(); err != nil {
		b.logger.Warn("broadcaster: ack failed", zap.Error(err))
	}

	metrics.MessagesBroadcast.WithLabelValues(roomID.String()).Inc()
}

// sendWithTimeout writes env to s, evicting the socket if it doesn't drain
// within the configured slow-client timeout.
func (b *Broadcaster) sendWithTimeout(roomID uuid.UUID, r *room, s Socket, env domain.MessageEnvelope) {
	done := make(chan error, 1)
	go func() { done <- s.SendJSON(env) }()

	select {
	case err := <-done:
		if err != nil {
			b.logger.Debug("broadcaster: send failed, dropping socket",
				zap.String("socket_id", s.ID()), zap.Error(err))
			b.removeSocket(roomID, r, s)
		}
	case <-time.After(b.slowClient):
		b.logger.Warn("broadcaster: slow client evicted",
			zap.String("socket_id", s.ID()), zap.String("room_id", roomID.String()))
		metrics.SlowClientDrops.Inc()
		b.removeSocket(roomID, r, s)
		s.Close()
	}
}

func (b *Broadcaster) removeSocket(roomID uuid.UUID, r *room, s Socket) {
	r.mu.Lock()
	delete(r.sockets, s.ID())
	count := len(r.sockets)
	r.mu.Unlock()
	metrics.RoomSubscribers.WithLabelValues(roomID.String()).Set(float64(count))
}

// Disconnect removes socket from roomID. If it was the last local
// subscriber, the room's consumer loop is stopped and its queue released.
func (b *Broadcaster) Disconnect(ctx context.Context, roomID uuid.UUID, socket Socket) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	if !ok {
		b.mu.Unlock()
		return
	}

	r.mu.Lock()
	delete(r.sockets, socket.ID())
	remaining := len(r.sockets)
	r.mu.Unlock()

	if remaining > 0 {
		b.mu.Unlock()
		metrics.RoomSubscribers.WithLabelValues(roomID.String()).Set(float64(remaining))
		return
	}

	delete(b.rooms, roomID)
	b.mu.Unlock()

	r.markCancelled()
	r.cancel()
	b.bus.Release(ctx, roomID.String())
	metrics.RoomsActive.Dec()
	metrics.RoomSubscribers.DeleteLabelValues(roomID.String())
}

// Publish constructs the authoritative envelope for an incoming message,
// resolving the sender's username, and hands it to the bus for fan-out.
// The room need not have any local subscribers for Publish to succeed.
func (b *Broadcaster) Publish(ctx context.Context, senderID, roomID uuid.UUID, in domain.IncomingMessage) (domain.MessageEnvelope, error) {
	username, err := b.resolveUsername(ctx, senderID)
	if err != nil {
		b.logger.Warn("broadcaster: username resolve failed, using raw id", zap.Error(err))
		username = senderID.String()
	}

	ts := in.Timestamp
	if ts == "" {
		ts = domain.FormatServerTimestamp(time.Now().UTC())
	}

	env := domain.MessageEnvelope{
		MID:       domain.NewMID(),
		UID:       senderID,
		Username:  username,
		RoomID:    roomID,
		ChannelID: in.ChannelID,
		Message:   in.Message,
		Timestamp: ts,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return env, err
	}

	if err := b.bus.Publish(ctx, env.RoomID.String(), body); err != nil {
		return env, domain.ErrPublishFailed
	}
	return env, nil
}

func (b *Broadcaster) resolveUsername(ctx context.Context, userID uuid.UUID) (string, error) {
	b.usernamesMu.RLock()
	if name, ok := b.usernames[userID]; ok {
		b.usernamesMu.RUnlock()
		return name, nil
	}
	b.usernamesMu.RUnlock()

	if b.users == nil {
		return userID.String(), nil
	}

	name, err := b.users.Username(ctx, userID)
	if err != nil {
		return "", err
	}

	b.usernamesMu.Lock()
	b.usernames[userID] = name
	b.usernamesMu.Unlock()
	return name, nil
}

// RoomSnapshot is the Observer-facing view of one active room, carrying the
// four sections spec §4.7 enumerates (rooms, bus_queues, bus_channels,
// broadcast_tasks) for a single room_id.
type RoomSnapshot struct {
	RoomID        string
	Subscribers   int
	ConnectionIDs []string
	StartedAt     time.Time

	QueueName       string
	QueueDurable    bool
	QueueExclusive  bool
	QueueAutoDelete bool
	QueueArguments  map[string]interface{}

	ChannelNumber  int
	ChannelClosed  bool
	ConnectionName string

	TaskDone      bool
	TaskCancelled bool
	TaskName      string
	TaskException string
}

// Snapshot returns a point-in-time view of every active room, for the
// Observer's diagnostic stream.
func (b *Broadcaster) Snapshot() []RoomSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]RoomSnapshot, 0, len(b.rooms))
	for id, r := range b.rooms {
		qi := r.sub.Queue()
		ci := r.sub.Channel()
		done, cancelled, taskErr := r.taskState()
		exception := ""
		if taskErr != nil {
			exception = taskErr.Error()
		}

		out = append(out, RoomSnapshot{
			RoomID:        id.String(),
			Subscribers:   r.subscriberCount(),
			ConnectionIDs: r.connectionIDs(),
			StartedAt:     r.startedAt,

			QueueName:       qi.Name,
			QueueDurable:    qi.Durable,
			QueueExclusive:  qi.Exclusive,
			QueueAutoDelete: qi.AutoDelete,
			QueueArguments:  qi.Arguments,

			ChannelNumber:  ci.ChannelNumber,
			ChannelClosed:  r.sub.IsClosed(),
			ConnectionName: ci.ConnectionName,

			TaskDone:      done,
			TaskCancelled: cancelled,
			TaskName:      "broadcaster.consume:" + id.String(),
			TaskException: exception,
		})
	}
	return out
}
