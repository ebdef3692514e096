package observer

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/broadcaster"
	"github.com/nimbuschat/realtime/internal/digestion"
	"github.com/nimbuschat/realtime/internal/presence"
)

// RoomInfo is the rooms section entry for one room_id.
type RoomInfo struct {
	Count         int      `json:"count"`
	ConnectionIDs []string `json:"connection_ids"`
}

// QueueInfo is the bus_queues section entry for one room_id.
type QueueInfo struct {
	Name       string                 `json:"name"`
	Durable    bool                   `json:"durable"`
	Exclusive  bool                   `json:"exclusive"`
	AutoDelete bool                   `json:"auto_delete"`
	Arguments  map[string]interface{} `json:"arguments"`
}

// ChannelInfo is the bus_channels section entry for one room_id.
type ChannelInfo struct {
	ChannelNumber  int    `json:"channel_number"`
	IsClosed       bool   `json:"is_closed"`
	ConnectionName string `json:"connection_name"`
}

// TaskInfo is the broadcast_tasks section entry for one room_id.
type TaskInfo struct {
	Done      bool   `json:"done"`
	Cancelled bool   `json:"cancelled"`
	Name      string `json:"name"`
	Exception string `json:"exception,omitempty"`
}

// Snapshot is one diagnostic sample of process-local hot-path state,
// pushed to every connected Observer client. Sections are independent so a
// client can tell which part of the process changed between samples.
type Snapshot struct {
	Rooms           map[string]RoomInfo    `json:"rooms,omitempty"`
	BusQueues       map[string]QueueInfo   `json:"bus_queues,omitempty"`
	BusChannels     map[string]ChannelInfo `json:"bus_channels,omitempty"`
	BroadcastTasks  map[string]TaskInfo    `json:"broadcast_tasks,omitempty"`
	Presence        map[string]string      `json:"presence,omitempty"`
	DigestionBuffer int                    `json:"digestion_buffer"`
	SampledAt       time.Time              `json:"sampled_at"`
}

type sectionHashes struct {
	rooms    [16]byte
	queues   [16]byte
	channels [16]byte
	tasks    [16]byte
	presence [16]byte
}

// Observer periodically samples the Room Broadcaster, Presence Registry
// and Digestion Broker, and emits a Snapshot to its subscribers only when
// a section's content actually changed since the last sample (hashed with
// md5 — this is a diagnostic feed, not a security boundary).
type Observer struct {
	broadcaster *broadcaster.Broadcaster
	presence    *presence.Registry
	digestion   *digestion.Broker
	logger      *zap.Logger

	mu          sync.Mutex
	subscribers map[chan Snapshot]struct{}
	last        sectionHashes
}

// New creates an Observer over the three hot-path components.
func New(b *broadcaster.Broadcaster, p *presence.Registry, d *digestion.Broker, logger *zap.Logger) *Observer {
	return &Observer{
		broadcaster: b,
		presence:    p,
		digestion:   d,
		logger:      logger,
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Subscribe registers a new diagnostic listener. The caller must call the
// returned function to unsubscribe when done.
func (o *Observer) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)
	o.mu.Lock()
	o.subscribers[ch] = struct{}{}
	o.mu.Unlock()

	return ch, func() {
		o.mu.Lock()
		delete(o.subscribers, ch)
		o.mu.Unlock()
		close(ch)
	}
}

// Run samples every interval for the lifetime of ctx, emitting a Snapshot
// to subscribers whenever any section changed.
func (o *Observer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sample()
		}
	}
}

func (o *Observer) sample() {
	rooms := o.broadcaster.Snapshot()
	presenceState := o.presence.Snapshot()
	bufLen := o.digestion.Len()

	roomInfos := make(map[string]RoomInfo, len(rooms))
	queues := make(map[string]QueueInfo, len(rooms))
	channels := make(map[string]ChannelInfo, len(rooms))
	tasks := make(map[string]TaskInfo, len(rooms))
	for _, r := range rooms {
		roomInfos[r.RoomID] = RoomInfo{
			Count:         r.Subscribers,
			ConnectionIDs: r.ConnectionIDs,
		}
		queues[r.RoomID] = QueueInfo{
			Name:       r.QueueName,
			Durable:    r.QueueDurable,
			Exclusive:  r.QueueExclusive,
			AutoDelete: r.QueueAutoDelete,
			Arguments:  r.QueueArguments,
		}
		channels[r.RoomID] = ChannelInfo{
			ChannelNumber:  r.ChannelNumber,
			IsClosed:       r.ChannelClosed,
			ConnectionName: r.ConnectionName,
		}
		tasks[r.RoomID] = TaskInfo{
			Done:      r.TaskDone,
			Cancelled: r.TaskCancelled,
			Name:      r.TaskName,
			Exception: r.TaskException,
		}
	}

	presenceStrings := make(map[string]string, len(presenceState))
	for userID, status := range presenceState {
		presenceStrings[userID] = string(status)
	}

	roomsHash := hashOf(roomInfos)
	queuesHash := hashOf(queues)
	channelsHash := hashOf(channels)
	tasksHash := hashOf(tasks)
	presenceHash := hashOf(presenceStrings)

	o.mu.Lock()
	changedRooms := roomsHash != o.last.rooms
	changedQueues := queuesHash != o.last.queues
	changedChannels := channelsHash != o.last.channels
	changedTasks := tasksHash != o.last.tasks
	changedPresence := presenceHash != o.last.presence
	if !changedRooms && !changedQueues && !changedChannels && !changedTasks && !changedPresence {
		o.mu.Unlock()
		return
	}
	o.last = sectionHashes{
		rooms:    roomsHash,
		queues:   queuesHash,
		channels: channelsHash,
		tasks:    tasksHash,
		presence: presenceHash,
	}
	subs := make([]chan Snapshot, 0, len(o.subscribers))
	for ch := range o.subscribers {
		subs = append(subs, ch)
	}
	o.mu.Unlock()

	snap := Snapshot{DigestionBuffer: bufLen, SampledAt: time.Now()}
	if changedRooms {
		snap.Rooms = roomInfos
	}
	if changedQueues {
		snap.BusQueues = queues
	}
	if changedChannels {
		snap.BusChannels = channels
	}
	if changedTasks {
		snap.BroadcastTasks = tasks
	}
	if changedPresence {
		snap.Presence = presenceStrings
	}

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			o.logger.Warn("observer: subscriber channel full, dropping sample")
		}
	}
}

func hashOf(v any) [16]byte {
	b, err := json.Marshal(v)
	if err != nil {
		return [16]byte{}
	}
	return md5.Sum(b)
}
