package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoomsActive tracks the number of rooms with at least one local subscriber.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms_active",
		Help: "Number of rooms with at least one locally connected socket",
	})

	// RoomSubscribers tracks locally connected sockets per room.
	RoomSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_room_subscribers",
		Help: "Number of locally connected sockets in a room",
	}, []string{"room_id"})

	// MessagesBroadcast counts envelopes fanned out to local sockets.
	MessagesBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_messages_broadcast_total",
		Help: "Total number of envelopes delivered to local sockets",
	}, []string{"room_id"})

	// SlowClientDrops counts sockets removed for exceeding the send timeout.
	SlowClientDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_slow_client_drops_total",
		Help: "Total number of sockets dropped for exceeding the send timeout",
	})

	// PresenceConnected tracks users currently marked connected.
	PresenceConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_presence_connected",
		Help: "Number of users currently marked connected",
	})

	// HeartbeatExpirations counts connections closed for missed heartbeats.
	HeartbeatExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_heartbeat_expirations_total",
		Help: "Total number of connections closed due to heartbeat expiry",
	})

	// NotificationsDelivered / NotificationsDropped count dispatcher outcomes.
	NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_notifications_delivered_total",
		Help: "Total number of notifications delivered to a live socket",
	})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_notifications_dropped_total",
		Help: "Total number of notifications dropped (recipient not connected)",
	})

	// DigestionBatchSize tracks the current in-memory batch length.
	DigestionBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_digestion_batch_size",
		Help: "Current number of messages awaiting durable flush",
	})

	// DigestionFlushedTotal counts rows successfully persisted.
	DigestionFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_digestion_flushed_total",
		Help: "Total number of messages durably persisted",
	})

	// DigestionFlushFailures counts failed flush attempts (batch retained).
	DigestionFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_digestion_flush_failures_total",
		Help: "Total number of flush attempts that failed and were retried",
	})
)
