package bus

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second
	publishTimeout    = 5 * time.Second
)

// Delivery is one message read off a room's queue, carrying ack/nack
// callbacks so the caller controls redelivery.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

// Subscription is a live consumer session on one room's queue.
type Subscription interface {
	Deliveries() <-chan Delivery
	// Closed reports whether the underlying channel has gone away — the
	// Room Broadcaster's consumer loop exits and tears the room down when
	// this is signalled.
	Closed() <-chan struct{}
	// IsClosed is the non-blocking form of Closed, for diagnostic sampling.
	IsClosed() bool
	// Queue describes the AMQP queue backing this subscription.
	Queue() QueueInfo
	// Channel describes the AMQP channel backing this subscription.
	Channel() ChannelInfo
}

// QueueInfo mirrors the declared properties of a room's queue, for the
// Observer's bus_queues diagnostic section.
type QueueInfo struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Arguments  map[string]interface{}
}

// ChannelInfo mirrors the identity of the AMQP channel backing a room's
// subscription, for the Observer's bus_channels diagnostic section.
type ChannelInfo struct {
	ChannelNumber  int
	ConnectionName string
}

// Gateway is the Bus Gateway: it owns the process's connection to the
// broker, lazily (re)connects, and vends one auto-deleting queue per room.
type Gateway interface {
	// Queue returns the existing subscription for roomID, declaring a new
	// auto-delete queue named exactly roomID if this is the first caller.
	Queue(ctx context.Context, roomID string) (Subscription, error)

	// Publish sends body to roomID's queue.
	Publish(ctx context.Context, roomID string, body []byte) error

	// Release purges and deletes roomID's queue and closes its channel.
	// Failure to delete is logged but never fails the caller.
	Release(ctx context.Context, roomID string)

	Close() error
}

type roomResources struct {
	channel *amqp.Channel
	sub     *subscription
}

type subscription struct {
	deliveries chan Delivery
	closed     chan struct{}
	closeOnce  sync.Once

	queue   QueueInfo
	channel ChannelInfo
}

func (s *subscription) Deliveries() <-chan Delivery { return s.deliveries }
func (s *subscription) Closed() <-chan struct{}     { return s.closed }
func (s *subscription) Queue() QueueInfo            { return s.queue }
func (s *subscription) Channel() ChannelInfo        { return s.channel }

func (s *subscription) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *subscription) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// RabbitGateway is the amqp091-go backed Gateway implementation. It shares
// one process-global connection; room resources are created and torn down
// per-room under a single mutex, which is acceptable because queue
// creation/teardown only happens on connect/disconnect, never on the
// per-message hot path.
type RabbitGateway struct {
	url      string
	connName string
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	rooms   map[string]*roomResources
	closed  bool
	chanSeq int
}

// NewRabbitGateway dials the broker and returns a ready Gateway.
func NewRabbitGateway(rawURL string, logger *zap.Logger) (*RabbitGateway, error) {
	g := &RabbitGateway{
		url:      rawURL,
		connName: connectionNameFromURL(rawURL),
		logger:   logger,
		rooms:    make(map[string]*roomResources),
	}
	if err := g.ensureConn(); err != nil {
		return nil, err
	}
	return g, nil
}

// connectionNameFromURL derives a human-readable connection label from the
// broker URL's host, for the Observer's bus_channels.connection_name field.
// The library does not expose the server-assigned connection identity, and
// the process holds exactly one shared connection (spec §5: "the bus
// connection is process-global"), so a single derived label is accurate for
// every channel opened on it.
func connectionNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "realtime-core"
	}
	return u.Host
}

func (g *RabbitGateway) ensureConn() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureConnLocked()
}

// ensureConnLocked (re)dials the broker if the current connection is
// missing or closed. Caller must hold g.mu.
func (g *RabbitGateway) ensureConnLocked() error {
	if g.conn != nil && !g.conn.IsClosed() {
		return nil
	}

	conn, err := amqp.Dial(g.url)
	if err != nil {
		return fmt.Errorf("bus: dial: %w", err)
	}
	g.conn = conn
	g.logger.Info("bus gateway connected")
	return nil
}

// Queue returns the existing subscription for roomID or declares a new one.
func (g *RabbitGateway) Queue(ctx context.Context, roomID string) (Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("bus: gateway is closed")
	}

	if rr, ok := g.rooms[roomID]; ok {
		return rr.sub, nil
	}

	if err := g.ensureConnLocked(); err != nil {
		return nil, err
	}

	ch, err := g.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: channel: %w", err)
	}

	if _, err := ch.QueueDeclare(roomID, false, true, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: declare queue %s: %w", roomID, err)
	}

	deliveries, err := ch.Consume(roomID, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: consume %s: %w", roomID, err)
	}

	g.chanSeq++
	sub := &subscription{
		deliveries: make(chan Delivery, 64),
		closed:     make(chan struct{}),
		queue: QueueInfo{
			Name:       roomID,
			Durable:    false,
			Exclusive:  false,
			AutoDelete: true,
			Arguments:  map[string]interface{}{},
		},
		channel: ChannelInfo{
			ChannelNumber:  g.chanSeq,
			ConnectionName: g.connName,
		},
	}

	go g.pump(roomID, ch, deliveries, sub)

	g.rooms[roomID] = &roomResources{channel: ch, sub: sub}
	return sub, nil
}

func (g *RabbitGateway) pump(roomID string, ch *amqp.Channel, deliveries <-chan amqp.Delivery, sub *subscription) {
	defer sub.markClosed()

	for d := range deliveries {
		tag := d.DeliveryTag
		localCh := ch
		select {
		case sub.deliveries <- Delivery{
			Body: d.Body,
			Ack:  func() error { return localCh.Ack(tag, false) },
			Nack: func(requeue bool) error { return localCh.Nack(tag, false, requeue) },
		}:
		case <-sub.closed:
			d.Nack(false, true)
			return
		}
	}
	g.logger.Debug("bus: delivery channel closed", zap.String("room_id", roomID))
}

// Publish sends body to roomID's queue, declaring it first if needed.
func (g *RabbitGateway) Publish(ctx context.Context, roomID string, body []byte) error {
	if _, err := g.Queue(ctx, roomID); err != nil {
		return err
	}

	g.mu.Lock()
	rr, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("bus: room %s not registered", roomID)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := rr.channel.PublishWithContext(pubCtx, "", roomID, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Release purges and deletes roomID's queue. Failures are logged, never
// returned — spec §4.1: "failure to delete is logged but does not fail
// the caller."
func (g *RabbitGateway) Release(ctx context.Context, roomID string) {
	g.mu.Lock()
	rr, ok := g.rooms[roomID]
	delete(g.rooms, roomID)
	g.mu.Unlock()

	if !ok {
		return
	}

	rr.sub.markClosed()

	if _, err := rr.channel.QueuePurge(roomID, false); err != nil {
		g.logger.Warn("bus: purge failed", zap.String("room_id", roomID), zap.Error(err))
	}
	if _, err := rr.channel.QueueDelete(roomID, false, false, false); err != nil {
		g.logger.Warn("bus: delete failed", zap.String("room_id", roomID), zap.Error(err))
	}
	if err := rr.channel.Close(); err != nil {
		g.logger.Warn("bus: channel close failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Close shuts down the shared connection and all room channels.
func (g *RabbitGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for roomID, rr := range g.rooms {
		rr.sub.markClosed()
		rr.channel.Close()
		delete(g.rooms, roomID)
	}
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
