package mock

import (
	"context"
	"sync"

	"github.com/nimbuschat/realtime/internal/bus"
)

var _ bus.Gateway = (*Gateway)(nil)

// Subscription is an in-memory mock of bus.Subscription, driven directly
// by test code through its Deliveries channel.
type Subscription struct {
	deliveries chan bus.Delivery
	closed     chan struct{}
	closeOnce  sync.Once
	roomID     string
}

// NewSubscription creates a mock Subscription with a buffered delivery channel.
func NewSubscription() *Subscription {
	return &Subscription{
		deliveries: make(chan bus.Delivery, 16),
		closed:     make(chan struct{}),
	}
}

func (s *Subscription) Deliveries() <-chan bus.Delivery { return s.deliveries }
func (s *Subscription) Closed() <-chan struct{}         { return s.closed }

func (s *Subscription) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Queue returns placeholder queue metadata describing a mock room queue.
func (s *Subscription) Queue() bus.QueueInfo {
	return bus.QueueInfo{Name: s.roomID, Durable: false, Exclusive: false, AutoDelete: true, Arguments: map[string]interface{}{}}
}

// Channel returns placeholder channel metadata for a mock subscription.
func (s *Subscription) Channel() bus.ChannelInfo {
	return bus.ChannelInfo{ChannelNumber: 1, ConnectionName: "mock-gateway"}
}

// Push enqueues a delivery with no-op ack/nack callbacks for test convenience.
func (s *Subscription) Push(body []byte) {
	s.deliveries <- bus.Delivery{Body: body, Ack: func() error { return nil }, Nack: func(bool) error { return nil }}
}

// CloseSub simulates the underlying channel going away.
func (s *Subscription) CloseSub() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Gateway is an in-memory mock of bus.Gateway. Publish records bodies per
// room instead of actually routing them anywhere; tests drive delivery by
// pushing onto the Subscription returned from Queue.
type Gateway struct {
	mu    sync.Mutex
	rooms map[string]*Subscription
	sent  map[string][][]byte

	QueueFunc   func(ctx context.Context, roomID string) (bus.Subscription, error)
	PublishFunc func(ctx context.Context, roomID string, body []byte) error
}

// NewGateway creates an empty mock Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		rooms: make(map[string]*Subscription),
		sent:  make(map[string][][]byte),
	}
}

func (g *Gateway) Queue(ctx context.Context, roomID string) (bus.Subscription, error) {
	if g.QueueFunc != nil {
		return g.QueueFunc(ctx, roomID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.rooms[roomID]
	if !ok {
		sub = NewSubscription()
		sub.roomID = roomID
		g.rooms[roomID] = sub
	}
	return sub, nil
}

func (g *Gateway) Publish(ctx context.Context, roomID string, body []byte) error {
	if g.PublishFunc != nil {
		return g.PublishFunc(ctx, roomID, body)
	}
	g.mu.Lock()
	g.sent[roomID] = append(g.sent[roomID], body)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) Release(ctx context.Context, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sub, ok := g.rooms[roomID]; ok {
		sub.CloseSub()
		delete(g.rooms, roomID)
	}
}

func (g *Gateway) Close() error { return nil }

// Published returns every body sent to roomID (for test assertions).
func (g *Gateway) Published(roomID string) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[roomID]
}

// SubscriptionFor returns the live mock Subscription for roomID, if queued.
func (g *Gateway) SubscriptionFor(roomID string) (*Subscription, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.rooms[roomID]
	return sub, ok
}
