package broadcaster_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/broadcaster"
	"github.com/nimbuschat/realtime/internal/digestion"
	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/repository/mock"
)

type recordingSocket struct {
	id       string
	received chan domain.MessageEnvelope
	slow     bool
}

func newRecordingSocket(id string) *recordingSocket {
	return &recordingSocket{id: id, received: make(chan domain.MessageEnvelope, 8)}
}

func (s *recordingSocket) ID() string { return s.id }
func (s *recordingSocket) SendJSON(v any) error {
	if s.slow {
		time.Sleep(time.Hour)
	}
	if env, ok := v.(domain.MessageEnvelope); ok {
		s.received <- env
	}
	return nil
}
func (s *recordingSocket) Close() error { return nil }

func newTestBroadcaster(t *testing.T) (*broadcaster.Broadcaster, *mock.Gateway) {
	t.Helper()
	gateway := mock.NewGateway()
	tail := mock.NewTailCache()
	broker := digestion.NewBroker(mock.NewMessageStore(), 100, time.Hour, zap.NewNop())
	b := broadcaster.New(gateway, tail, broker, nil, nil, nil, 200*time.Millisecond, zap.NewNop())
	return b, gateway
}

func TestBroadcaster_PublishFansOutToConnectedSocket(t *testing.T) {
	b, gateway := newTestBroadcaster(t)
	ctx := context.Background()
	roomID := uuid.New()
	senderID := uuid.New()

	sock := newRecordingSocket("sock-1")
	if err := b.Connect(ctx, senderID, roomID, sock); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if _, err := b.Publish(ctx, senderID, roomID, domain.IncomingMessage{ChannelID: uuid.New(), Message: "hi"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	sub, ok := gateway.SubscriptionFor(roomID.String())
	if !ok {
		t.Fatal("expected room to have an active subscription")
	}
	published := gateway.Published(roomID.String())
	if len(published) != 1 {
		t.Fatalf("expected 1 published envelope, got %d", len(published))
	}
	sub.Push(published[0])

	select {
	case env := <-sock.received:
		if env.Message != "hi" {
			t.Fatalf("expected message 'hi', got %q", env.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fan-out delivery")
	}
}

func TestBroadcaster_DisconnectLastSocketReleasesRoom(t *testing.T) {
	b, gateway := newTestBroadcaster(t)
	ctx := context.Background()
	roomID := uuid.New()

	sock := newRecordingSocket("sock-1")
	if err := b.Connect(ctx, uuid.New(), roomID, sock); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	b.Disconnect(ctx, roomID, sock)

	if _, ok := gateway.SubscriptionFor(roomID.String()); ok {
		t.Fatal("expected room subscription to be released after last disconnect")
	}
}

func TestBroadcaster_SlowClientEvicted(t *testing.T) {
	b, gateway := newTestBroadcaster(t)
	ctx := context.Background()
	roomID := uuid.New()

	slow := newRecordingSocket("slow")
	slow.slow = true
	fast := newRecordingSocket("fast")

	if err := b.Connect(ctx, uuid.New(), roomID, slow); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := b.Connect(ctx, uuid.New(), roomID, fast); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if _, err := b.Publish(ctx, uuid.New(), roomID, domain.IncomingMessage{ChannelID: uuid.New(), Message: "hi"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	sub, _ := gateway.SubscriptionFor(roomID.String())
	sub.Push(gateway.Published(roomID.String())[0])

	select {
	case <-fast.received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fast client delivery")
	}

	// give the slow-client timeout time to fire and evict.
	time.Sleep(400 * time.Millisecond)

	snaps := b.Snapshot()
	if len(snaps) != 1 || snaps[0].Subscribers != 1 {
		t.Fatalf("expected slow client to be evicted, snapshot: %+v", snaps)
	}
}

func TestBroadcaster_ConnectRejectsNonMember(t *testing.T) {
	gateway := mock.NewGateway()
	tail := mock.NewTailCache()
	broker := digestion.NewBroker(mock.NewMessageStore(), 100, time.Hour, zap.NewNop())
	denyAll := denyMembership{}
	b := broadcaster.New(gateway, tail, broker, denyAll, nil, nil, time.Second, zap.NewNop())

	ctx := context.Background()
	err := b.Connect(ctx, uuid.New(), uuid.New(), newRecordingSocket("x"))
	if err != domain.ErrNotMember {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

type denyMembership struct{}

func (denyMembership) IsMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}
