package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/notify"
	"github.com/nimbuschat/realtime/internal/presence"
)

type fakeSocket struct {
	received chan domain.Notification
}

func (s *fakeSocket) ID() string { return "fake" }
func (s *fakeSocket) SendJSON(v any) error {
	if n, ok := v.(domain.Notification); ok {
		s.received <- n
	}
	return nil
}
func (s *fakeSocket) Close() error { return nil }

func TestDispatcher_DeliversToConnectedUser(t *testing.T) {
	registry := presence.New(nil, time.Minute, zap.NewNop())
	userID := uuid.New()
	sock := &fakeSocket{received: make(chan domain.Notification, 1)}
	registry.Connect(context.Background(), userID, sock)

	d := notify.New(registry, zap.NewNop())
	if err := d.Notify(userID, domain.Notification{Sender: "bob", Message: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case n := <-sock.received:
		if n.Sender != "bob" {
			t.Fatalf("expected sender 'bob', got %q", n.Sender)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestDispatcher_DropsForDisconnectedUser(t *testing.T) {
	registry := presence.New(nil, time.Minute, zap.NewNop())
	d := notify.New(registry, zap.NewNop())

	err := d.Notify(uuid.New(), domain.Notification{Sender: "bob", Message: "hi"})
	if err != domain.ErrUserNotConnected {
		t.Fatalf("expected ErrUserNotConnected, got %v", err)
	}
}
