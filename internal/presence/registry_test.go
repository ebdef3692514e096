package presence_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/presence"
)

type fakeSocket struct {
	closed atomic.Bool
	sent   atomic.Int32
}

func (s *fakeSocket) ID() string          { return "fake" }
func (s *fakeSocket) SendJSON(v any) error { s.sent.Add(1); return nil }
func (s *fakeSocket) Close() error         { s.closed.Store(true); return nil }

func TestRegistry_ConnectMarksOnline(t *testing.T) {
	registry := presence.New(nil, time.Minute, zap.NewNop())
	userID := uuid.New()
	sock := &fakeSocket{}

	ctx := context.Background()
	registry.Connect(ctx, userID, sock)

	if !registry.IsConnected(userID) {
		t.Fatal("expected user to be connected")
	}
	status, err := registry.GetStatus(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != domain.StatusOnline {
		t.Fatalf("expected online, got %s", status)
	}
}

func TestRegistry_DisconnectMarksOffline(t *testing.T) {
	registry := presence.New(nil, time.Minute, zap.NewNop())
	userID := uuid.New()
	ctx := context.Background()

	registry.Connect(ctx, userID, &fakeSocket{})
	registry.Disconnect(ctx, userID)

	if registry.IsConnected(userID) {
		t.Fatal("expected user to be disconnected")
	}
	status, _ := registry.GetStatus(ctx, userID)
	if status != domain.StatusOffline {
		t.Fatalf("expected offline, got %s", status)
	}
}

func TestRegistry_SetStatusRejectsInvalid(t *testing.T) {
	registry := presence.New(nil, time.Minute, zap.NewNop())
	err := registry.SetStatus(context.Background(), uuid.New(), "bogus")
	if err != domain.ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestRegistry_WatchdogClosesExpiredConnections(t *testing.T) {
	registry := presence.New(nil, 20*time.Millisecond, zap.NewNop())
	userID := uuid.New()
	sock := &fakeSocket{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry.Connect(ctx, userID, sock)
	go registry.RunWatchdog(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for !sock.closed.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if !sock.closed.Load() {
		t.Fatal("expected socket to be closed by the heartbeat watchdog")
	}
	if registry.IsConnected(userID) {
		t.Fatal("expected user to be disconnected after heartbeat expiry")
	}
}

func TestRegistry_HeartbeatExtendsDeadline(t *testing.T) {
	registry := presence.New(nil, 50*time.Millisecond, zap.NewNop())
	userID := uuid.New()
	sock := &fakeSocket{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry.Connect(ctx, userID, sock)
	go registry.RunWatchdog(ctx, 10*time.Millisecond)

	stop := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(stop) {
		registry.Heartbeat(userID)
		time.Sleep(10 * time.Millisecond)
	}

	if sock.closed.Load() {
		t.Fatal("expected heartbeats to keep the connection alive")
	}
}
