//go:build integration

package cache_test

// ──────────────────────────────────────────────────────
// Integration tests — require a reachable Redis instance.
// Run with: go test -tags integration -v ./internal/cache/
// ──────────────────────────────────────────────────────

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/nimbuschat/realtime/internal/cache"
)

func dialTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REALTIME_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return client
}

func TestRedisTailCache_PushAndLoadTrimsToLimit(t *testing.T) {
	client := dialTestRedis(t)
	defer client.Close()

	tail := cache.NewRedisTailCache(client, 2)
	ctx := context.Background()
	roomID, channelID := "room-1", "channel-1"
	defer client.Del(ctx, "room:"+roomID+":channel:"+channelID+":messages")

	for _, msg := range []string{"one", "two", "three"} {
		if err := tail.PushTail(ctx, roomID, channelID, []byte(msg)); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}

	entries, err := tail.LoadTail(ctx, roomID, channelID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected tail trimmed to 2 entries, got %d", len(entries))
	}
	if string(entries[0]) != "three" {
		t.Fatalf("expected newest entry first, got %q", entries[0])
	}
}

func TestRedisTailCache_StatusRoundTrip(t *testing.T) {
	client := dialTestRedis(t)
	defer client.Close()

	tail := cache.NewRedisTailCache(client, 100)
	ctx := context.Background()
	defer client.HDel(ctx, "user_status", "user-1")

	if err := tail.SetStatus(ctx, "user-1", "online"); err != nil {
		t.Fatalf("set status failed: %v", err)
	}

	status, ok, err := tail.GetStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if !ok || status != "online" {
		t.Fatalf("expected online status, got %q (ok=%v)", status, ok)
	}

	_, ok, err = tail.GetStatus(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected nonexistent user to be absent")
	}
}
