package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func newWrappedRedis(t *testing.T) (*RedisWrapper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWrapper(client, zaptest.NewLogger(t)), mr
}

func TestRedisWrapperRoundTrip(t *testing.T) {
	rw, mr := newWrappedRedis(t)
	ctx := context.Background()

	if err := rw.Ping(ctx).Err(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if err := rw.Set(ctx, "conversation:abc", `{"session_id":"abc"}`, time.Minute).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := rw.Get(ctx, "conversation:abc").Result()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != `{"session_id":"abc"}` {
		t.Errorf("Get returned %q", got)
	}

	keys, err := rw.Keys(ctx, "conversation:*").Result()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "conversation:abc" {
		t.Errorf("Keys returned %v", keys)
	}

	n, err := rw.Del(ctx, "conversation:abc").Result()
	if err != nil || n != 1 {
		t.Errorf("Del returned %d, %v", n, err)
	}
	if mr.Exists("conversation:abc") {
		t.Error("key survived Del")
	}
}

func TestRedisWrapperMissingKeyIsNotAFailure(t *testing.T) {
	rw, _ := newWrappedRedis(t)
	ctx := context.Background()

	// Missing sessions are routine reads; they must never count against
	// the breaker.
	for i := 0; i < 10; i++ {
		if err := rw.Get(ctx, "conversation:missing").Err(); err != redis.Nil {
			t.Fatalf("expected redis.Nil, got %v", err)
		}
	}
	if rw.IsCircuitBreakerOpen() {
		t.Error("breaker opened on redis.Nil results")
	}
}

func TestRedisWrapperOpensAndFailsFast(t *testing.T) {
	// Nothing listens on this address.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	rw := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rw.Ping(ctx).Err(); err == nil {
			t.Fatal("expected ping to fail without a server")
		}
	}
	if !rw.IsCircuitBreakerOpen() {
		t.Fatal("breaker should be open after consecutive failures")
	}

	if err := rw.Get(ctx, "conversation:any").Err(); err != ErrCircuitBreakerOpen {
		t.Errorf("expected fail-fast error, got %v", err)
	}
}
