package live

import (
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"tribeat/internal/config"
	"tribeat/internal/models"
	"tribeat/internal/redis"
)

// newTestRedisClient connects to the redis named by TEST_REDIS_ADDR, or skips
// the test when no instance is available.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("parse TEST_REDIS_ADDR: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse TEST_REDIS_ADDR port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStateCacheRoundTripAndInvalidate(t *testing.T) {
	cache := newStateCache(newTestRedisClient(t))

	state := &models.LiveState{
		SessionID:   "cache-s1",
		IsPlaying:   true,
		CurrentTime: 42.5,
		Volume:      70,
		LastEventAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	cache.cacheState(state)

	got, ok := cache.loadState("cache-s1")
	if !ok {
		t.Fatalf("cached state not found")
	}
	if got.CurrentTime != 42.5 || got.Volume != 70 || !got.IsPlaying {
		t.Fatalf("cached state mismatch: %+v", got)
	}
	if !got.LastEventAt.Equal(state.LastEventAt) {
		t.Fatalf("last event at = %v, want %v", got.LastEventAt, state.LastEventAt)
	}

	cache.invalidateState("cache-s1")
	if _, ok := cache.loadState("cache-s1"); ok {
		t.Fatalf("state still cached after invalidation")
	}
}

func TestStateCacheWithoutRedisIsInert(t *testing.T) {
	cache := newStateCache(nil)
	cache.cacheState(&models.LiveState{SessionID: "s1"})
	if _, ok := cache.loadState("s1"); ok {
		t.Fatalf("nil-client cache returned a hit")
	}
	cache.invalidateState("s1")
}
