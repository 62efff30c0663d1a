package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tribeat/internal/models"
	"tribeat/internal/redis"
)

const redisStateTTL = 30 * time.Minute

// stateCache keeps the latest live state in redis so reads skip the database
// on the hot path. The database row stays authoritative.
type stateCache struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateCache {
	return &stateCache{client: client}
}

func stateKey(sessionID string) string {
	return fmt.Sprintf("live:state:%s", sessionID)
}

func (c *stateCache) cacheState(state *models.LiveState) {
	if c == nil || c.client == nil || state == nil || state.SessionID == "" {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("live rdb state marshal failed: %v", err)
		return
	}
	if err := c.client.Set(context.Background(), stateKey(state.SessionID), data, redisStateTTL); err != nil {
		log.Printf("live rdb state failed: %v", err)
	}
}

func (c *stateCache) loadState(sessionID string) (*models.LiveState, bool) {
	if c == nil || c.client == nil || sessionID == "" {
		return nil, false
	}
	raw, err := c.client.Get(context.Background(), stateKey(sessionID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("live load state rdb failed: %v", err)
		}
		return nil, false
	}
	var state models.LiveState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		log.Printf("live decode state rdb failed: %v", err)
		return nil, false
	}
	if state.SessionID != sessionID {
		return nil, false
	}
	return &state, true
}

func (c *stateCache) invalidateState(sessionID string) {
	if c == nil || c.client == nil || sessionID == "" {
		return
	}
	if err := c.client.Del(context.Background(), stateKey(sessionID)); err != nil && err != redis.ErrCacheMiss {
		log.Printf("live invalidate state rdb failed: %v", err)
	}
}
