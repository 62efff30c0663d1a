package coordinator

import (
	"context"
	"testing"
	"time"

	"tribeat/internal/config"
	"tribeat/internal/models"
)

func TestOptionsFromConfigBoundReconnect(t *testing.T) {
	control := newFakeControl("s1", nil)
	opts := OptionsFromConfig(config.LiveConfig{ReconnectBaseMs: 1, ReconnectMaxMs: 4, ReconnectMaxAttempts: 2})
	c := New(models.Identity{UserID: 2, Role: models.RoleParticipant}, "s1", loadedEngine(t), control, downTransport{}, opts...)

	if c.reconnectBase != time.Millisecond || c.reconnectMax != 4*time.Millisecond || c.reconnectAttempts != 2 {
		t.Fatalf("reconnect tunables not applied: base %v max %v attempts %d", c.reconnectBase, c.reconnectMax, c.reconnectAttempts)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Two millisecond-scale attempts, then give up. The built-in backoff
	// would still be waiting out its first delay.
	waitStatus(t, c, StatusDisconnected)
	c.Close()
}
