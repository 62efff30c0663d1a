package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tribeat/internal/channel"
	"tribeat/internal/models"
	"tribeat/internal/player"
)

// fakeControl is an in-memory control plane that mimics the event router:
// it stamps accepted events, mutates state, and fans out over the transport.
type fakeControl struct {
	mu        sync.Mutex
	state     models.LiveState
	transport channel.Transport
	stamp     int64
	getCalls  int
}

func newFakeControl(sessionID string, transport channel.Transport) *fakeControl {
	return &fakeControl{
		state:     models.LiveState{SessionID: sessionID, Volume: 80},
		transport: transport,
		stamp:     1_000_000,
	}
}

func (f *fakeControl) Submit(ctx context.Context, identity models.Identity, sessionID string, kind channel.Kind, payload any) (*channel.Event, error) {
	f.mu.Lock()
	f.stamp++
	evt := &channel.Event{SessionID: sessionID, Kind: kind, Timestamp: f.stamp, Payload: payload}
	switch p := payload.(type) {
	case channel.PlayPayload:
		f.state.IsPlaying = true
		f.state.CurrentTime = p.CurrentTime
	case channel.PausePayload:
		f.state.IsPlaying = false
		f.state.CurrentTime = p.CurrentTime
	case channel.SeekPayload:
		f.state.CurrentTime = p.CurrentTime
	case channel.VolumePayload:
		f.state.Volume = p.Volume
	case channel.EndPayload:
		f.state.IsPlaying = false
		f.state.Ended = true
	}
	f.state.LastEventAt = time.UnixMilli(f.stamp)
	state := f.state
	f.mu.Unlock()

	if f.transport != nil {
		name := channel.Name(sessionID)
		_ = f.transport.Publish(ctx, name, *evt)
		_ = f.transport.Publish(ctx, name, channel.Event{
			SessionID: sessionID, Kind: channel.KindState, Timestamp: evt.Timestamp,
			Payload: channel.StatePayload{State: state},
		})
	}
	return evt, nil
}

func (f *fakeControl) GetState(ctx context.Context, identity models.Identity, sessionID string) (*models.LiveState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	state := f.state
	return &state, nil
}

func loadedEngine(t *testing.T) *player.Engine {
	t.Helper()
	e := player.NewEngine(nil)
	if err := e.Load(context.Background(), "https://cdn/track.mp3"); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e
}

func waitStatus(t *testing.T, c *Coordinator, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %s, last %s", want, c.Status())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartAppliesInitialState(t *testing.T) {
	hub := channel.NewLocalTransport()
	control := newFakeControl("s1", hub)
	control.state = models.LiveState{SessionID: "s1", IsPlaying: false, CurrentTime: 240, Volume: 65}

	engine := loadedEngine(t)
	c := New(models.Identity{UserID: 2, Role: models.RoleParticipant}, "s1", engine, control, hub)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	waitStatus(t, c, StatusConnected)
	snap := engine.Snapshot()
	if snap.CurrentTime != 240 || snap.Volume != 65 || snap.IsPlaying {
		t.Fatalf("initial state not applied: %+v", snap)
	}
}

func TestParticipantFollowsRemoteEvents(t *testing.T) {
	hub := channel.NewLocalTransport()
	control := newFakeControl("s1", hub)

	engine := loadedEngine(t)
	follower := New(models.Identity{UserID: 2, Role: models.RoleParticipant}, "s1", engine, control, hub)
	if err := follower.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer follower.Close()
	waitStatus(t, follower, StatusConnected)

	// Another client submits through the control plane; the follower sees
	// it over the channel.
	if _, err := control.Submit(context.Background(), models.Identity{UserID: 1, Role: models.RoleCoach}, "s1", channel.KindPlay, channel.PlayPayload{CurrentTime: 50}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "play applied", func() bool {
		snap := engine.Snapshot()
		return snap.IsPlaying && snap.CurrentTime >= 50
	})

	if _, err := control.Submit(context.Background(), models.Identity{UserID: 1, Role: models.RoleCoach}, "s1", channel.KindVolume, channel.VolumePayload{Volume: 25}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "volume applied", func() bool {
		return engine.Snapshot().Volume == 25
	})
}

func TestControllerIgnoresOwnEcho(t *testing.T) {
	hub := channel.NewLocalTransport()
	control := newFakeControl("s1", hub)

	engine := loadedEngine(t)
	coach := New(models.Identity{UserID: 1, Role: models.RoleCoach}, "s1", engine, control, hub)
	if err := coach.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer coach.Close()
	waitStatus(t, coach, StatusConnected)

	var (
		mu      sync.Mutex
		notices int
	)
	unsub := engine.Subscribe(func(player.State) {
		mu.Lock()
		notices++
		mu.Unlock()
	})
	defer unsub()

	if err := coach.Seek(context.Background(), 120); err != nil {
		t.Fatalf("seek: %v", err)
	}
	waitFor(t, "seek applied", func() bool {
		return engine.Snapshot().CurrentTime >= 120
	})
	// Give the echo time to arrive; it must not re-apply.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if notices != 1 {
		t.Fatalf("engine notified %d times, want 1 (echo must be skipped)", notices)
	}
}

func TestEndDisconnects(t *testing.T) {
	hub := channel.NewLocalTransport()
	control := newFakeControl("s1", hub)

	engine := loadedEngine(t)
	follower := New(models.Identity{UserID: 2, Role: models.RoleParticipant}, "s1", engine, control, hub)
	if err := follower.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, follower, StatusConnected)

	if _, err := control.Submit(context.Background(), models.Identity{UserID: 1, Role: models.RoleCoach}, "s1", channel.KindEnd, channel.EndPayload{}); err != nil {
		t.Fatalf("submit end: %v", err)
	}
	waitStatus(t, follower, StatusDisconnected)
	if engine.Snapshot().IsPlaying {
		t.Fatalf("engine still playing after session end")
	}
	follower.Close()
}

func TestStartOnEndedSessionDisconnects(t *testing.T) {
	control := newFakeControl("s1", nil)
	control.state.Ended = true

	c := New(models.Identity{UserID: 2, Role: models.RoleParticipant}, "s1", loadedEngine(t), control, channel.NewLocalTransport())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected for ended session, got %s", c.Status())
	}
}

func TestLocalEchoMode(t *testing.T) {
	control := newFakeControl("s1", nil)
	engine := loadedEngine(t)

	c := New(models.Identity{UserID: 1, Role: models.RoleCoach}, "s1", engine, control, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Status() != StatusConnected {
		t.Fatalf("expected connected in local-echo mode, got %s", c.Status())
	}

	if err := c.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !engine.Snapshot().IsPlaying {
		t.Fatalf("accepted event not applied locally")
	}
	if err := c.SetVolume(context.Background(), 40); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if engine.Snapshot().Volume != 40 {
		t.Fatalf("volume not applied locally")
	}

	if err := c.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected after end, got %s", c.Status())
	}
}

// downTransport always fails to subscribe.
type downTransport struct{}

func (downTransport) Publish(context.Context, string, channel.Event) error { return nil }
func (downTransport) Subscribe(context.Context, string, channel.Member) (*channel.Subscription, error) {
	return nil, errors.New("transport down")
}
func (downTransport) Presence(context.Context, string) ([]channel.Member, error) { return nil, nil }

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	control := newFakeControl("s1", nil)
	c := New(models.Identity{UserID: 2, Role: models.RoleParticipant}, "s1", loadedEngine(t), control, downTransport{},
		WithReconnect(time.Millisecond, 4*time.Millisecond, 3))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, c, StatusDisconnected)
	c.Close()
}

func TestReconnectRefetchesState(t *testing.T) {
	hub := channel.NewLocalTransport()
	control := newFakeControl("s1", hub)

	engine := loadedEngine(t)
	c := New(models.Identity{UserID: 2, Role: models.RoleParticipant}, "s1", engine, control, hub,
		WithReconnect(time.Millisecond, 4*time.Millisecond, 5))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()
	waitStatus(t, c, StatusConnected)

	control.mu.Lock()
	before := control.getCalls
	control.mu.Unlock()

	// State moves while the follower is cut off; the resubscribe path must
	// refetch rather than wait for the next event.
	control.mu.Lock()
	control.state.CurrentTime = 300
	control.state.LastEventAt = time.Now()
	control.mu.Unlock()
	hub.DropChannel(channel.Name("s1"))

	waitFor(t, "state refetched", func() bool {
		control.mu.Lock()
		defer control.mu.Unlock()
		return control.getCalls > before
	})
	waitFor(t, "position caught up", func() bool {
		return engine.Snapshot().CurrentTime >= 300
	})
}
