package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tribeat/internal/channel"
	"tribeat/internal/models"
	"tribeat/internal/player"

	"github.com/google/uuid"
)

// Status is the coordinator's connection state.
type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
)

// Backoff defaults for resubscribe attempts.
const (
	DefaultReconnectBase     = 500 * time.Millisecond
	DefaultReconnectMax      = 10 * time.Second
	DefaultReconnectAttempts = 8
)

// ControlPlane is the server-side surface the coordinator talks to. The
// event router satisfies it directly; remote clients wrap their HTTP client
// in it.
type ControlPlane interface {
	Submit(ctx context.Context, identity models.Identity, sessionID string, kind channel.Kind, payload any) (*channel.Event, error)
	GetState(ctx context.Context, identity models.Identity, sessionID string) (*models.LiveState, error)
}

// Coordinator keeps one client's playback engine in lockstep with a session.
// Controllers (the coach, elevated roles) submit control events and apply
// their own changes optimistically; everyone applies events from others.
type Coordinator struct {
	identity  models.Identity
	sessionID string
	engine    *player.Engine
	control   ControlPlane
	transport channel.Transport

	reconnectBase     time.Duration
	reconnectMax      time.Duration
	reconnectAttempts int

	mu       sync.Mutex
	status   Status
	onStatus func(Status)
	started  bool
	// ownStamps holds timestamps of events this coordinator submitted, so
	// the echo arriving over the channel is not applied twice.
	ownStamps map[int64]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReconnect overrides the backoff parameters.
func WithReconnect(base, max time.Duration, attempts int) Option {
	return func(c *Coordinator) {
		if base > 0 {
			c.reconnectBase = base
		}
		if max > 0 {
			c.reconnectMax = max
		}
		if attempts > 0 {
			c.reconnectAttempts = attempts
		}
	}
}

// WithStatusListener registers a callback invoked on every status change.
func WithStatusListener(fn func(Status)) Option {
	return func(c *Coordinator) {
		c.onStatus = fn
	}
}

// New builds a coordinator for one session. transport may be nil: the
// coordinator then runs in local-echo mode, applying accepted events straight
// from Submit responses with no live feed.
func New(identity models.Identity, sessionID string, engine *player.Engine, control ControlPlane, transport channel.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		identity:          identity,
		sessionID:         sessionID,
		engine:            engine,
		control:           control,
		transport:         transport,
		reconnectBase:     DefaultReconnectBase,
		reconnectMax:      DefaultReconnectMax,
		reconnectAttempts: DefaultReconnectAttempts,
		status:            StatusConnecting,
		ownStamps:         make(map[int64]struct{}),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start fetches the authoritative state, applies it, and begins following
// the session channel. It returns once the initial state is applied.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	state, err := c.control.GetState(ctx, c.identity, c.sessionID)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}
	c.applyState(state, time.Now().UnixMilli())
	if state.Ended {
		c.setStatus(StatusDisconnected)
		return nil
	}

	if c.transport == nil {
		// Local-echo mode: no feed to follow, Submit responses drive the
		// engine directly.
		c.setStatus(StatusConnected)
		return nil
	}

	c.wg.Add(1)
	go c.run()
	return nil
}

// Close stops following and leaves the channel. It blocks until the follower
// goroutine has exited; no event is applied after Close returns.
func (c *Coordinator) Close() {
	c.mu.Lock()
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.setStatus(StatusDisconnected)
}

// Status reports the current connection state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Presence lists the members currently attached to the session channel.
// It is a UI hint; access decisions never consult it.
func (c *Coordinator) Presence(ctx context.Context) ([]channel.Member, error) {
	if c.transport == nil {
		return nil, nil
	}
	return c.transport.Presence(ctx, channel.Name(c.sessionID))
}

// Play submits a play event at the engine's current position.
func (c *Coordinator) Play(ctx context.Context) error {
	snap := c.engine.Snapshot()
	return c.submit(ctx, channel.KindPlay, channel.PlayPayload{CurrentTime: snap.CurrentTime})
}

// Pause submits a pause event at the engine's current position.
func (c *Coordinator) Pause(ctx context.Context) error {
	snap := c.engine.Snapshot()
	return c.submit(ctx, channel.KindPause, channel.PausePayload{CurrentTime: snap.CurrentTime})
}

// Seek submits a seek to the given position.
func (c *Coordinator) Seek(ctx context.Context, seconds float64) error {
	return c.submit(ctx, channel.KindSeek, channel.SeekPayload{CurrentTime: seconds})
}

// SetVolume submits a volume change.
func (c *Coordinator) SetVolume(ctx context.Context, volume int) error {
	return c.submit(ctx, channel.KindVolume, channel.VolumePayload{Volume: volume})
}

// End submits the terminal event for the session.
func (c *Coordinator) End(ctx context.Context) error {
	return c.submit(ctx, channel.KindEnd, channel.EndPayload{})
}

func (c *Coordinator) submit(ctx context.Context, kind channel.Kind, payload any) error {
	evt, err := c.control.Submit(ctx, c.identity, c.sessionID, kind, payload)
	if err != nil {
		return err
	}
	c.rememberOwn(evt.Timestamp)
	// Apply the accepted event locally. Over a live channel the echo is
	// skipped by timestamp; in local-echo mode this is the only delivery.
	if ended := c.applyEvent(*evt, true); ended && c.transport == nil {
		c.setStatus(StatusDisconnected)
	}
	return nil
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	attempt := 0
	for {
		if c.stopped() {
			return
		}
		sub, err := c.transport.Subscribe(context.Background(), channel.Name(c.sessionID), channel.Member{
			ConnID:   uuid.NewString(),
			Identity: c.identity,
		})
		if err != nil {
			attempt++
			if attempt > c.reconnectAttempts {
				log.Printf("coordinator %s gave up after %d reconnect attempts", c.sessionID, c.reconnectAttempts)
				c.setStatus(StatusDisconnected)
				return
			}
			c.setStatus(StatusConnecting)
			if !c.wait(backoffDelay(c.reconnectBase, c.reconnectMax, attempt)) {
				return
			}
			continue
		}
		attempt = 0

		// Events published while disconnected are gone; refetch closes
		// the gap before following the feed again.
		if state, err := c.control.GetState(context.Background(), c.identity, c.sessionID); err == nil {
			c.applyState(state, time.Now().UnixMilli())
			if state.Ended {
				sub.Close()
				c.setStatus(StatusDisconnected)
				return
			}
		} else {
			log.Printf("coordinator %s state refetch failed: %v", c.sessionID, err)
		}
		c.setStatus(StatusConnected)

		ended := c.follow(sub)
		sub.Close()
		if ended || c.stopped() {
			c.setStatus(StatusDisconnected)
			return
		}
		c.setStatus(StatusConnecting)
	}
}

// follow consumes the subscription until it closes, the session ends, or the
// coordinator is stopped. Returns true when the session ended.
func (c *Coordinator) follow(sub *channel.Subscription) bool {
	for {
		select {
		case <-c.stopCh:
			return false
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			if c.applyEvent(evt, false) {
				return true
			}
		}
	}
}

// applyEvent reconciles the engine with one channel event. Returns true when
// the event was terminal. fromSubmit marks the local application of an event
// this coordinator just had accepted.
func (c *Coordinator) applyEvent(evt channel.Event, fromSubmit bool) bool {
	if !fromSubmit && c.isOwn(evt.Timestamp) {
		// Echo of an optimistically applied event.
		return evt.Kind == channel.KindEnd
	}

	snap := c.engine.Snapshot()
	var err error
	switch p := evt.Payload.(type) {
	case channel.PlayPayload:
		err = c.engine.SyncWithRemote(p.CurrentTime, true, evt.Timestamp, snap.Volume)
	case channel.PausePayload:
		err = c.engine.SyncWithRemote(p.CurrentTime, false, evt.Timestamp, snap.Volume)
	case channel.SeekPayload:
		err = c.engine.SyncWithRemote(p.CurrentTime, snap.IsPlaying, evt.Timestamp, snap.Volume)
	case channel.VolumePayload:
		c.engine.SetVolume(p.Volume)
	case channel.EndPayload:
		if snap.IsLoaded {
			_ = c.engine.Pause()
		}
		return true
	case channel.StatePayload:
		if p.State.Ended {
			if snap.IsLoaded {
				_ = c.engine.Pause()
			}
			return true
		}
		c.applyState(&p.State, evt.Timestamp)
	case channel.PresencePayload:
		// Presence is a UI hint; nothing to reconcile.
	}
	if err != nil && !errors.Is(err, player.ErrNotLoaded) {
		log.Printf("coordinator %s apply %s failed: %v", c.sessionID, evt.Kind, err)
	}
	return false
}

func (c *Coordinator) applyState(state *models.LiveState, stamp int64) {
	if state == nil {
		return
	}
	if !state.LastEventAt.IsZero() {
		stamp = state.LastEventAt.UnixMilli()
	}
	if err := c.engine.SyncWithRemote(state.CurrentTime, state.IsPlaying, stamp, state.Volume); err != nil && !errors.Is(err, player.ErrNotLoaded) {
		log.Printf("coordinator %s apply state failed: %v", c.sessionID, err)
	}
}

func (c *Coordinator) rememberOwn(stamp int64) {
	c.mu.Lock()
	c.ownStamps[stamp] = struct{}{}
	// The set only needs to cover in-flight echoes.
	if len(c.ownStamps) > 256 {
		c.ownStamps = map[int64]struct{}{stamp: {}}
	}
	c.mu.Unlock()
}

func (c *Coordinator) isOwn(stamp int64) bool {
	c.mu.Lock()
	_, ok := c.ownStamps[stamp]
	c.mu.Unlock()
	return ok
}

func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	fn := c.onStatus
	c.mu.Unlock()
	if changed && fn != nil {
		fn(s)
	}
}

func (c *Coordinator) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Coordinator) wait(d time.Duration) bool {
	select {
	case <-c.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDelay doubles from base per attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
