package player

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotLoaded is returned by transport controls before Load succeeds.
var ErrNotLoaded = errors.New("no media loaded")

// DefaultDriftTolerance is the seek threshold for remote sync, in seconds.
// Corrections smaller than this are absorbed rather than hard-seeked so
// playback stays smooth.
const DefaultDriftTolerance = 1.5

// Prober resolves a media URL to its duration in seconds. Injected so tests
// and headless deployments need no real decoder.
type Prober func(ctx context.Context, url string) (float64, error)

// State is a point-in-time snapshot of the engine, safe to hand across
// goroutines. Error carries the last media load failure so UIs can show it
// inline; it is cleared by the next successful Load.
type State struct {
	MediaURL    string
	IsLoaded    bool
	IsPlaying   bool
	CurrentTime float64
	Duration    float64
	Volume      int
	Error       string
}

// Engine is the local playback engine. Position is not ticked by a timer;
// it is projected from the last anchor plus wall-clock elapsed time, so a
// paused engine costs nothing and reads are always current.
type Engine struct {
	mu    sync.Mutex
	now   func() time.Time
	probe Prober

	driftTolerance float64

	mediaURL string
	loaded   bool
	playing  bool
	volume   int
	duration float64
	loadErr  string

	// anchorPos is the position at anchorAt; the live position is
	// anchorPos plus elapsed time while playing.
	anchorPos float64
	anchorAt  time.Time

	nextSubID int
	subs      map[int]func(State)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDriftTolerance overrides the remote-sync seek threshold in seconds.
func WithDriftTolerance(seconds float64) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.driftTolerance = seconds
		}
	}
}

// WithDefaultVolume sets the initial volume.
func WithDefaultVolume(volume int) Option {
	return func(e *Engine) {
		e.volume = clampVolume(volume)
	}
}

// NewEngine builds an engine with the given prober. A nil prober makes Load
// accept any URL with unknown duration.
func NewEngine(probe Prober, opts ...Option) *Engine {
	e := &Engine{
		now:            time.Now,
		probe:          probe,
		driftTolerance: DefaultDriftTolerance,
		volume:         80,
		subs:           make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load resolves the media and resets position. Volume survives a reload.
// A failed probe is returned and also recorded in state so subscribers see
// it; the engine stays unloaded.
func (e *Engine) Load(ctx context.Context, url string) error {
	if url == "" {
		return errors.New("media url required")
	}
	var duration float64
	if e.probe != nil {
		d, err := e.probe(ctx, url)
		if err != nil {
			e.mu.Lock()
			e.loadErr = err.Error()
			e.mu.Unlock()
			e.notify()
			return err
		}
		duration = d
	}

	e.mu.Lock()
	e.mediaURL = url
	e.loaded = true
	e.playing = false
	e.duration = duration
	e.anchorPos = 0
	e.anchorAt = e.now()
	e.loadErr = ""
	e.mu.Unlock()

	e.notify()
	return nil
}

// Play starts playback from the current position.
func (e *Engine) Play() error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	if !e.playing {
		e.reanchorLocked()
		e.playing = true
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// Pause freezes playback at the current position.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	if e.playing {
		e.reanchorLocked()
		e.playing = false
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// Seek jumps to the given position, clamped to [0, duration].
func (e *Engine) Seek(seconds float64) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.anchorPos = e.clampPositionLocked(seconds)
	e.anchorAt = e.now()
	e.mu.Unlock()
	e.notify()
	return nil
}

// SetVolume clamps to [0, 100]. Works without loaded media.
func (e *Engine) SetVolume(volume int) {
	e.mu.Lock()
	e.volume = clampVolume(volume)
	e.mu.Unlock()
	e.notify()
}

// SyncWithRemote reconciles the engine with an authoritative remote state.
// remoteTime is the position at remoteStamp (unix milliseconds, server
// clock). When the remote is playing, the expected local position includes
// the time elapsed since the stamp. A hard seek happens only when drift
// exceeds the tolerance; play and pause always reconcile.
func (e *Engine) SyncWithRemote(remoteTime float64, remotePlaying bool, remoteStamp int64, volume int) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}

	expected := remoteTime
	if remotePlaying {
		elapsed := e.now().Sub(time.UnixMilli(remoteStamp)).Seconds()
		if elapsed > 0 {
			expected += elapsed
		}
	}
	expected = e.clampPositionLocked(expected)

	drift := e.positionLocked() - expected
	if drift < 0 {
		drift = -drift
	}
	if drift > e.driftTolerance {
		e.anchorPos = expected
		e.anchorAt = e.now()
	}
	if e.playing != remotePlaying {
		e.reanchorLocked()
		e.playing = remotePlaying
	}
	e.volume = clampVolume(volume)
	e.mu.Unlock()

	e.notify()
	return nil
}

// Snapshot returns the engine's current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers a listener called after every state change. The
// returned function unsubscribes; calling it twice is harmless.
func (e *Engine) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// reanchorLocked folds elapsed time into anchorPos so a playing/paused flip
// does not move the position.
func (e *Engine) reanchorLocked() {
	e.anchorPos = e.positionLocked()
	e.anchorAt = e.now()
}

func (e *Engine) positionLocked() float64 {
	pos := e.anchorPos
	if e.playing {
		pos += e.now().Sub(e.anchorAt).Seconds()
	}
	return e.clampPositionLocked(pos)
}

func (e *Engine) clampPositionLocked(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if e.duration > 0 && pos > e.duration {
		return e.duration
	}
	return pos
}

func (e *Engine) snapshotLocked() State {
	return State{
		MediaURL:    e.mediaURL,
		IsLoaded:    e.loaded,
		IsPlaying:   e.playing,
		CurrentTime: e.positionLocked(),
		Duration:    e.duration,
		Volume:      e.volume,
		Error:       e.loadErr,
	}
}

// notify calls subscribers outside the engine lock so a listener may call
// back into the engine.
func (e *Engine) notify() {
	e.mu.Lock()
	snap := e.snapshotLocked()
	fns := make([]func(State), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
