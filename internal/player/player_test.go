package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source for position projection tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func staticProbe(duration float64) Prober {
	return func(ctx context.Context, url string) (float64, error) {
		return duration, nil
	}
}

func loadedEngine(t *testing.T, clock *fakeClock, duration float64) *Engine {
	t.Helper()
	e := NewEngine(staticProbe(duration), WithClock(clock.Now))
	if err := e.Load(context.Background(), "https://cdn/track.mp3"); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e
}

func TestControlsBeforeLoad(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Play(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded from Play, got %v", err)
	}
	if err := e.Seek(10); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded from Seek, got %v", err)
	}
	// Volume works without media and starts at the default.
	if got := e.Snapshot().Volume; got != 80 {
		t.Fatalf("default volume = %d, want 80", got)
	}
	e.SetVolume(150)
	if got := e.Snapshot().Volume; got != 100 {
		t.Fatalf("volume clamp high = %d, want 100", got)
	}
	e.SetVolume(-3)
	if got := e.Snapshot().Volume; got != 0 {
		t.Fatalf("volume clamp low = %d, want 0", got)
	}
}

func TestLoadErrorLeavesEngineUnloaded(t *testing.T) {
	wantErr := errors.New("decode failed")
	fail := true
	e := NewEngine(func(ctx context.Context, url string) (float64, error) {
		if fail {
			return 0, wantErr
		}
		return 600, nil
	})

	var notified []State
	unsub := e.Subscribe(func(s State) { notified = append(notified, s) })
	defer unsub()

	if err := e.Load(context.Background(), "https://cdn/broken.mp3"); !errors.Is(err, wantErr) {
		t.Fatalf("expected probe error, got %v", err)
	}
	snap := e.Snapshot()
	if snap.IsLoaded {
		t.Fatalf("engine must stay unloaded after a failed probe")
	}
	if snap.Error != wantErr.Error() {
		t.Fatalf("state error = %q, want %q", snap.Error, wantErr.Error())
	}
	if len(notified) != 1 || notified[0].Error != wantErr.Error() {
		t.Fatalf("subscriber did not see the load failure: %+v", notified)
	}

	// The next successful load clears the recorded failure.
	fail = false
	if err := e.Load(context.Background(), "https://cdn/track.mp3"); err != nil {
		t.Fatalf("load: %v", err)
	}
	snap = e.Snapshot()
	if !snap.IsLoaded || snap.Error != "" {
		t.Fatalf("load failure not cleared: %+v", snap)
	}
}

func TestPositionProjectionWhilePlaying(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	e := loadedEngine(t, clock, 600)

	if err := e.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.Advance(10 * time.Second)
	if got := e.Snapshot().CurrentTime; got != 10 {
		t.Fatalf("position after 10s = %v, want 10", got)
	}

	if err := e.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	clock.Advance(time.Hour)
	if got := e.Snapshot().CurrentTime; got != 10 {
		t.Fatalf("paused position drifted to %v", got)
	}

	if err := e.Seek(700); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := e.Snapshot().CurrentTime; got != 600 {
		t.Fatalf("seek past duration = %v, want clamp at 600", got)
	}
	if err := e.Seek(-5); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := e.Snapshot().CurrentTime; got != 0 {
		t.Fatalf("negative seek = %v, want 0", got)
	}
}

func TestSyncWithRemoteProjectsElapsedTime(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clock := newFakeClock(base)
	e := loadedEngine(t, clock, 600)

	// Remote reported position 100, playing, stamped 5 seconds ago.
	clock.Advance(5 * time.Second)
	if err := e.SyncWithRemote(100, true, base.UnixMilli(), 70); err != nil {
		t.Fatalf("sync: %v", err)
	}
	snap := e.Snapshot()
	if snap.CurrentTime != 105 {
		t.Fatalf("synced position = %v, want 105", snap.CurrentTime)
	}
	if !snap.IsPlaying {
		t.Fatalf("expected playing after sync")
	}
	if snap.Volume != 70 {
		t.Fatalf("volume = %d, want 70", snap.Volume)
	}
}

func TestSyncWithRemoteAbsorbsSmallDrift(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clock := newFakeClock(base)
	e := loadedEngine(t, clock, 600)

	if err := e.Seek(100); err != nil {
		t.Fatalf("seek: %v", err)
	}
	// Remote says 101 while paused: inside the tolerance, no hard seek.
	if err := e.SyncWithRemote(101, false, clock.Now().UnixMilli(), 80); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := e.Snapshot().CurrentTime; got != 100 {
		t.Fatalf("small drift corrected to %v, want absorbed at 100", got)
	}
	// Remote says 110: outside the tolerance, hard seek.
	if err := e.SyncWithRemote(110, false, clock.Now().UnixMilli(), 80); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := e.Snapshot().CurrentTime; got != 110 {
		t.Fatalf("large drift left position at %v, want 110", got)
	}
}

func TestSyncWithRemoteReconcilesPlayState(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	e := loadedEngine(t, clock, 600)

	if err := e.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := e.SyncWithRemote(0, false, clock.Now().UnixMilli(), 80); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if e.Snapshot().IsPlaying {
		t.Fatalf("expected pause after sync with paused remote")
	}
}

func TestSubscribeNotifiesAndUnsubscribes(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	e := loadedEngine(t, clock, 600)

	var (
		mu    sync.Mutex
		seen  []State
		count int
	)
	unsub := e.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		count++
		mu.Unlock()
	})

	if err := e.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	e.SetVolume(30)

	mu.Lock()
	if count != 2 {
		t.Fatalf("expected 2 notifications, got %d", count)
	}
	last := seen[len(seen)-1]
	mu.Unlock()
	if last.Volume != 30 || !last.IsPlaying {
		t.Fatalf("unexpected last snapshot %+v", last)
	}

	unsub()
	unsub()
	_ = e.Pause()
	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("listener called after unsubscribe")
	}
}
