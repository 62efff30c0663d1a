package live

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tribeat/internal/channel"
	"tribeat/internal/models"
	"tribeat/internal/redis"
	"tribeat/internal/service/session"
)

const queueLen = 16

// Router serializes control events per session and fans the accepted result
// out to the session channel. One worker goroutine per active session is the
// only writer of that session's live state, so no event interleaves with
// another mid-application.
type Router struct {
	sessions  *session.Service
	cache     *stateCache
	transport channel.Transport

	defaultVolume int
	now           func() time.Time

	mu      sync.Mutex
	workers map[string]*sessionWorker
}

type sessionWorker struct {
	taskCh chan submitTask
	stopCh chan struct{}
	// doneCh closes after the worker goroutine has exited and left the
	// worker map. A task enqueued but unanswered by then will never be
	// read; submitters watch doneCh and retry on a fresh worker.
	doneCh   chan struct{}
	stopOnce sync.Once
}

func (w *sessionWorker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

type submitTask struct {
	ctx      context.Context
	identity models.Identity
	kind     channel.Kind
	payload  any
	resultCh chan submitReturn
}

type submitReturn struct {
	evt *channel.Event
	err error
}

// NewRouter builds the event router. transport may be nil, which disables
// fan-out but keeps state mutation working (degraded mode). rdb may be nil
// to skip the read cache.
func NewRouter(sessions *session.Service, rdb *redis.Client, transport channel.Transport, defaultVolume int) *Router {
	if defaultVolume <= 0 || defaultVolume > 100 {
		defaultVolume = 80
	}
	return &Router{
		sessions:      sessions,
		cache:         newStateCache(rdb),
		transport:     transport,
		defaultVolume: defaultVolume,
		now:           time.Now,
		workers:       make(map[string]*sessionWorker),
	}
}

// Submit hands a control event to the session's worker and waits for the
// accepted, server-stamped event. All taxonomy errors surface here.
func (r *Router) Submit(ctx context.Context, identity models.Identity, sessionID string, kind channel.Kind, payload any) (*channel.Event, error) {
	if identity.UserID <= 0 {
		return nil, ErrUnauthenticated
	}
	if sessionID == "" {
		return nil, ErrNotFound
	}
	if !kind.Mutating() {
		return nil, fmt.Errorf("%w: kind %q cannot be submitted", ErrInvalidEvent, kind)
	}

	for {
		w := r.ensureWorker(sessionID)
		resultCh := make(chan submitReturn, 1)
		select {
		case w.taskCh <- submitTask{ctx: ctx, identity: identity, kind: kind, payload: payload, resultCh: resultCh}:
		case <-w.doneCh:
			// Worker retired between lookup and send; a fresh one takes it.
			continue
		default:
			return nil, ErrQueueFull
		}

		select {
		case ret := <-resultCh:
			return ret.evt, ret.err
		case <-w.doneCh:
			// The worker retired. An answer, if one was sent, happened
			// before doneCh closed; otherwise the task was never read and
			// goes back through a fresh worker, which re-checks the
			// session's status.
			select {
			case ret := <-resultCh:
				return ret.evt, ret.err
			default:
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// GetState returns the session's current live state after an access check.
// Order: redis cache, then database, then the inert default.
func (r *Router) GetState(ctx context.Context, identity models.Identity, sessionID string) (*models.LiveState, error) {
	if _, err := r.Access(ctx, identity, sessionID); err != nil {
		return nil, err
	}
	if state, ok := r.cache.loadState(sessionID); ok {
		return state, nil
	}
	state, err := r.sessions.GetLiveState(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewLiveState(sessionID, r.defaultVolume), nil
		}
		return nil, err
	}
	r.cache.cacheState(state)
	return state, nil
}

// Access resolves the session and checks that the identity may attach to it.
// The check always goes back to the store; channel presence is never trusted.
func (r *Router) Access(ctx context.Context, identity models.Identity, sessionID string) (*models.Session, error) {
	if identity.UserID <= 0 {
		return nil, ErrUnauthenticated
	}
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ok, err := r.sessions.CanAccess(ctx, sess, identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

// Stop shuts down the session's worker if one is running. Safe to call
// repeatedly; the next Submit starts a fresh worker.
func (r *Router) Stop(sessionID string) {
	r.mu.Lock()
	w, ok := r.workers[sessionID]
	r.mu.Unlock()
	if ok {
		w.stop()
	}
}

// Shutdown stops every active session worker. Called on graceful shutdown.
func (r *Router) Shutdown() {
	r.mu.Lock()
	workers := make([]*sessionWorker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()
	for _, w := range workers {
		w.stop()
	}
}

func (r *Router) ensureWorker(sessionID string) *sessionWorker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[sessionID]; ok {
		return w
	}
	w := &sessionWorker{
		taskCh: make(chan submitTask, queueLen),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.workers[sessionID] = w
	go r.runWorker(sessionID, w)
	return w
}

func (r *Router) runWorker(sessionID string, w *sessionWorker) {
	defer func() {
		w.stop()
		r.mu.Lock()
		delete(r.workers, sessionID)
		r.mu.Unlock()
		close(w.doneCh)
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.taskCh:
			if !r.handleSubmit(sessionID, task) {
				continue
			}
			// Terminal event accepted. Answer what queued behind it, then
			// retire; a task arriving after the drain is re-submitted by
			// its caller once doneCh closes.
			for {
				select {
				case task := <-w.taskCh:
					task.resultCh <- submitReturn{err: ErrSessionEnded}
				default:
					return
				}
			}
		}
	}
}

// handleSubmit runs on the session worker goroutine, the single writer for
// this session's state. Returns true when the accepted event was terminal.
func (r *Router) handleSubmit(sessionID string, task submitTask) bool {
	ctx := task.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			task.resultCh <- submitReturn{err: ErrNotFound}
		} else {
			task.resultCh <- submitReturn{err: err}
		}
		return false
	}
	if sess.Status.Terminal() {
		task.resultCh <- submitReturn{err: ErrSessionEnded}
		return false
	}
	if !r.sessions.CanControl(sess, task.identity) {
		task.resultCh <- submitReturn{err: ErrUnauthorized}
		return false
	}

	state := r.currentState(ctx, sessionID)
	if state.Ended {
		task.resultCh <- submitReturn{err: ErrSessionEnded}
		return false
	}

	now := r.now().UTC()
	evt := &channel.Event{
		SessionID: sessionID,
		Kind:      task.kind,
		Timestamp: now.UnixMilli(),
	}

	ended := false
	switch task.kind {
	case channel.KindPlay:
		p, ok := task.payload.(channel.PlayPayload)
		if !ok {
			task.resultCh <- submitReturn{err: fmt.Errorf("%w: play payload required", ErrInvalidEvent)}
			return false
		}
		p.CurrentTime = clampTime(p.CurrentTime)
		state.IsPlaying = true
		state.CurrentTime = p.CurrentTime
		evt.Payload = p
		// First play promotes the session to LIVE.
		if sess.Status == models.SessionScheduled {
			if err := r.sessions.MarkLive(ctx, sessionID, now); err != nil {
				task.resultCh <- submitReturn{err: err}
				return false
			}
		}
	case channel.KindPause:
		p, ok := task.payload.(channel.PausePayload)
		if !ok {
			task.resultCh <- submitReturn{err: fmt.Errorf("%w: pause payload required", ErrInvalidEvent)}
			return false
		}
		p.CurrentTime = clampTime(p.CurrentTime)
		state.IsPlaying = false
		state.CurrentTime = p.CurrentTime
		evt.Payload = p
	case channel.KindSeek:
		p, ok := task.payload.(channel.SeekPayload)
		if !ok {
			task.resultCh <- submitReturn{err: fmt.Errorf("%w: seek payload required", ErrInvalidEvent)}
			return false
		}
		p.CurrentTime = clampTime(p.CurrentTime)
		state.CurrentTime = p.CurrentTime
		evt.Payload = p
	case channel.KindVolume:
		p, ok := task.payload.(channel.VolumePayload)
		if !ok {
			task.resultCh <- submitReturn{err: fmt.Errorf("%w: volume payload required", ErrInvalidEvent)}
			return false
		}
		p.Volume = clampVolume(p.Volume)
		state.Volume = p.Volume
		evt.Payload = p
	case channel.KindEnd:
		state.IsPlaying = false
		state.Ended = true
		evt.Payload = channel.EndPayload{}
		if err := r.sessions.MarkCompleted(ctx, sessionID, now); err != nil {
			task.resultCh <- submitReturn{err: err}
			return false
		}
		ended = true
	default:
		task.resultCh <- submitReturn{err: fmt.Errorf("%w: kind %q", ErrInvalidEvent, task.kind)}
		return false
	}

	state.LastEventAt = now
	if err := r.sessions.SaveLiveState(ctx, state); err != nil {
		task.resultCh <- submitReturn{err: err}
		return false
	}
	if ended {
		// Post-END reads converge on the database row.
		r.cache.invalidateState(sessionID)
	} else {
		r.cache.cacheState(state)
	}

	r.broadcast(ctx, sessionID, *evt)
	r.broadcast(ctx, sessionID, channel.Event{
		SessionID: sessionID,
		Kind:      channel.KindState,
		Timestamp: evt.Timestamp,
		Payload:   channel.StatePayload{State: *state},
	})

	task.resultCh <- submitReturn{evt: evt}
	return ended
}

// currentState loads the worker's view of the state: cache, database, or the
// inert default for a session with no events yet.
func (r *Router) currentState(ctx context.Context, sessionID string) *models.LiveState {
	if state, ok := r.cache.loadState(sessionID); ok {
		return state
	}
	state, err := r.sessions.GetLiveState(ctx, sessionID)
	if err == nil {
		return state
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Printf("live load state for %s failed, starting from default: %v", sessionID, err)
	}
	return models.NewLiveState(sessionID, r.defaultVolume)
}

// broadcast fans an accepted event out. Delivery failure never fails the
// originating request; late joiners recover through GetState.
func (r *Router) broadcast(ctx context.Context, sessionID string, evt channel.Event) {
	if r.transport == nil {
		return
	}
	if err := r.transport.Publish(ctx, channel.Name(sessionID), evt); err != nil {
		log.Printf("live broadcast %s on %s failed: %v", evt.Kind, sessionID, err)
	}
}

func clampTime(t float64) float64 {
	if t < 0 {
		return 0
	}
	return t
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
