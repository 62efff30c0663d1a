package channel

import (
	"context"
	"sync"
	"time"
)

// LocalTransport is an in-process hub implementing Transport. It backs the
// degraded mode used when no pub/sub provider is configured, and tests.
// Fan-out never blocks: a subscriber that stops draining loses events, and
// recovers through the state refetch path like any other client.
type LocalTransport struct {
	mu       sync.Mutex
	channels map[string]map[*Subscription]Member
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		channels: make(map[string]map[*Subscription]Member),
	}
}

// Publish delivers the event to every current subscriber of the channel.
func (t *LocalTransport) Publish(ctx context.Context, channel string, evt Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcastLocked(channel, evt)
	return nil
}

// Subscribe joins the channel and announces the member to everyone already
// subscribed.
func (t *LocalTransport) Subscribe(ctx context.Context, channel string, member Member) (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs, ok := t.channels[channel]
	if !ok {
		subs = make(map[*Subscription]Member)
		t.channels[channel] = subs
	}

	var sub *Subscription
	sub = newSubscription(0, func() {
		t.leave(channel, sub, member)
	})

	t.broadcastLocked(channel, presenceEvent(KindJoined, channel, member))
	subs[sub] = member
	return sub, nil
}

// Presence lists members currently subscribed to the channel.
func (t *LocalTransport) Presence(ctx context.Context, channel string) ([]Member, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := make([]Member, 0, len(t.channels[channel]))
	for _, m := range t.channels[channel] {
		members = append(members, m)
	}
	return members, nil
}

// DropChannel force-closes every subscription on the channel, the way a
// lost broker connection would. Subscribers see their event stream close and
// go through their reconnect path.
func (t *LocalTransport) DropChannel(channel string) {
	t.mu.Lock()
	subs := t.channels[channel]
	delete(t.channels, channel)
	for sub := range subs {
		close(sub.ch)
	}
	t.mu.Unlock()
}

func (t *LocalTransport) leave(channel string, sub *Subscription, member Member) {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs, ok := t.channels[channel]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(t.channels, channel)
		return
	}
	t.broadcastLocked(channel, presenceEvent(KindLeft, channel, member))
}

// broadcastLocked requires t.mu held; sends never block so the hub cannot
// deadlock on a slow subscriber.
func (t *LocalTransport) broadcastLocked(channel string, evt Event) {
	for sub := range t.channels[channel] {
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

func presenceEvent(kind Kind, channel string, member Member) Event {
	return Event{
		SessionID: sessionIDFromChannel(channel),
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
		Payload: PresencePayload{
			UserID: member.Identity.UserID,
			Name:   member.Identity.Name,
			Role:   member.Identity.Role,
		},
	}
}

func sessionIDFromChannel(channel string) string {
	if id, ok := SessionID(channel); ok {
		return id
	}
	return channel
}
