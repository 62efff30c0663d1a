package channel

import (
	"context"
	"sync"

	"tribeat/internal/models"
)

// Member identifies one connected client on a channel. ConnID distinguishes
// multiple connections of the same user.
type Member struct {
	ConnID   string          `json:"conn_id"`
	Identity models.Identity `json:"identity"`
}

// Transport is the pub/sub collaborator boundary. Implementations must
// deliver published events to all current subscribers of a channel at least
// once; ordering across publishers is not guaranteed, so consumers
// reconcile by event timestamp.
type Transport interface {
	// Publish broadcasts an event to every subscriber of the channel.
	Publish(ctx context.Context, channel string, evt Event) error
	// Subscribe joins the channel as member and starts delivery. The
	// returned subscription must be closed to stop delivery and leave.
	Subscribe(ctx context.Context, channel string, member Member) (*Subscription, error)
	// Presence lists the members currently subscribed to the channel.
	// Presence is a UI hint; access control never trusts it.
	Presence(ctx context.Context, channel string) ([]Member, error)
}

// Subscription is a live attachment to one channel. Events() is closed when
// the subscription ends. Close is idempotent and stops delivery
// synchronously: no event is handed out after Close returns.
type Subscription struct {
	ch      chan Event
	once    sync.Once
	closeFn func()
}

func newSubscription(buffer int, closeFn func()) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscription{
		ch:      make(chan Event, buffer),
		closeFn: closeFn,
	}
}

// Events returns the delivery stream.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close leaves the channel and releases resources.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}
