package channel

import (
	"context"
	"testing"
	"time"

	"tribeat/internal/models"
)

func testMember(connID string, userID int64) Member {
	return Member{
		ConnID: connID,
		Identity: models.Identity{
			UserID: userID,
			Name:   "user",
			Role:   models.RoleParticipant,
		},
	}
}

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestLocalTransportPublishReachesSubscribers(t *testing.T) {
	hub := NewLocalTransport()
	ctx := context.Background()
	name := Name("s1")

	subA, err := hub.Subscribe(ctx, name, testMember("a", 1))
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer subA.Close()
	subB, err := hub.Subscribe(ctx, name, testMember("b", 2))
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer subB.Close()

	// A sees B join.
	joined := recvEvent(t, subA)
	if joined.Kind != KindJoined {
		t.Fatalf("expected joined event, got %s", joined.Kind)
	}

	want := Event{SessionID: "s1", Kind: KindSeek, Timestamp: 42, Payload: SeekPayload{CurrentTime: 7}}
	if err := hub.Publish(ctx, name, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, sub := range []*Subscription{subA, subB} {
		got := recvEvent(t, sub)
		if got != want {
			t.Fatalf("got %+v want %+v", got, want)
		}
	}
}

func TestLocalTransportPresence(t *testing.T) {
	hub := NewLocalTransport()
	ctx := context.Background()
	name := Name("s2")

	subA, err := hub.Subscribe(ctx, name, testMember("a", 1))
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	subB, err := hub.Subscribe(ctx, name, testMember("b", 2))
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer subB.Close()

	members, err := hub.Presence(ctx, name)
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	subA.Close()
	members, err = hub.Presence(ctx, name)
	if err != nil {
		t.Fatalf("presence after leave: %v", err)
	}
	if len(members) != 1 || members[0].ConnID != "b" {
		t.Fatalf("expected only b present, got %+v", members)
	}

	// B learns that A left.
	for {
		evt := recvEvent(t, subB)
		if evt.Kind == KindLeft {
			p := evt.Payload.(PresencePayload)
			if p.UserID != 1 {
				t.Fatalf("left payload for wrong user: %+v", p)
			}
			break
		}
	}
}

func TestLocalTransportCloseStopsDelivery(t *testing.T) {
	hub := NewLocalTransport()
	ctx := context.Background()
	name := Name("s3")

	sub, err := hub.Subscribe(ctx, name, testMember("a", 1))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close()

	if err := hub.Publish(ctx, name, Event{SessionID: "s3", Kind: KindPlay, Payload: PlayPayload{}}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("received event after close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("expected closed events channel")
	}
}

func TestLocalTransportSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewLocalTransport()
	ctx := context.Background()
	name := Name("s4")

	sub, err := hub.Subscribe(ctx, name, testMember("a", 1))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	// Never drained; publishes past the buffer must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			_ = hub.Publish(ctx, name, Event{SessionID: "s4", Kind: KindSeek, Timestamp: int64(i), Payload: SeekPayload{}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher blocked on slow subscriber")
	}
}
