package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"tribeat/internal/redis"
)

const presenceKeyPrefix = "presence:"

// RedisTransport implements Transport over redis pub/sub. Presence is kept
// in a hash per channel so any process can list members without holding a
// subscription.
type RedisTransport struct {
	client *redis.Client
}

func NewRedisTransport(client *redis.Client) (*RedisTransport, error) {
	if client == nil || client.Raw() == nil {
		return nil, errors.New("redis client required")
	}
	return &RedisTransport{client: client}, nil
}

// Publish broadcasts the event on the redis channel.
func (t *RedisTransport) Publish(ctx context.Context, channel string, evt Event) error {
	payload, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := t.client.Raw().Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Join(ErrTransportUnavailable, err)
	}
	return nil
}

// ErrTransportUnavailable marks pub/sub failures so callers can degrade to
// the local simulation mode instead of failing the whole request.
var ErrTransportUnavailable = errors.New("pub/sub transport unavailable")

// Subscribe attaches to the redis channel, records presence, and announces
// the join.
func (t *RedisTransport) Subscribe(ctx context.Context, channel string, member Member) (*Subscription, error) {
	raw := t.client.Raw()
	pubsub := raw.Subscribe(ctx, channel)
	// Force the SUBSCRIBE round-trip so a dead broker fails here, not on
	// first receive.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Join(ErrTransportUnavailable, err)
	}

	memberJSON, err := json.Marshal(member)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	if err := t.client.HSet(ctx, presenceKeyPrefix+channel, member.ConnID, memberJSON); err != nil {
		_ = pubsub.Close()
		return nil, errors.Join(ErrTransportUnavailable, err)
	}

	sub := newSubscription(0, func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := t.client.HDel(cleanupCtx, presenceKeyPrefix+channel, member.ConnID); err != nil {
			log.Printf("channel: presence cleanup failed for %s: %v", channel, err)
		}
		_ = t.Publish(cleanupCtx, channel, presenceEvent(KindLeft, channel, member))
		_ = pubsub.Close()
	})

	go func() {
		// pubsub.Close() in the unsubscribe path ends this loop; the
		// subscription channel closes after the last buffered message.
		for msg := range pubsub.Channel() {
			evt, err := Decode([]byte(msg.Payload))
			if err != nil {
				log.Printf("channel: dropping undecodable event on %s: %v", channel, err)
				continue
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
		close(sub.ch)
	}()

	if err := t.Publish(ctx, channel, presenceEvent(KindJoined, channel, member)); err != nil {
		log.Printf("channel: join announce failed for %s: %v", channel, err)
	}
	return sub, nil
}

// Presence lists the members recorded in the channel's presence hash.
func (t *RedisTransport) Presence(ctx context.Context, channel string) ([]Member, error) {
	fields, err := t.client.HGetAll(ctx, presenceKeyPrefix+channel)
	if err != nil {
		return nil, errors.Join(ErrTransportUnavailable, err)
	}
	members := make([]Member, 0, len(fields))
	for connID, raw := range fields {
		var m Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			log.Printf("channel: dropping corrupt presence record %s on %s: %v", connID, channel, err)
			continue
		}
		members = append(members, m)
	}
	return members, nil
}
