package channel

import (
	"encoding/json"
	"fmt"

	"tribeat/internal/models"
)

// Kind identifies one control-event type on the wire. The set is closed:
// decoding any other kind fails.
type Kind string

const (
	KindPlay   Kind = "playback:play"
	KindPause  Kind = "playback:pause"
	KindSeek   Kind = "playback:seek"
	KindVolume Kind = "playback:volume"
	KindEnd    Kind = "session:end"
	KindState  Kind = "state:update"
	KindJoined Kind = "participant:joined"
	KindLeft   Kind = "participant:left"
)

// Mutating reports whether the kind changes live state when submitted.
func (k Kind) Mutating() bool {
	switch k {
	case KindPlay, KindPause, KindSeek, KindVolume, KindEnd:
		return true
	default:
		return false
	}
}

const channelPrefix = "presence-session-"

// Name derives the logical channel for a session. Server and client compute
// it independently; both sides must agree, so keep this a pure function.
func Name(sessionID string) string {
	return channelPrefix + sessionID
}

// SessionID inverts Name. ok is false for channels outside the session
// naming scheme.
func SessionID(channel string) (string, bool) {
	if len(channel) > len(channelPrefix) && channel[:len(channelPrefix)] == channelPrefix {
		return channel[len(channelPrefix):], true
	}
	return "", false
}

type PlayPayload struct {
	CurrentTime float64 `json:"current_time"`
}

type PausePayload struct {
	CurrentTime float64 `json:"current_time"`
}

type SeekPayload struct {
	CurrentTime float64 `json:"current_time"`
}

type VolumePayload struct {
	Volume int `json:"volume"`
}

type EndPayload struct{}

type StatePayload struct {
	State models.LiveState `json:"state"`
}

type PresencePayload struct {
	UserID int64       `json:"user_id"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
}

// Event is one message on a session channel. Payload holds the concrete
// payload type for Kind; Decode guarantees the pairing.
type Event struct {
	SessionID string `json:"session_id"`
	Kind      Kind   `json:"kind"`
	// Timestamp is assigned by the server (unix milliseconds) when the
	// event is accepted; clients use it for drift correction.
	Timestamp int64 `json:"timestamp"`
	Payload   any   `json:"payload"`
}

type envelope struct {
	SessionID string          `json:"session_id"`
	Kind      Kind            `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode serializes the event for the wire.
func Encode(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", evt.Kind, err)
	}
	return json.Marshal(envelope{
		SessionID: evt.SessionID,
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp,
		Payload:   payload,
	})
}

// Decode parses a wire message into a typed event. Unknown kinds are
// rejected rather than silently ignored.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}

	evt := Event{
		SessionID: env.SessionID,
		Kind:      env.Kind,
		Timestamp: env.Timestamp,
	}

	switch env.Kind {
	case KindPlay:
		var p PlayPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		evt.Payload = p
	case KindPause:
		var p PausePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		evt.Payload = p
	case KindSeek:
		var p SeekPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		evt.Payload = p
	case KindVolume:
		var p VolumePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		evt.Payload = p
	case KindEnd:
		evt.Payload = EndPayload{}
	case KindState:
		var p StatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		evt.Payload = p
	case KindJoined, KindLeft:
		var p PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		evt.Payload = p
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return evt, nil
}
