package models

import "time"

// LiveState is the authoritative replicated playback state for one session.
// There is at most one per session and only the event router mutates it.
type LiveState struct {
	SessionID   string    `json:"session_id"`
	IsPlaying   bool      `json:"is_playing"`
	CurrentTime float64   `json:"current_time"`
	Volume      int       `json:"volume"`
	Ended       bool      `json:"ended"`
	LastEventAt time.Time `json:"last_event_at"`
}

// NewLiveState returns the inert default state for a session that has seen
// no control events yet.
func NewLiveState(sessionID string, defaultVolume int) *LiveState {
	if defaultVolume <= 0 || defaultVolume > 100 {
		defaultVolume = 80
	}
	return &LiveState{
		SessionID: sessionID,
		Volume:    defaultVolume,
	}
}

// Clone returns a copy so callers can hand state across goroutines without
// sharing the router-owned instance.
func (s *LiveState) Clone() *LiveState {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
