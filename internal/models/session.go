package models

import "time"

type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionLive      SessionStatus = "LIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether the session can no longer accept control events.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Session is one scheduled live-coaching session. The core reads and writes
// it through the session service; everything else about it (booking,
// payment, exports) lives outside this codebase.
type Session struct {
	ID          string        `json:"id"`
	CoachID     int64         `json:"coach_id"`
	Title       string        `json:"title"`
	Status      SessionStatus `json:"status"`
	MediaURL    string        `json:"media_url"`
	MediaType   string        `json:"media_type"`
	IsPublic    bool          `json:"is_public"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
