package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tribeat/internal/models"
)

// GetLiveState loads the persisted live state for the session.
// sql.ErrNoRows when the session has seen no control events yet.
func (s *Service) GetLiveState(ctx context.Context, sessionID string) (*models.LiveState, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	var state models.LiveState
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, is_playing, position_sec, volume, ended, last_event_at
		 FROM live_states WHERE session_id = ?`, sessionID,
	).Scan(&state.SessionID, &state.IsPlaying, &state.CurrentTime, &state.Volume, &state.Ended, &state.LastEventAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get live state: %w", err)
	}
	return &state, nil
}

// SaveLiveState upserts the live state row for the session.
func (s *Service) SaveLiveState(ctx context.Context, state *models.LiveState) error {
	if state == nil || state.SessionID == "" {
		return errors.New("live state with session id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO live_states (session_id, is_playing, position_sec, volume, ended, last_event_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   is_playing = excluded.is_playing,
		   position_sec = excluded.position_sec,
		   volume = excluded.volume,
		   ended = excluded.ended,
		   last_event_at = excluded.last_event_at`,
		state.SessionID, state.IsPlaying, state.CurrentTime, state.Volume, state.Ended, state.LastEventAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save live state: %w", err)
	}
	return nil
}
