package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tribeat/internal/models"

	"github.com/google/uuid"
)

// CreateSession inserts a new scheduled session owned by the coach.
func (s *Service) CreateSession(ctx context.Context, coachID int64, title, mediaURL, mediaType string, isPublic bool, scheduledAt *time.Time) (*models.Session, error) {
	if coachID <= 0 {
		return nil, errors.New("coach_id is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title cannot be empty")
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:          uuid.NewString(),
		CoachID:     coachID,
		Title:       title,
		Status:      models.SessionScheduled,
		MediaURL:    mediaURL,
		MediaType:   mediaType,
		IsPublic:    isPublic,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, coach_id, title, status, media_url, media_type, is_public, scheduled_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CoachID, sess.Title, sess.Status, sess.MediaURL, sess.MediaType, sess.IsPublic, sess.ScheduledAt, sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession returns one session by id. sql.ErrNoRows when absent.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, coach_id, title, status, media_url, media_type, is_public, scheduled_at, started_at, ended_at, created_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.CoachID, &sess.Title, &sess.Status, &sess.MediaURL, &sess.MediaType,
		&sess.IsPublic, &sess.ScheduledAt, &sess.StartedAt, &sess.EndedAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// ListSessionsForCoach returns the coach's sessions newest first.
func (s *Service) ListSessionsForCoach(ctx context.Context, coachID int64) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, coach_id, title, status, media_url, media_type, is_public, scheduled_at, started_at, ended_at, created_at
		 FROM sessions WHERE coach_id = ? ORDER BY created_at DESC`, coachID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.CoachID, &sess.Title, &sess.Status, &sess.MediaURL, &sess.MediaType,
			&sess.IsPublic, &sess.ScheduledAt, &sess.StartedAt, &sess.EndedAt, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Enroll adds the user as a participant of the session. Enrolling twice is a
// no-op.
func (s *Service) Enroll(ctx context.Context, sessionID string, userID int64) error {
	if sessionID == "" || userID <= 0 {
		return errors.New("session id and user id are required")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, sessionID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("verify session: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_participants (session_id, user_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id, user_id) DO NOTHING`,
		sessionID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("enroll participant: %w", err)
	}
	return nil
}

// IsEnrolled reports whether the user is a participant of the session.
func (s *Service) IsEnrolled(ctx context.Context, sessionID string, userID int64) (bool, error) {
	var enrolled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM session_participants WHERE session_id = ? AND user_id = ?)`,
		sessionID, userID,
	).Scan(&enrolled)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return enrolled, nil
}

// CanAccess reports whether the identity may attach to the session channel.
// Access is always derived from the store, never from transport presence.
func (s *Service) CanAccess(ctx context.Context, sess *models.Session, identity models.Identity) (bool, error) {
	if sess == nil {
		return false, errors.New("session required")
	}
	if identity.Role.Elevated() || sess.CoachID == identity.UserID {
		return true, nil
	}
	if sess.IsPublic && sess.Status == models.SessionLive {
		return true, nil
	}
	return s.IsEnrolled(ctx, sess.ID, identity.UserID)
}

// CanControl reports whether the identity may issue control events for the
// session. Only the owning coach and elevated roles qualify.
func (s *Service) CanControl(sess *models.Session, identity models.Identity) bool {
	if sess == nil {
		return false
	}
	return identity.Role.Elevated() || sess.CoachID == identity.UserID
}

// MarkLive promotes a scheduled session to LIVE and stamps started_at. Calling
// it on a session already live is a no-op.
func (s *Service) MarkLive(ctx context.Context, sessionID string, at time.Time) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		models.SessionLive, at.UTC(), sessionID, models.SessionScheduled,
	)
	if err != nil {
		return fmt.Errorf("mark session live: %w", err)
	}
	return nil
}

// MarkCompleted moves the session to COMPLETED and stamps ended_at.
func (s *Service) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		models.SessionCompleted, at.UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
