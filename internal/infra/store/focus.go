package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
)

// StartFocusSession records when a session began. Reports false, leaving
// the original row untouched, if the session was already started.
func (r *Repo) StartFocusSession(ctx context.Context, s domain.FocusSession) (bool, error) {
	_, err := r.exec(ctx,
		`INSERT INTO focus_sessions (user_id, session_id, planned_minutes, started_at)
		 VALUES (?, ?, ?, ?)`,
		s.UserID, s.SessionID, s.PlannedMinutes, s.StartedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("start focus session: %w", err)
	}
	return true, nil
}

// GetFocusSession returns a started session or domain.ErrFocusSessionNotFound.
func (r *Repo) GetFocusSession(ctx context.Context, userID, sessionID string) (*domain.FocusSession, error) {
	var s domain.FocusSession
	var startedAt int64
	err := r.queryRow(ctx,
		`SELECT user_id, session_id, planned_minutes, started_at
		 FROM focus_sessions WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	).Scan(&s.UserID, &s.SessionID, &s.PlannedMinutes, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFocusSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get focus session: %w", err)
	}
	s.StartedAt = time.Unix(0, startedAt).UTC()
	return &s, nil
}
