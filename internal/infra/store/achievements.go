package store

import (
	"context"
	"fmt"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
)

// UnlockedAchievementIDs returns the set of achievement ids a user holds.
func (r *Repo) UnlockedAchievementIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.query(ctx,
		`SELECT achievement_id FROM achievement_unlocks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocked ids: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}

// UnlockAchievement inserts the unlock row. Reports false when the user
// already held it; that is not an error.
func (r *Repo) UnlockAchievement(ctx context.Context, u domain.AchievementUnlock) (bool, error) {
	res, err := r.exec(ctx,
		`INSERT INTO achievement_unlocks (user_id, achievement_id, xp_awarded, unlocked_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		u.UserID, u.AchievementID, u.XPAwarded, u.UnlockedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	return affected(res)
}

// ListAchievementUnlocks returns a user's unlocks, oldest first.
func (r *Repo) ListAchievementUnlocks(ctx context.Context, userID string) ([]domain.AchievementUnlock, error) {
	rows, err := r.query(ctx,
		`SELECT user_id, achievement_id, xp_awarded, unlocked_at
		 FROM achievement_unlocks WHERE user_id = ?
		 ORDER BY unlocked_at, achievement_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	defer rows.Close()

	var out []domain.AchievementUnlock
	for rows.Next() {
		var u domain.AchievementUnlock
		var at int64
		if err := rows.Scan(&u.UserID, &u.AchievementID, &u.XPAwarded, &at); err != nil {
			return nil, err
		}
		u.UnlockedAt = time.Unix(at, 0)
		out = append(out, u)
	}
	return out, rows.Err()
}
