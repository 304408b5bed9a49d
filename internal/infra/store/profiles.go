package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
)

const profileColumns = `user_id, xp_total, level, current_streak, longest_streak,
	last_active_date, permanent_xp_bonus, tasks_completed, high_priority_completed,
	habits_completed, focus_sessions, focus_minutes, long_focus_sessions, referrals,
	early_bird_tasks, night_owl_tasks, challenges_completed, created_at, updated_at`

// counterColumns maps each lifetime counter to its column. Only names in
// this map are ever interpolated into SQL.
var counterColumns = func() map[domain.Counter]string {
	m := make(map[domain.Counter]string, len(domain.AllCounters))
	for _, c := range domain.AllCounters {
		m[c] = string(c)
	}
	return m
}()

// EnsureProfile creates the default profile row if it does not exist.
func (r *Repo) EnsureProfile(ctx context.Context, userID string, now time.Time) error {
	_, err := r.exec(ctx,
		`INSERT INTO profiles (user_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

// GetProfile reads a profile. Returns domain.ErrProfileNotFound when absent.
func (r *Repo) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := r.queryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	return scanProfile(row)
}

// LockProfile reads a profile and, on postgres, row-locks it until the
// surrounding transaction ends.
func (r *Repo) LockProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := r.queryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`+r.dialect.forUpdate(),
		userID,
	)
	return scanProfile(row)
}

// SetLevel overwrites the stored level.
func (r *Repo) SetLevel(ctx context.Context, userID string, level int, now time.Time) error {
	res, err := r.exec(ctx,
		`UPDATE profiles SET level = ?, updated_at = ? WHERE user_id = ?`,
		level, now.Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrProfileNotFound
	}
	return nil
}

// AdvanceStreak persists st only if the stored last_active_date is not
// already today. Reports whether the row changed.
func (r *Repo) AdvanceStreak(ctx context.Context, userID string, st domain.StreakState, now time.Time) (bool, error) {
	res, err := r.exec(ctx,
		`UPDATE profiles
		 SET current_streak = ?, longest_streak = ?, last_active_date = ?, updated_at = ?
		 WHERE user_id = ? AND (last_active_date IS NULL OR last_active_date <> ?)`,
		st.Current, st.Longest, st.LastActiveDate.String(), now.Unix(),
		userID, st.LastActiveDate.String(),
	)
	if err != nil {
		return false, fmt.Errorf("advance streak: %w", err)
	}
	return affected(res)
}

// AddXP atomically applies delta, floored at zero, and returns the new total.
// No prior read is needed.
func (r *Repo) AddXP(ctx context.Context, userID string, delta int64, now time.Time) (int64, error) {
	q := fmt.Sprintf(
		`UPDATE profiles SET xp_total = %s(xp_total + ?, 0), updated_at = ?
		 WHERE user_id = ? RETURNING xp_total`, r.dialect.greatest())

	var total int64
	err := r.queryRow(ctx, q, delta, now.Unix(), userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add xp: %w", err)
	}
	return total, nil
}

// AddCounters applies counter deltas, flooring each column at zero.
func (r *Repo) AddCounters(ctx context.Context, userID string, deltas domain.Counters, now time.Time) error {
	if len(deltas) == 0 {
		return nil
	}

	var sets []string
	var args []any
	for _, c := range domain.AllCounters {
		d, ok := deltas[c]
		if !ok || d == 0 {
			continue
		}
		col := counterColumns[c]
		sets = append(sets, fmt.Sprintf("%s = %s(%s + ?, 0)", col, r.dialect.greatest(), col))
		args = append(args, d)
	}
	for c := range deltas {
		if _, ok := counterColumns[c]; !ok {
			return fmt.Errorf("add counters: unknown counter %q", c)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, now.Unix(), userID)

	_, err := r.exec(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE user_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("add counters: %w", err)
	}
	return nil
}

// AddPermanentBonus raises the permanent XP multiplier by inc, capped at max,
// and returns the new value.
func (r *Repo) AddPermanentBonus(ctx context.Context, userID string, inc, max float64, now time.Time) (float64, error) {
	q := fmt.Sprintf(
		`UPDATE profiles SET permanent_xp_bonus = %s(permanent_xp_bonus + ?, ?), updated_at = ?
		 WHERE user_id = ? RETURNING permanent_xp_bonus`, r.dialect.least())

	var bonus float64
	err := r.queryRow(ctx, q, inc, max, now.Unix(), userID).Scan(&bonus)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add permanent bonus: %w", err)
	}
	return bonus, nil
}

func scanProfile(s scanner) (*domain.Profile, error) {
	var p domain.Profile
	var lastActive sql.NullString
	var createdAt, updatedAt int64
	vals := make([]int64, len(domain.AllCounters))

	dest := []any{
		&p.UserID, &p.XPTotal, &p.Level, &p.CurrentStreak, &p.LongestStreak,
		&lastActive, &p.PermanentXPBonus,
	}
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	dest = append(dest, &createdAt, &updatedAt)

	err := s.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	if lastActive.Valid {
		d, err := domain.ParseDate(lastActive.String)
		if err != nil {
			return nil, err
		}
		p.LastActiveDate = d
	}
	p.Counters = make(domain.Counters, len(vals))
	for i, c := range domain.AllCounters {
		p.Counters[c] = vals[i]
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
