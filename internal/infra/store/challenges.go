package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
)

const challengeColumns = `id, user_id, template_id, periodicity, metric, description,
	period_start, target, progress, completed, xp_reward, xp_awarded, completed_at`

// InsertChallengeInstance creates an instance unless one already exists for
// (user, template, period). Reports whether this call created it.
func (r *Repo) InsertChallengeInstance(ctx context.Context, c domain.ChallengeInstance) (bool, error) {
	res, err := r.exec(ctx,
		`INSERT INTO challenge_instances (`+challengeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, template_id, period_start) DO NOTHING`,
		c.ID, c.UserID, c.TemplateID, string(c.Periodicity), string(c.Metric),
		c.Description, c.PeriodStart.String(), c.Target, c.Progress,
		boolInt(c.Completed), c.RewardXP, c.XPAwarded, nullableUnix(c.CompletedAt),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert challenge: %w", err)
	}
	return affected(res)
}

// ChallengeInstances returns a user's instances for one period.
func (r *Repo) ChallengeInstances(ctx context.Context, userID string, p domain.Periodicity, periodStart domain.Date) ([]domain.ChallengeInstance, error) {
	rows, err := r.query(ctx,
		`SELECT `+challengeColumns+` FROM challenge_instances
		 WHERE user_id = ? AND periodicity = ? AND period_start = ?
		 ORDER BY template_id`,
		userID, string(p), periodStart.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.ChallengeInstance
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetChallengeInstance reads one instance by id.
func (r *Repo) GetChallengeInstance(ctx context.Context, id string) (*domain.ChallengeInstance, error) {
	row := r.queryRow(ctx, `SELECT `+challengeColumns+` FROM challenge_instances WHERE id = ?`, id)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("challenge instance %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

// AddContribution records that sourceKey counted toward an instance.
// Reports false if it already had.
func (r *Repo) AddContribution(ctx context.Context, instanceID, sourceKey string, now time.Time) (bool, error) {
	res, err := r.exec(ctx,
		`INSERT INTO challenge_contributions (instance_id, source_key, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (instance_id, source_key) DO NOTHING`,
		instanceID, sourceKey, now.Unix(),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add contribution: %w", err)
	}
	return affected(res)
}

// IncrementChallengeProgress adds delta to an open instance, clamped at target.
func (r *Repo) IncrementChallengeProgress(ctx context.Context, id string, delta int64) error {
	q := fmt.Sprintf(
		`UPDATE challenge_instances SET progress = %s(progress + ?, target)
		 WHERE id = ? AND completed = 0`, r.dialect.least())
	if _, err := r.exec(ctx, q, delta, id); err != nil {
		return fmt.Errorf("increment challenge: %w", err)
	}
	return nil
}

// RaiseChallengeProgress sets progress to value if that is higher, clamped at
// target. Progress never decreases.
func (r *Repo) RaiseChallengeProgress(ctx context.Context, id string, value int64) error {
	q := fmt.Sprintf(
		`UPDATE challenge_instances SET progress = %s(%s(progress, ?), target)
		 WHERE id = ? AND completed = 0`, r.dialect.least(), r.dialect.greatest())
	if _, err := r.exec(ctx, q, value, id); err != nil {
		return fmt.Errorf("raise challenge: %w", err)
	}
	return nil
}

// CompleteChallenge flips an instance to completed and sets xp_awarded in one
// statement. Reports true only for the single call that performs the flip.
func (r *Repo) CompleteChallenge(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.exec(ctx,
		`UPDATE challenge_instances
		 SET completed = 1, xp_awarded = xp_reward, completed_at = ?
		 WHERE id = ? AND completed = 0 AND progress >= target`,
		now.Unix(), id,
	)
	if err != nil {
		return false, fmt.Errorf("complete challenge: %w", err)
	}
	return affected(res)
}

func scanChallenge(s scanner) (*domain.ChallengeInstance, error) {
	var c domain.ChallengeInstance
	var periodicity, metric, periodStart string
	var completedAt sql.NullInt64

	err := s.Scan(&c.ID, &c.UserID, &c.TemplateID, &periodicity, &metric, &c.Description,
		&periodStart, &c.Target, &c.Progress, &c.Completed, &c.RewardXP, &c.XPAwarded,
		&completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}

	c.Periodicity = domain.Periodicity(periodicity)
	c.Metric = domain.Metric(metric)
	d, err := domain.ParseDate(periodStart)
	if err != nil {
		return nil, err
	}
	c.PeriodStart = d
	c.CompletedAt = timePtr(completedAt)
	return &c, nil
}
