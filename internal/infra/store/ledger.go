package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
)

const ledgerColumns = `id, user_id, source_type, source_id, base_xp, streak_bonus,
	multiplier_bonus, total_xp, counters, created_at, reversed_at`

// GetLedgerEntry returns the ledger row for a source, reversed or not.
// Returns (nil, nil) if none exists.
func (r *Repo) GetLedgerEntry(ctx context.Context, userID string, src domain.SourceType, sourceID string) (*domain.LedgerEntry, error) {
	row := r.queryRow(ctx,
		`SELECT `+ledgerColumns+` FROM xp_ledger
		 WHERE user_id = ? AND source_type = ? AND source_id = ?`,
		userID, string(src), sourceID,
	)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// InsertLedgerEntry records a new grant. A duplicate source yields
// domain.ErrConflict.
func (r *Repo) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	counters, err := json.Marshal(e.Counters)
	if err != nil {
		return fmt.Errorf("encode counters: %w", err)
	}
	_, err = r.exec(ctx,
		`INSERT INTO xp_ledger (`+ledgerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.SourceType), e.SourceID, e.BaseXP, e.StreakBonus,
		e.MultiplierBonus, e.TotalXP, string(counters), e.CreatedAt.Unix(),
		nullableUnix(e.ReversedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ReactivateLedgerEntry overwrites a reversed row with a fresh grant for the
// same source. The row takes e.ID, so every activation has its own id.
// Returns domain.ErrConflict if the row is still active.
func (r *Repo) ReactivateLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	counters, err := json.Marshal(e.Counters)
	if err != nil {
		return fmt.Errorf("encode counters: %w", err)
	}
	res, err := r.exec(ctx,
		`UPDATE xp_ledger
		 SET id = ?, base_xp = ?, streak_bonus = ?, multiplier_bonus = ?, total_xp = ?,
		     counters = ?, created_at = ?, reversed_at = NULL
		 WHERE user_id = ? AND source_type = ? AND source_id = ? AND reversed_at IS NOT NULL`,
		e.ID, e.BaseXP, e.StreakBonus, e.MultiplierBonus, e.TotalXP, string(counters),
		e.CreatedAt.Unix(), e.UserID, string(e.SourceType), e.SourceID,
	)
	if err != nil {
		return fmt.Errorf("reactivate ledger entry: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConflict
	}
	return nil
}

// ReverseLedgerEntry marks an active row reversed. Reports false if there
// was no active row.
func (r *Repo) ReverseLedgerEntry(ctx context.Context, userID string, src domain.SourceType, sourceID string, now time.Time) (bool, error) {
	res, err := r.exec(ctx,
		`UPDATE xp_ledger SET reversed_at = ?
		 WHERE user_id = ? AND source_type = ? AND source_id = ? AND reversed_at IS NULL`,
		now.Unix(), userID, string(src), sourceID,
	)
	if err != nil {
		return false, fmt.Errorf("reverse ledger entry: %w", err)
	}
	return affected(res)
}

// LedgerEntries returns a user's most recent ledger rows.
func (r *Repo) LedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.query(ctx,
		`SELECT `+ledgerColumns+` FROM xp_ledger WHERE user_id = ?
		 ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ActiveXP sums total_xp over a user's active ledger rows. It equals the
// profile's xp_total as long as no deduction hit the zero floor.
func (r *Repo) ActiveXP(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	err := r.queryRow(ctx,
		`SELECT SUM(total_xp) FROM xp_ledger WHERE user_id = ? AND reversed_at IS NULL`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return total.Int64, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var src, counters string
	var createdAt int64
	var reversedAt sql.NullInt64

	err := s.Scan(&e.ID, &e.UserID, &src, &e.SourceID, &e.BaseXP, &e.StreakBonus,
		&e.MultiplierBonus, &e.TotalXP, &counters, &createdAt, &reversedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}

	e.SourceType = domain.SourceType(src)
	if counters != "" && counters != "null" {
		if err := json.Unmarshal([]byte(counters), &e.Counters); err != nil {
			return nil, fmt.Errorf("decode counters: %w", err)
		}
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.ReversedAt = timePtr(reversedAt)
	return &e, nil
}
