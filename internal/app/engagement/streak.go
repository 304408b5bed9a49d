// Package engagement implements the progression engine: leveling curve, XP
// calculator, streak tracker, achievement evaluator, challenge tracker and
// the award orchestrator that composes them inside one transaction.
package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/store"
)

// AdvanceStreak applies one qualifying action on today to a streak.
// Same day: unchanged. Yesterday: +1. Any gap or no history: reset to 1.
// advanced is false only for the same-day case; LastActiveDate moves only
// when advanced is true.
func AdvanceStreak(st domain.StreakState, today domain.Date) (next domain.StreakState, advanced bool) {
	if !st.LastActiveDate.IsZero() && st.LastActiveDate == today {
		return st, false
	}

	if !st.LastActiveDate.IsZero() && st.LastActiveDate.AddDays(1) == today {
		st.Current++
	} else {
		st.Current = 1
	}
	if st.Current > st.Longest {
		st.Longest = st.Current
	}
	st.LastActiveDate = today
	return st, true
}

// StreakMultiplier returns the display multiplier for a streak (1.0 + rate).
func (p Policy) StreakMultiplier(streak int) float64 {
	return 1.0 + p.StreakRate(streak)
}

// streakOf extracts the streak fields of a profile.
func streakOf(p *domain.Profile) domain.StreakState {
	return domain.StreakState{
		Current:        p.CurrentStreak,
		Longest:        p.LongestStreak,
		LastActiveDate: p.LastActiveDate,
	}
}

// recordStreak advances and persists the profile's streak for today.
// The write is conditional on last_active_date <> today, so a same-day
// repeat can never advance it twice; in that case the stored row wins.
func recordStreak(ctx context.Context, repo *store.Repo, p *domain.Profile, today domain.Date, now time.Time) (domain.StreakState, error) {
	next, advanced := AdvanceStreak(streakOf(p), today)
	if !advanced {
		return next, nil
	}

	ok, err := repo.AdvanceStreak(ctx, p.UserID, next, now)
	if err != nil {
		return domain.StreakState{}, err
	}
	if !ok {
		fresh, err := repo.GetProfile(ctx, p.UserID)
		if err != nil {
			return domain.StreakState{}, fmt.Errorf("reload streak: %w", err)
		}
		next = streakOf(fresh)
	}

	p.CurrentStreak = next.Current
	p.LongestStreak = next.Longest
	p.LastActiveDate = next.LastActiveDate
	return next, nil
}
