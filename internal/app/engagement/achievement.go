package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/store"
)

// UnlockedAchievement is an achievement granted by one evaluation pass.
type UnlockedAchievement struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	Category       domain.AchievementCategory `json:"category"`
	Icon           string                     `json:"icon"`
	XPAwarded      int64                      `json:"xp_awarded"`
	BonusIncrement float64                    `json:"bonus_increment,omitempty"`
	UnlockedAt     time.Time                  `json:"unlocked_at"`
}

// AchievementResult is the outcome of CheckAll.
type AchievementResult struct {
	Unlocked       []UnlockedAchievement `json:"unlocked"`
	TotalXPAwarded int64                 `json:"total_xp_awarded"`
	BonusIncrement float64               `json:"bonus_increment,omitempty"`
}

// AchievementStatus pairs a catalog entry with the user's unlock, if any.
type AchievementStatus struct {
	domain.AchievementDef
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// AchievementEvaluator scans a fixed catalog against a committed profile
// snapshot. The unlock row is the only "already granted" guard.
type AchievementEvaluator struct {
	catalog []domain.AchievementDef
	log     zerolog.Logger
}

// NewAchievementEvaluator creates an evaluator over the given catalog.
func NewAchievementEvaluator(catalog []domain.AchievementDef, log zerolog.Logger) *AchievementEvaluator {
	return &AchievementEvaluator{catalog: catalog, log: log}
}

// CheckAll inserts an unlock row for every catalog entry the snapshot
// satisfies and the user does not hold yet. Predicates only see snap, so XP
// granted in this pass never feeds another predicate. Rewards are summed
// here and applied by the caller after the whole scan.
func (a *AchievementEvaluator) CheckAll(ctx context.Context, repo *store.Repo, snap domain.ProgressSnapshot, now time.Time) (AchievementResult, error) {
	var res AchievementResult

	held, err := repo.UnlockedAchievementIDs(ctx, snap.UserID)
	if err != nil {
		return res, err
	}
	snap.AchievementsUnlocked = len(held)

	for _, def := range a.catalog {
		if held[def.ID] {
			continue
		}
		if def.Predicate == nil || !def.Predicate(snap) {
			continue
		}

		isNew, err := repo.UnlockAchievement(ctx, domain.AchievementUnlock{
			UserID:        snap.UserID,
			AchievementID: def.ID,
			XPAwarded:     def.RewardXP,
			UnlockedAt:    now,
		})
		if err != nil {
			return res, fmt.Errorf("unlock %s: %w", def.ID, err)
		}
		if !isNew {
			a.log.Debug().Str("user_id", snap.UserID).Str("achievement", def.ID).
				Msg("achievement already granted")
			continue
		}

		res.Unlocked = append(res.Unlocked, UnlockedAchievement{
			ID:             def.ID,
			Name:           def.Name,
			Category:       def.Category,
			Icon:           def.Icon,
			XPAwarded:      def.RewardXP,
			BonusIncrement: def.BonusIncrement,
			UnlockedAt:     now,
		})
		res.TotalXPAwarded += def.RewardXP
		res.BonusIncrement += def.BonusIncrement
	}
	return res, nil
}

// Statuses returns the catalog annotated with the user's unlocks.
func (a *AchievementEvaluator) Statuses(ctx context.Context, repo *store.Repo, userID string) ([]AchievementStatus, error) {
	unlocks, err := repo.ListAchievementUnlocks(ctx, userID)
	if err != nil {
		return nil, err
	}
	at := make(map[string]time.Time, len(unlocks))
	for _, u := range unlocks {
		at[u.AchievementID] = u.UnlockedAt
	}

	out := make([]AchievementStatus, 0, len(a.catalog))
	for _, def := range a.catalog {
		s := AchievementStatus{AchievementDef: def}
		if t, ok := at[def.ID]; ok {
			t := t
			s.Unlocked = true
			s.UnlockedAt = &t
		}
		out = append(out, s)
	}
	return out, nil
}

// ─── Achievement Catalog ────────────────────────────────────────────────────

func counterAtLeast(c domain.Counter, n int64) func(domain.ProgressSnapshot) bool {
	return func(s domain.ProgressSnapshot) bool { return s.Counters.Get(c) >= n }
}

// AllAchievements returns the full achievement catalog.
func AllAchievements() []domain.AchievementDef {
	return []domain.AchievementDef{
		// ── Getting Started ────────────────────────────────────────────
		{
			ID: "first_task", Name: "First Step", Category: domain.CatGettingStarted,
			Icon: "🎯", RewardXP: 10,
			Predicate: counterAtLeast(domain.CounterTasks, 1),
		},
		{
			ID: "first_habit", Name: "Habit Forming", Category: domain.CatGettingStarted,
			Icon: "🌱", RewardXP: 10,
			Predicate: counterAtLeast(domain.CounterHabits, 1),
		},
		{
			ID: "first_focus", Name: "Deep Breath", Category: domain.CatGettingStarted,
			Icon: "🧘", RewardXP: 10,
			Predicate: counterAtLeast(domain.CounterFocusSessions, 1),
		},

		// ── Tasks ──────────────────────────────────────────────────────
		{
			ID: "tasks_10", Name: "Getting Things Done", Category: domain.CatTasks,
			Icon: "✅", RewardXP: 50,
			Predicate: counterAtLeast(domain.CounterTasks, 10),
		},
		{
			ID: "tasks_100", Name: "Centurion", Category: domain.CatTasks,
			Icon: "💯", RewardXP: 250, BonusIncrement: 0.05,
			Predicate: counterAtLeast(domain.CounterTasks, 100),
		},
		{
			ID: "high_priority_10", Name: "Priority Player", Category: domain.CatTasks,
			Icon: "🚩", RewardXP: 100,
			Predicate: counterAtLeast(domain.CounterHighPriority, 10),
		},
		{
			ID: "early_bird_5", Name: "Early Bird", Category: domain.CatTasks,
			Icon: "🌅", RewardXP: 75,
			Predicate: counterAtLeast(domain.CounterEarlyBird, 5),
		},
		{
			ID: "night_owl_5", Name: "Night Owl", Category: domain.CatTasks,
			Icon: "🦉", RewardXP: 75,
			Predicate: counterAtLeast(domain.CounterNightOwl, 5),
		},

		// ── Focus ──────────────────────────────────────────────────────
		{
			ID: "focus_10", Name: "In the Zone", Category: domain.CatFocus,
			Icon: "🎧", RewardXP: 100,
			Predicate: counterAtLeast(domain.CounterFocusSessions, 10),
		},
		{
			ID: "focus_minutes_600", Name: "Ten Hour Club", Category: domain.CatFocus,
			Icon: "⏳", RewardXP: 200, BonusIncrement: 0.05,
			Predicate: counterAtLeast(domain.CounterFocusMinutes, 600),
		},
		{
			ID: "long_focus_1", Name: "Marathoner", Category: domain.CatFocus,
			Icon: "🏃", RewardXP: 50,
			Predicate: counterAtLeast(domain.CounterLongFocus, 1),
		},

		// ── Habits ─────────────────────────────────────────────────────
		{
			ID: "habits_30", Name: "Creature of Habit", Category: domain.CatHabits,
			Icon: "🔁", RewardXP: 150,
			Predicate: counterAtLeast(domain.CounterHabits, 30),
		},
		{
			ID: "habits_200", Name: "Second Nature", Category: domain.CatHabits,
			Icon: "🌳", RewardXP: 400, BonusIncrement: 0.05,
			Predicate: counterAtLeast(domain.CounterHabits, 200),
		},

		// ── Streaks ────────────────────────────────────────────────────
		{
			ID: "streak_3", Name: "Warming Up", Category: domain.CatStreaks,
			Icon: "🔥", RewardXP: 30,
			Predicate: func(s domain.ProgressSnapshot) bool { return s.CurrentStreak >= 3 },
		},
		{
			ID: "streak_7", Name: "Week Warrior", Category: domain.CatStreaks,
			Icon: "📅", RewardXP: 100, BonusIncrement: 0.05,
			Predicate: func(s domain.ProgressSnapshot) bool { return s.CurrentStreak >= 7 },
		},
		{
			ID: "streak_30", Name: "Monthly Machine", Category: domain.CatStreaks,
			Icon: "💪", RewardXP: 500, BonusIncrement: 0.1,
			Predicate: func(s domain.ProgressSnapshot) bool { return s.LongestStreak >= 30 },
		},

		// ── Social ─────────────────────────────────────────────────────
		{
			ID: "referral_1", Name: "Recruiter", Category: domain.CatSocial,
			Icon: "🤝", RewardXP: 50,
			Predicate: counterAtLeast(domain.CounterReferrals, 1),
		},
		{
			ID: "referral_5", Name: "Community Builder", Category: domain.CatSocial,
			Icon: "🏘️", RewardXP: 250, BonusIncrement: 0.05,
			Predicate: counterAtLeast(domain.CounterReferrals, 5),
		},

		// ── Mastery ────────────────────────────────────────────────────
		{
			ID: "level_5", Name: "Rising Star", Category: domain.CatMastery,
			Icon: "⭐", RewardXP: 100,
			Predicate: func(s domain.ProgressSnapshot) bool { return s.Level >= 5 },
		},
		{
			ID: "level_10", Name: "Veteran", Category: domain.CatMastery,
			Icon: "🎖️", RewardXP: 250, BonusIncrement: 0.05,
			Predicate: func(s domain.ProgressSnapshot) bool { return s.Level >= 10 },
		},
		{
			ID: "challenges_10", Name: "Challenger", Category: domain.CatMastery,
			Icon: "🏆", RewardXP: 200,
			Predicate: counterAtLeast(domain.CounterChallengesDone, 10),
		},
		{
			ID: "collector_10", Name: "Collector", Category: domain.CatMastery,
			Icon: "🗝️", RewardXP: 150,
			Predicate: func(s domain.ProgressSnapshot) bool { return s.AchievementsUnlocked >= 10 },
		},
	}
}
