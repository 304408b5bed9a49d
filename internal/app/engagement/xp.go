package engagement

import (
	"fmt"
	"math"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
)

// Policy holds the XP rules. Every action of a kind is worth the same base;
// task priority never scales XP.
type Policy struct {
	TaskXP            int64   `toml:"task_xp" json:"task_xp"`
	HabitXP           int64   `toml:"habit_xp" json:"habit_xp"`
	ReferralXP        int64   `toml:"referral_xp" json:"referral_xp"`
	FocusXPPerMinute  int64   `toml:"focus_xp_per_minute" json:"focus_xp_per_minute"`
	FocusMinRatio     float64 `toml:"focus_min_ratio" json:"focus_min_ratio"`
	MaxSessionMinutes int     `toml:"max_session_minutes" json:"max_session_minutes"`
	LongFocusMinutes  int     `toml:"long_focus_minutes" json:"long_focus_minutes"`
	StreakBonusPerDay float64 `toml:"streak_bonus_per_day" json:"streak_bonus_per_day"`
	StreakBonusCap    float64 `toml:"streak_bonus_cap" json:"streak_bonus_cap"`
	MaxPermanentBonus float64 `toml:"max_permanent_bonus" json:"max_permanent_bonus"`
	MaxMultiplier     float64 `toml:"max_multiplier" json:"max_multiplier"`
	EarlyBirdHour     int     `toml:"early_bird_hour" json:"early_bird_hour"` // tasks before this hour
	NightOwlHour      int     `toml:"night_owl_hour" json:"night_owl_hour"`   // tasks at or after this hour
}

// DefaultPolicy returns the production XP rules.
func DefaultPolicy() Policy {
	return Policy{
		TaskXP:            15,
		HabitXP:           10,
		ReferralXP:        100,
		FocusXPPerMinute:  1,
		FocusMinRatio:     0.5,
		MaxSessionMinutes: 480,
		LongFocusMinutes:  90,
		StreakBonusPerDay: 0.05,
		StreakBonusCap:    0.5,
		MaxPermanentBonus: 1.5,
		MaxMultiplier:     2.0,
		EarlyBirdHour:     8,
		NightOwlHour:      22,
	}
}

// Validate rejects negative amounts and out-of-range ratios.
func (p Policy) Validate() error {
	switch {
	case p.TaskXP < 0 || p.HabitXP < 0 || p.ReferralXP < 0 || p.FocusXPPerMinute < 0:
		return fmt.Errorf("base XP values must not be negative")
	case p.FocusMinRatio < 0 || p.FocusMinRatio > 1:
		return fmt.Errorf("focus_min_ratio must be within [0, 1], got %v", p.FocusMinRatio)
	case p.MaxSessionMinutes <= 0:
		return fmt.Errorf("max_session_minutes must be positive, got %d", p.MaxSessionMinutes)
	case p.StreakBonusPerDay < 0 || p.StreakBonusCap < 0:
		return fmt.Errorf("streak bonus values must not be negative")
	case p.MaxPermanentBonus < 1:
		return fmt.Errorf("max_permanent_bonus must be at least 1, got %v", p.MaxPermanentBonus)
	case p.MaxMultiplier < 1:
		return fmt.Errorf("max_multiplier must be at least 1, got %v", p.MaxMultiplier)
	case p.EarlyBirdHour < 0 || p.EarlyBirdHour > 24 || p.NightOwlHour < 0 || p.NightOwlHour > 24:
		return fmt.Errorf("early_bird_hour and night_owl_hour must be within [0, 24]")
	}
	return nil
}

// Credit is the base value of one action before streak and permanent bonuses.
type Credit struct {
	BaseXP          int64
	CompletionRatio float64 // focus only
	CreditedMinutes int     // focus only
	BelowThreshold  bool
}

// CreditFor computes the base XP of an action at server time now.
// Focus sessions are pro-rated from the stored start time; a session under
// FocusMinRatio earns nothing and is reported as BelowThreshold.
func (p Policy) CreditFor(a domain.Action, now time.Time) (Credit, error) {
	switch act := a.(type) {
	case domain.TaskCompleted:
		return Credit{BaseXP: p.TaskXP}, nil
	case domain.HabitCompleted:
		return Credit{BaseXP: p.HabitXP}, nil
	case domain.ReferralCompleted:
		return Credit{BaseXP: p.ReferralXP}, nil
	case domain.FocusCompleted:
		return p.focusCredit(act, now)
	default:
		return Credit{}, domain.Invalid("action", fmt.Sprintf("unsupported type %T", a))
	}
}

func (p Policy) focusCredit(a domain.FocusCompleted, now time.Time) (Credit, error) {
	if a.PlannedMinutes <= 0 {
		return Credit{}, domain.Invalid("planned_minutes", "must be positive")
	}
	if a.StartedAt.IsZero() {
		return Credit{}, domain.Invalid("started_at", "is unknown")
	}
	if a.PlannedMinutes > p.MaxSessionMinutes {
		return Credit{}, domain.Invalid("planned_minutes",
			fmt.Sprintf("exceeds maximum of %d", p.MaxSessionMinutes))
	}
	if a.StartedAt.After(now) {
		return Credit{}, domain.Invalid("started_at", "is in the future")
	}

	planned := time.Duration(a.PlannedMinutes) * time.Minute
	elapsed := now.Sub(a.StartedAt)
	if elapsed > planned {
		elapsed = planned
	}
	ratio := float64(elapsed) / float64(planned)

	c := Credit{
		CompletionRatio: ratio,
		CreditedMinutes: int(elapsed / time.Minute),
	}
	if ratio < p.FocusMinRatio {
		c.BelowThreshold = true
		c.CreditedMinutes = 0
		return c, nil
	}
	c.BaseXP = int64(math.Round(float64(p.FocusXPPerMinute*int64(a.PlannedMinutes)) * ratio))
	return c, nil
}

// StreakRate returns the streak bonus fraction: StreakBonusPerDay for every
// day after the first, capped at StreakBonusCap.
func (p Policy) StreakRate(streak int) float64 {
	if streak <= 1 {
		return 0
	}
	return math.Min(p.StreakBonusPerDay*float64(streak-1), p.StreakBonusCap)
}

// Calculate applies the streak bonus and then the permanent multiplier to a
// base amount. The total never exceeds round(base * MaxMultiplier).
func (p Policy) Calculate(base int64, streak int, permanentBonus float64) domain.XPBreakdown {
	mult := math.Max(1.0, math.Min(permanentBonus, p.MaxPermanentBonus))
	rate := p.StreakRate(streak)
	bd := domain.XPBreakdown{
		BaseXP:     base,
		StreakRate: rate,
		Multiplier: mult,
	}
	if base <= 0 {
		bd.BaseXP = 0
		return bd
	}

	streakBonus := int64(math.Round(float64(base) * rate))
	total := int64(math.Round(float64(base+streakBonus) * mult))

	if limit := int64(math.Round(float64(base) * p.MaxMultiplier)); total > limit {
		total = limit
		bd.Capped = true
	}
	if total-base < streakBonus {
		streakBonus = total - base
	}

	bd.StreakBonus = streakBonus
	bd.MultiplierBonus = total - base - streakBonus
	bd.TotalXP = total
	return bd
}

// countersFor returns the lifetime counter deltas an action contributes.
func (p Policy) countersFor(a domain.Action, c Credit, now time.Time) domain.Counters {
	out := domain.Counters{}
	switch act := a.(type) {
	case domain.TaskCompleted:
		out[domain.CounterTasks] = 1
		if act.HighPriority {
			out[domain.CounterHighPriority] = 1
		}
		hour := now.Hour()
		if hour < p.EarlyBirdHour {
			out[domain.CounterEarlyBird] = 1
		}
		if hour >= p.NightOwlHour {
			out[domain.CounterNightOwl] = 1
		}
	case domain.HabitCompleted:
		out[domain.CounterHabits] = 1
	case domain.FocusCompleted:
		out[domain.CounterFocusSessions] = 1
		out[domain.CounterFocusMinutes] = int64(c.CreditedMinutes)
		if p.LongFocusMinutes > 0 && c.CreditedMinutes >= p.LongFocusMinutes {
			out[domain.CounterLongFocus] = 1
		}
	case domain.ReferralCompleted:
		out[domain.CounterReferrals] = 1
	}
	return out
}
