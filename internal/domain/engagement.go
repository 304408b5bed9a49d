// Package domain holds the progression engine's pure types.
// Profiles, XP breakdowns, achievements, challenges and notifications
// carry no infrastructure dependency.
package domain

import "time"

// ─── Profile ────────────────────────────────────────────────────────────────

// Profile is the per-user progression row.
// Level must always equal LevelForXP(XPTotal); readers re-derive it.
type Profile struct {
	UserID           string    `json:"user_id"`
	XPTotal          int64     `json:"xp_total"`
	Level            int       `json:"level"`
	CurrentStreak    int       `json:"current_streak"`
	LongestStreak    int       `json:"longest_streak"`
	LastActiveDate   Date      `json:"last_active_date"`
	PermanentXPBonus float64   `json:"permanent_xp_bonus"`
	Counters         Counters  `json:"counters"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewProfile returns the lazily-created default profile.
func NewProfile(userID string, now time.Time) Profile {
	return Profile{
		UserID:           userID,
		Level:            1,
		PermanentXPBonus: 1.0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Counter names a lifetime counter column.
type Counter string

const (
	CounterTasks          Counter = "tasks_completed"
	CounterHighPriority   Counter = "high_priority_completed"
	CounterHabits         Counter = "habits_completed"
	CounterFocusSessions  Counter = "focus_sessions"
	CounterFocusMinutes   Counter = "focus_minutes"
	CounterLongFocus      Counter = "long_focus_sessions"
	CounterReferrals      Counter = "referrals"
	CounterEarlyBird      Counter = "early_bird_tasks"
	CounterNightOwl       Counter = "night_owl_tasks"
	CounterChallengesDone Counter = "challenges_completed"
)

// AllCounters lists every counter column in schema order.
var AllCounters = []Counter{
	CounterTasks, CounterHighPriority, CounterHabits, CounterFocusSessions,
	CounterFocusMinutes, CounterLongFocus, CounterReferrals, CounterEarlyBird,
	CounterNightOwl, CounterChallengesDone,
}

// Counters holds lifetime counters keyed by column. Missing keys read as 0.
type Counters map[Counter]int64

// Get returns the value of c (0 when unset).
func (c Counters) Get(name Counter) int64 {
	if c == nil {
		return 0
	}
	return c[name]
}

// Negate returns a copy with every delta sign-flipped.
func (c Counters) Negate() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = -v
	}
	return out
}

// ─── Streak ─────────────────────────────────────────────────────────────────

// StreakState is the subset of Profile the streak tracker reads and writes.
type StreakState struct {
	Current        int  `json:"current"`
	Longest        int  `json:"longest"`
	LastActiveDate Date `json:"last_active_date"`
}

// ─── XP ─────────────────────────────────────────────────────────────────────

// SourceType categorizes what an XP ledger row was granted for.
type SourceType string

const (
	SourceTask        SourceType = "task"
	SourceHabit       SourceType = "habit"
	SourceFocus       SourceType = "focus"
	SourceReferral    SourceType = "referral"
	SourceAchievement SourceType = "achievement"
	SourceChallenge   SourceType = "challenge"
)

// IsAction reports whether the source is a user action (and thus undoable).
func (s SourceType) IsAction() bool {
	switch s {
	case SourceTask, SourceHabit, SourceFocus, SourceReferral:
		return true
	default:
		return false
	}
}

// XPBreakdown is the XP value of a single action.
type XPBreakdown struct {
	BaseXP          int64   `json:"base_xp"`
	StreakBonus     int64   `json:"streak_bonus"`
	MultiplierBonus int64   `json:"multiplier_bonus"`
	TotalXP         int64   `json:"total_xp"`
	StreakRate      float64 `json:"streak_rate"`
	Multiplier      float64 `json:"multiplier"`
	Capped          bool    `json:"capped,omitempty"`
	CompletionRatio float64 `json:"completion_ratio,omitempty"`
	BelowThreshold  bool    `json:"below_threshold,omitempty"`
}

// LedgerEntry records one XP grant. The stored TotalXP and Counters are what
// an undo reverses; they are never recomputed.
type LedgerEntry struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	SourceType      SourceType `json:"source_type"`
	SourceID        string     `json:"source_id"`
	BaseXP          int64      `json:"base_xp"`
	StreakBonus     int64      `json:"streak_bonus"`
	MultiplierBonus int64      `json:"multiplier_bonus"`
	TotalXP         int64      `json:"total_xp"`
	Counters        Counters   `json:"counters,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ReversedAt      *time.Time `json:"reversed_at,omitempty"`
}

// Active reports whether the entry still counts toward the profile.
func (e LedgerEntry) Active() bool { return e.ReversedAt == nil }

// ─── Focus Sessions ─────────────────────────────────────────────────────────

// FocusSession is a focus block as the server saw it start. Completion is
// pro-rated from StartedAt, so it is only ever set by the server clock.
type FocusSession struct {
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	PlannedMinutes int       `json:"planned_minutes"`
	StartedAt      time.Time `json:"started_at"`
}

// ─── Achievements ───────────────────────────────────────────────────────────

// AchievementCategory groups achievements by theme.
type AchievementCategory string

const (
	CatGettingStarted AchievementCategory = "getting_started"
	CatTasks          AchievementCategory = "tasks"
	CatFocus          AchievementCategory = "focus"
	CatHabits         AchievementCategory = "habits"
	CatStreaks        AchievementCategory = "streaks"
	CatSocial         AchievementCategory = "social"
	CatMastery        AchievementCategory = "mastery"
)

// ProgressSnapshot is the committed state achievement predicates read.
type ProgressSnapshot struct {
	Profile
	AchievementsUnlocked int `json:"achievements_unlocked"`
}

// AchievementDef defines a single achievement's requirements.
type AchievementDef struct {
	ID             string                      `json:"id"`
	Name           string                      `json:"name"`
	Category       AchievementCategory         `json:"category"`
	Icon           string                      `json:"icon"`
	RewardXP       int64                       `json:"reward_xp"`
	BonusIncrement float64                     `json:"bonus_increment,omitempty"`
	Predicate      func(ProgressSnapshot) bool `json:"-"`
}

// AchievementUnlock is the persisted (user, achievement) row.
type AchievementUnlock struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	XPAwarded     int64     `json:"xp_awarded"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// ─── Challenges ─────────────────────────────────────────────────────────────

// Periodicity is the reset cadence of a challenge.
type Periodicity string

const (
	Daily  Periodicity = "daily"
	Weekly Periodicity = "weekly"
)

// PeriodStart returns the first day of the period containing day.
func (p Periodicity) PeriodStart(day Date) Date {
	if p == Weekly {
		return day.WeekStart()
	}
	return day
}

// Metric is the action-derived quantity a challenge counts.
type Metric string

const (
	MetricTasks         Metric = "tasks"
	MetricHighPriority  Metric = "high_priority"
	MetricHabits        Metric = "habits"
	MetricFocusSessions Metric = "focus_sessions"
	MetricFocusMinutes  Metric = "focus_minutes"
	MetricReferrals     Metric = "referrals"
	MetricAllHabits     Metric = "all_habits"
)

// ChallengeTemplate defines a challenge before it is instantiated per period.
type ChallengeTemplate struct {
	ID          string      `json:"id"`
	Periodicity Periodicity `json:"periodicity"`
	Metric      Metric      `json:"metric"`
	Target      int64       `json:"target"`
	RewardXP    int64       `json:"reward_xp"`
	Description string      `json:"description"`
	Fixed       bool        `json:"fixed,omitempty"`
}

// ChallengeInstance is the per-user-per-period row.
// Progress only grows until Completed flips true; XPAwarded is set at that flip.
type ChallengeInstance struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	TemplateID  string      `json:"template_id"`
	Periodicity Periodicity `json:"periodicity"`
	Metric      Metric      `json:"metric"`
	Description string      `json:"description"`
	PeriodStart Date        `json:"period_start"`
	Target      int64       `json:"target"`
	Progress    int64       `json:"progress"`
	Completed   bool        `json:"completed"`
	RewardXP    int64       `json:"reward_xp"`
	XPAwarded   int64       `json:"xp_awarded"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// ProgressPct returns completion percentage (0-100).
func (c ChallengeInstance) ProgressPct() float64 {
	if c.Target <= 0 {
		return 100.0
	}
	pct := float64(c.Progress) / float64(c.Target) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// ─── Notification Types ─────────────────────────────────────────────────────

// NotificationType categorizes notifications.
type NotificationType string

const (
	NotifyAchievement NotificationType = "achievement"
	NotifyLevelUp     NotificationType = "level_up"
	NotifyChallenge   NotificationType = "challenge_complete"
	NotifyReferral    NotificationType = "referral"
)

// Notification is a user-facing feed entry.
type Notification struct {
	ID         int64            `json:"id"`
	UserID     string           `json:"user_id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	Pushed     bool             `json:"pushed"`
	CreatedDay Date             `json:"created_day"`
	CreatedAt  time.Time        `json:"created_at"`
	Shown      bool             `json:"shown"`
}

// NotificationPolicy governs which feed entries are also flagged for push.
type NotificationPolicy struct {
	MaxPushPerDay int    `json:"max_push_per_day"`
	QuietStart    string `json:"quiet_start"` // "22:00"
	QuietEnd      string `json:"quiet_end"`   // "08:00"
}

// DefaultNotificationPolicy returns the default push policy.
func DefaultNotificationPolicy() NotificationPolicy {
	return NotificationPolicy{
		MaxPushPerDay: 3,
		QuietStart:    "22:00",
		QuietEnd:      "08:00",
	}
}

// ProgressEvent is published to the event bus for every feed entry.
// Push tells the delivery side whether the entry may interrupt the user.
type ProgressEvent struct {
	Type       NotificationType `json:"type"`
	UserID     string           `json:"user_id"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	Push       bool             `json:"push"`
	OccurredAt time.Time        `json:"occurred_at"`
}
