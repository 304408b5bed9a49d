package domain

import (
	"strings"
	"time"
)

// Action is a completed user action fed to the progression engine.
// The set of implementations is closed: TaskCompleted, HabitCompleted,
// FocusCompleted and ReferralCompleted.
type Action interface {
	Source() SourceType
	SourceID() string
	Validate() error
	isAction()
}

// TaskCompleted is a finished task. Priority never changes XP; it only
// feeds achievements and challenges.
type TaskCompleted struct {
	TaskID       string `json:"task_id"`
	HighPriority bool   `json:"high_priority"`
}

// HabitCompleted is a habit check-in. CompletedToday includes this one.
type HabitCompleted struct {
	HabitID        string `json:"habit_id"`
	CompletedToday int    `json:"completed_today"`
	ScheduledToday int    `json:"scheduled_today"`
}

// FocusCompleted is a focus session being closed. Only SessionID is taken
// from the caller: the engine overwrites PlannedMinutes and StartedAt from
// the session row recorded when the session started.
type FocusCompleted struct {
	SessionID      string    `json:"session_id"`
	PlannedMinutes int       `json:"-"`
	StartedAt      time.Time `json:"-"`
}

// ReferralCompleted credits the referrer when a referred user signs up.
type ReferralCompleted struct {
	ReferredUserID string `json:"referred_user_id"`
}

func (TaskCompleted) isAction()     {}
func (HabitCompleted) isAction()    {}
func (FocusCompleted) isAction()    {}
func (ReferralCompleted) isAction() {}

func (TaskCompleted) Source() SourceType     { return SourceTask }
func (HabitCompleted) Source() SourceType    { return SourceHabit }
func (FocusCompleted) Source() SourceType    { return SourceFocus }
func (ReferralCompleted) Source() SourceType { return SourceReferral }

func (a TaskCompleted) SourceID() string     { return a.TaskID }
func (a HabitCompleted) SourceID() string    { return a.HabitID }
func (a FocusCompleted) SourceID() string    { return a.SessionID }
func (a ReferralCompleted) SourceID() string { return a.ReferredUserID }

// Validate checks the task payload.
func (a TaskCompleted) Validate() error {
	return requireID("task_id", a.TaskID)
}

// Validate checks the habit payload.
func (a HabitCompleted) Validate() error {
	if err := requireID("habit_id", a.HabitID); err != nil {
		return err
	}
	if a.CompletedToday < 0 {
		return Invalid("completed_today", "must not be negative")
	}
	if a.ScheduledToday < 0 {
		return Invalid("scheduled_today", "must not be negative")
	}
	return nil
}

// Validate checks the focus payload. Duration bounds are policy and are
// checked by the XP calculator before any XP math runs.
func (a FocusCompleted) Validate() error {
	return requireID("session_id", a.SessionID)
}

// Validate checks the referral payload.
func (a ReferralCompleted) Validate() error {
	return requireID("referred_user_id", a.ReferredUserID)
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return Invalid(field, "is required")
	}
	return nil
}
