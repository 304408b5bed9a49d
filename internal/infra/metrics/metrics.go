// Package metrics provides Prometheus metrics for streakforge.
// Counters and histograms for XP grants, unlocks, challenge completions,
// replays and best-effort side effects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "streakforge"

// ─── Awards ─────────────────────────────────────────────────────────────────

// XPAwarded tracks XP granted, labelled by source type.
var XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "xp_awarded_total",
	Help:      "Total XP granted by source type.",
}, []string{"source"})

// AwardsTotal tracks award calls by action kind and outcome.
var AwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "awards_total",
	Help:      "Award calls by action kind and outcome.",
}, []string{"kind", "outcome"})

// AwardLatency tracks the duration of a whole award transaction.
var AwardLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "award_latency_seconds",
	Help:      "Award duration in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
}, []string{"kind"})

// Undos tracks reversed awards by action kind.
var Undos = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "undos_total",
	Help:      "Reversed awards by action kind.",
}, []string{"kind"})

// XPDeducted tracks XP removed by undo.
var XPDeducted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "xp_deducted_total",
	Help:      "Total XP removed by undo.",
})

// ─── Progression ────────────────────────────────────────────────────────────

// LevelUps tracks level transitions.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "level_ups_total",
	Help:      "Total level-up transitions.",
})

// LevelHeals tracks stored levels corrected on read.
var LevelHeals = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "level_heals_total",
	Help:      "Profiles whose stored level disagreed with their XP.",
})

// AchievementsUnlocked tracks unlocks by achievement id.
var AchievementsUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "achievements_unlocked_total",
	Help:      "Achievement unlocks by id.",
}, []string{"achievement"})

// ChallengesCompleted tracks challenge completions by periodicity.
var ChallengesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "challenges_completed_total",
	Help:      "Challenge completions by periodicity.",
}, []string{"periodicity"})

// FocusBelowThreshold tracks focus sessions closed under the minimum ratio.
var FocusBelowThreshold = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "focus_below_threshold_total",
	Help:      "Focus sessions that earned no XP for ending early.",
})

// Replays tracks retried awards answered from the cache or the ledger.
var Replays = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "replays_total",
	Help:      "Idempotent award replays by origin.",
}, []string{"origin"})

// ─── Side effects ───────────────────────────────────────────────────────────

// SideEffectFailures tracks best-effort work that failed after commit.
var SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "side_effect_failures_total",
	Help:      "Failed post-commit side effects by kind.",
}, []string{"kind"})

// NotificationsCreated tracks feed entries by type and push flag.
var NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "notifications_created_total",
	Help:      "Notification feed entries by type and push flag.",
}, []string{"type", "pushed"})

// CacheLookups tracks replay cache hits and misses by layer.
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "cache_lookups_total",
	Help:      "Replay cache lookups by layer and result.",
}, []string{"layer", "result"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check pass/fail (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Health check status (1=healthy, 0=unhealthy).",
}, []string{"check"})
