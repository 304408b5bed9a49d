package store

import "strings"

// migrations returns the idempotent DDL for a dialect.
// Statements are written once with {{…}} tokens for the types that differ.
func migrations(d Dialect) []string {
	r := strings.NewReplacer(
		"{{serial_pk}}", serialPK(d),
		"{{real}}", realType(d),
		"{{int}}", intType(d),
	)

	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = r.Replace(stmt)
	}
	return out
}

func serialPK(d Dialect) string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func realType(d Dialect) string {
	if d == Postgres {
		return "DOUBLE PRECISION"
	}
	return "REAL"
}

func intType(d Dialect) string {
	if d == Postgres {
		return "BIGINT"
	}
	return "INTEGER"
}

var schema = []string{
	// One row per user. Lifetime counters never go below zero.
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id                 TEXT PRIMARY KEY,
		xp_total                {{int}} NOT NULL DEFAULT 0 CHECK (xp_total >= 0),
		level                   {{int}} NOT NULL DEFAULT 1,
		current_streak          {{int}} NOT NULL DEFAULT 0,
		longest_streak          {{int}} NOT NULL DEFAULT 0,
		last_active_date        TEXT,
		permanent_xp_bonus      {{real}} NOT NULL DEFAULT 1.0,
		tasks_completed         {{int}} NOT NULL DEFAULT 0,
		high_priority_completed {{int}} NOT NULL DEFAULT 0,
		habits_completed        {{int}} NOT NULL DEFAULT 0,
		focus_sessions          {{int}} NOT NULL DEFAULT 0,
		focus_minutes           {{int}} NOT NULL DEFAULT 0,
		long_focus_sessions     {{int}} NOT NULL DEFAULT 0,
		referrals               {{int}} NOT NULL DEFAULT 0,
		early_bird_tasks        {{int}} NOT NULL DEFAULT 0,
		night_owl_tasks         {{int}} NOT NULL DEFAULT 0,
		challenges_completed    {{int}} NOT NULL DEFAULT 0,
		created_at              {{int}} NOT NULL,
		updated_at              {{int}} NOT NULL,
		CHECK (longest_streak >= current_streak)
	)`,

	// XP ledger: the per-source activity log. The stored amounts are what an
	// undo reverses.
	`CREATE TABLE IF NOT EXISTS xp_ledger (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		source_type      TEXT NOT NULL,
		source_id        TEXT NOT NULL,
		base_xp          {{int}} NOT NULL,
		streak_bonus     {{int}} NOT NULL DEFAULT 0,
		multiplier_bonus {{int}} NOT NULL DEFAULT 0,
		total_xp         {{int}} NOT NULL,
		counters         TEXT NOT NULL DEFAULT '{}',
		created_at       {{int}} NOT NULL,
		reversed_at      {{int}},
		UNIQUE (user_id, source_type, source_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_user ON xp_ledger(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS achievement_unlocks (
		user_id        TEXT NOT NULL,
		achievement_id TEXT NOT NULL,
		xp_awarded     {{int}} NOT NULL,
		unlocked_at    {{int}} NOT NULL,
		PRIMARY KEY (user_id, achievement_id)
	)`,

	`CREATE TABLE IF NOT EXISTS challenge_instances (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		template_id  TEXT NOT NULL,
		periodicity  TEXT NOT NULL,
		metric       TEXT NOT NULL,
		description  TEXT NOT NULL,
		period_start TEXT NOT NULL,
		target       {{int}} NOT NULL,
		progress     {{int}} NOT NULL DEFAULT 0,
		completed    INTEGER NOT NULL DEFAULT 0,
		xp_reward    {{int}} NOT NULL,
		xp_awarded   {{int}} NOT NULL DEFAULT 0,
		completed_at {{int}},
		UNIQUE (user_id, template_id, period_start),
		CHECK (progress <= target)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_challenges_period ON challenge_instances(user_id, periodicity, period_start)`,

	// A source counts toward an instance at most once.
	`CREATE TABLE IF NOT EXISTS challenge_contributions (
		instance_id TEXT NOT NULL,
		source_key  TEXT NOT NULL,
		created_at  {{int}} NOT NULL,
		PRIMARY KEY (instance_id, source_key)
	)`,

	// Start times are server-observed; completion is pro-rated from them.
	`CREATE TABLE IF NOT EXISTS focus_sessions (
		user_id         TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		planned_minutes {{int}} NOT NULL,
		started_at      {{int}} NOT NULL,
		PRIMARY KEY (user_id, session_id)
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id          {{serial_pk}},
		user_id     TEXT NOT NULL,
		type        TEXT NOT NULL,
		title       TEXT NOT NULL,
		body        TEXT NOT NULL,
		pushed      INTEGER NOT NULL DEFAULT 0,
		created_day TEXT NOT NULL,
		created_at  {{int}} NOT NULL,
		shown       INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notif_user ON notifications(user_id, created_day)`,
}
