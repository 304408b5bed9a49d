package engagement

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/store"
)

// challengeNamespace scopes name-based instance ids.
var challengeNamespace = uuid.MustParse("6f1c3f0e-2b8a-4c55-9d51-3c7b8f4a2e10")

// DailyTemplates is the daily pool. Fixed templates are generated every day;
// the rest are drawn per user and day.
var DailyTemplates = []domain.ChallengeTemplate{
	{ID: "d_all_habits", Periodicity: domain.Daily, Metric: domain.MetricAllHabits, Target: 1, RewardXP: 40, Description: "Complete all of today's habits", Fixed: true},
	{ID: "d_tasks_3", Periodicity: domain.Daily, Metric: domain.MetricTasks, Target: 3, RewardXP: 30, Description: "Complete 3 tasks"},
	{ID: "d_tasks_5", Periodicity: domain.Daily, Metric: domain.MetricTasks, Target: 5, RewardXP: 50, Description: "Complete 5 tasks"},
	{ID: "d_high_priority_1", Periodicity: domain.Daily, Metric: domain.MetricHighPriority, Target: 1, RewardXP: 25, Description: "Finish a high-priority task"},
	{ID: "d_habits_2", Periodicity: domain.Daily, Metric: domain.MetricHabits, Target: 2, RewardXP: 25, Description: "Check in 2 habits"},
	{ID: "d_focus_1", Periodicity: domain.Daily, Metric: domain.MetricFocusSessions, Target: 1, RewardXP: 25, Description: "Complete a focus session"},
	{ID: "d_focus_45", Periodicity: domain.Daily, Metric: domain.MetricFocusMinutes, Target: 45, RewardXP: 40, Description: "Focus for 45 minutes"},
}

// WeeklyTemplates is the weekly pool, reset every Monday.
var WeeklyTemplates = []domain.ChallengeTemplate{
	{ID: "w_tasks_20", Periodicity: domain.Weekly, Metric: domain.MetricTasks, Target: 20, RewardXP: 150, Description: "Complete 20 tasks this week"},
	{ID: "w_high_priority_5", Periodicity: domain.Weekly, Metric: domain.MetricHighPriority, Target: 5, RewardXP: 120, Description: "Finish 5 high-priority tasks this week"},
	{ID: "w_habits_15", Periodicity: domain.Weekly, Metric: domain.MetricHabits, Target: 15, RewardXP: 120, Description: "Check in 15 habits this week"},
	{ID: "w_focus_5", Periodicity: domain.Weekly, Metric: domain.MetricFocusSessions, Target: 5, RewardXP: 120, Description: "Complete 5 focus sessions this week"},
	{ID: "w_focus_300", Periodicity: domain.Weekly, Metric: domain.MetricFocusMinutes, Target: 300, RewardXP: 200, Description: "Focus for 5 hours this week"},
	{ID: "w_referral_1", Periodicity: domain.Weekly, Metric: domain.MetricReferrals, Target: 1, RewardXP: 100, Description: "Invite a friend who signs up"},
}

// CompletedChallenge is an instance that flipped to completed in this call.
type CompletedChallenge struct {
	InstanceID  string             `json:"instance_id"`
	TemplateID  string             `json:"template_id"`
	Periodicity domain.Periodicity `json:"periodicity"`
	Description string             `json:"description"`
	XPAwarded   int64              `json:"xp_awarded"`
	CompletedAt time.Time          `json:"completed_at"`
}

// ChallengeResult is the outcome of a progress update.
type ChallengeResult struct {
	Completed      []CompletedChallenge `json:"completed"`
	TotalXPAwarded int64                `json:"total_xp_awarded"`
}

func (r *ChallengeResult) merge(o ChallengeResult) {
	r.Completed = append(r.Completed, o.Completed...)
	r.TotalXPAwarded += o.TotalXPAwarded
}

// ChallengeBoard is the current daily and weekly set for a user.
type ChallengeBoard struct {
	Day       domain.Date                `json:"day"`
	WeekStart domain.Date                `json:"week_start"`
	Daily     []domain.ChallengeInstance `json:"daily"`
	Weekly    []domain.ChallengeInstance `json:"weekly"`
}

// ChallengeTracker maintains per-period challenge instances.
// Generation is deterministic in (user, period), and storage uniqueness makes
// concurrent generators converge on the same rows.
type ChallengeTracker struct {
	daily       []domain.ChallengeTemplate
	weekly      []domain.ChallengeTemplate
	dailyPicks  int
	weeklyPicks int
	log         zerolog.Logger
}

// NewChallengeTracker creates a tracker that draws dailyPicks and
// weeklyPicks templates per period in addition to the fixed ones.
func NewChallengeTracker(daily, weekly []domain.ChallengeTemplate, dailyPicks, weeklyPicks int, log zerolog.Logger) *ChallengeTracker {
	return &ChallengeTracker{
		daily:       daily,
		weekly:      weekly,
		dailyPicks:  dailyPicks,
		weeklyPicks: weeklyPicks,
		log:         log,
	}
}

// Template looks up a template by id across both pools.
func (t *ChallengeTracker) Template(id string) (domain.ChallengeTemplate, error) {
	for _, pool := range [][]domain.ChallengeTemplate{t.daily, t.weekly} {
		for _, tmpl := range pool {
			if tmpl.ID == id {
				return tmpl, nil
			}
		}
	}
	return domain.ChallengeTemplate{}, fmt.Errorf("%q: %w", id, domain.ErrTemplateNotFound)
}

func (t *ChallengeTracker) templatesFor(p domain.Periodicity) []domain.ChallengeTemplate {
	if p == domain.Weekly {
		return t.weekly
	}
	return t.daily
}

// SelectTemplates returns the templates a user gets for a period: every
// fixed template plus a deterministic draw from the rest.
func (t *ChallengeTracker) SelectTemplates(userID string, p domain.Periodicity, periodStart domain.Date) []domain.ChallengeTemplate {
	picks := t.dailyPicks
	if p == domain.Weekly {
		picks = t.weeklyPicks
	}

	var fixed, pool []domain.ChallengeTemplate
	for _, tmpl := range t.templatesFor(p) {
		if tmpl.Fixed {
			fixed = append(fixed, tmpl)
		} else {
			pool = append(pool, tmpl)
		}
	}
	return append(fixed, pickUniqueTemplates(pool, picks, periodSeed(userID, p, periodStart))...)
}

// Ensure fetches the user's instances for the period containing day,
// generating any that are missing.
func (t *ChallengeTracker) Ensure(ctx context.Context, repo *store.Repo, userID string, p domain.Periodicity, day domain.Date) ([]domain.ChallengeInstance, error) {
	start := p.PeriodStart(day)
	existing, err := repo.ChallengeInstances(ctx, userID, p, start)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, inst := range existing {
		have[inst.TemplateID] = true
	}

	created := 0
	for _, tmpl := range t.SelectTemplates(userID, p, start) {
		if have[tmpl.ID] {
			continue
		}
		ok, err := repo.InsertChallengeInstance(ctx, domain.ChallengeInstance{
			ID:          InstanceID(userID, tmpl.ID, start),
			UserID:      userID,
			TemplateID:  tmpl.ID,
			Periodicity: p,
			Metric:      tmpl.Metric,
			Description: tmpl.Description,
			PeriodStart: start,
			Target:      tmpl.Target,
			RewardXP:    tmpl.RewardXP,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			created++
		} else {
			t.log.Debug().Str("user_id", userID).Str("template", tmpl.ID).
				Msg("challenge instance already generated")
		}
	}
	if created == 0 && len(existing) > 0 {
		return existing, nil
	}
	return repo.ChallengeInstances(ctx, userID, p, start)
}

// ListForDay returns the daily and weekly instances for day.
func (t *ChallengeTracker) ListForDay(ctx context.Context, repo *store.Repo, userID string, day domain.Date) (ChallengeBoard, error) {
	board := ChallengeBoard{Day: day, WeekStart: day.WeekStart()}
	var err error
	if board.Daily, err = t.Ensure(ctx, repo, userID, domain.Daily, day); err != nil {
		return board, err
	}
	if board.Weekly, err = t.Ensure(ctx, repo, userID, domain.Weekly, day); err != nil {
		return board, err
	}
	return board, nil
}

// UpdateDailyProgress adds increment to today's instances tracking metric.
func (t *ChallengeTracker) UpdateDailyProgress(ctx context.Context, repo *store.Repo, userID string, metric domain.Metric, increment int64, day domain.Date, sourceKey string, now time.Time) (ChallengeResult, error) {
	return t.UpdateProgress(ctx, repo, userID, domain.Daily, metric, increment, day, sourceKey, now)
}

// UpdateWeeklyProgress adds increment to this week's instances tracking metric.
func (t *ChallengeTracker) UpdateWeeklyProgress(ctx context.Context, repo *store.Repo, userID string, metric domain.Metric, increment int64, day domain.Date, sourceKey string, now time.Time) (ChallengeResult, error) {
	return t.UpdateProgress(ctx, repo, userID, domain.Weekly, metric, increment, day, sourceKey, now)
}

// UpdateProgress adds increment to every open instance of the period that
// tracks metric. Progress is clamped at the target, a sourceKey counts at
// most once per instance, and completion flips exactly once.
func (t *ChallengeTracker) UpdateProgress(ctx context.Context, repo *store.Repo, userID string, p domain.Periodicity, metric domain.Metric, increment int64, day domain.Date, sourceKey string, now time.Time) (ChallengeResult, error) {
	var res ChallengeResult
	if increment < 0 {
		return res, domain.Invalid("increment", "must not be negative")
	}
	if increment == 0 || metric == domain.MetricAllHabits {
		return res, nil
	}

	instances, err := t.Ensure(ctx, repo, userID, p, day)
	if err != nil {
		return res, err
	}

	for _, inst := range instances {
		if inst.Metric != metric || inst.Completed {
			continue
		}
		if sourceKey != "" {
			first, err := repo.AddContribution(ctx, inst.ID, sourceKey, now)
			if err != nil {
				return res, err
			}
			if !first {
				t.log.Debug().Str("user_id", userID).Str("instance", inst.ID).
					Str("source", sourceKey).Msg("source already counted")
				continue
			}
		}
		if err := repo.IncrementChallengeProgress(ctx, inst.ID, increment); err != nil {
			return res, err
		}
		if err := t.tryComplete(ctx, repo, inst, now, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// UpdateAllHabits evaluates the composite "all habits today" challenge from
// the day's completed and scheduled habit counts.
func (t *ChallengeTracker) UpdateAllHabits(ctx context.Context, repo *store.Repo, userID string, completedToday, scheduledToday int, day domain.Date, now time.Time) (ChallengeResult, error) {
	var res ChallengeResult
	if scheduledToday <= 0 || completedToday < scheduledToday {
		return res, nil
	}

	instances, err := t.Ensure(ctx, repo, userID, domain.Daily, day)
	if err != nil {
		return res, err
	}
	for _, inst := range instances {
		if inst.Metric != domain.MetricAllHabits || inst.Completed {
			continue
		}
		if err := repo.RaiseChallengeProgress(ctx, inst.ID, inst.Target); err != nil {
			return res, err
		}
		if err := t.tryComplete(ctx, repo, inst, now, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// ApplyAction routes one action to the daily and weekly instances.
// A high-priority task counts toward both high_priority and tasks.
func (t *ChallengeTracker) ApplyAction(ctx context.Context, repo *store.Repo, userID string, a domain.Action, c Credit, day domain.Date, now time.Time) (ChallengeResult, error) {
	var res ChallengeResult
	sourceKey := string(a.Source()) + ":" + a.SourceID()

	for _, d := range metricDeltas(a, c) {
		for _, p := range []domain.Periodicity{domain.Daily, domain.Weekly} {
			r, err := t.UpdateProgress(ctx, repo, userID, p, d.metric, d.amount, day, sourceKey, now)
			if err != nil {
				return res, err
			}
			res.merge(r)
		}
	}

	if h, ok := a.(domain.HabitCompleted); ok {
		r, err := t.UpdateAllHabits(ctx, repo, userID, h.CompletedToday, h.ScheduledToday, day, now)
		if err != nil {
			return res, err
		}
		res.merge(r)
	}
	return res, nil
}

func (t *ChallengeTracker) tryComplete(ctx context.Context, repo *store.Repo, inst domain.ChallengeInstance, now time.Time, res *ChallengeResult) error {
	flipped, err := repo.CompleteChallenge(ctx, inst.ID, now)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}
	res.Completed = append(res.Completed, CompletedChallenge{
		InstanceID:  inst.ID,
		TemplateID:  inst.TemplateID,
		Periodicity: inst.Periodicity,
		Description: inst.Description,
		XPAwarded:   inst.RewardXP,
		CompletedAt: now,
	})
	res.TotalXPAwarded += inst.RewardXP
	return nil
}

type metricDelta struct {
	metric domain.Metric
	amount int64
}

func metricDeltas(a domain.Action, c Credit) []metricDelta {
	switch act := a.(type) {
	case domain.TaskCompleted:
		out := []metricDelta{{domain.MetricTasks, 1}}
		if act.HighPriority {
			out = append(out, metricDelta{domain.MetricHighPriority, 1})
		}
		return out
	case domain.HabitCompleted:
		return []metricDelta{{domain.MetricHabits, 1}}
	case domain.FocusCompleted:
		return []metricDelta{
			{domain.MetricFocusSessions, 1},
			{domain.MetricFocusMinutes, int64(c.CreditedMinutes)},
		}
	case domain.ReferralCompleted:
		return []metricDelta{{domain.MetricReferrals, 1}}
	}
	return nil
}

// InstanceID returns the name-based id of a (user, template, period) instance.
func InstanceID(userID, templateID string, periodStart domain.Date) string {
	name := userID + "/" + templateID + "/" + periodStart.String()
	return uuid.NewSHA1(challengeNamespace, []byte(name)).String()
}

func periodSeed(userID string, p domain.Periodicity, periodStart domain.Date) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(p))
	h.Write([]byte{0})
	h.Write([]byte(periodStart.String()))
	return int64(h.Sum64())
}

// pickUniqueTemplates draws n templates, preferring distinct metrics.
func pickUniqueTemplates(pool []domain.ChallengeTemplate, n int, seed int64) []domain.ChallengeTemplate {
	r := rand.New(rand.NewSource(seed))

	shuffled := make([]domain.ChallengeTemplate, len(pool))
	copy(shuffled, pool)
	r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	seen := make(map[domain.Metric]bool)
	taken := make(map[string]bool)
	var result []domain.ChallengeTemplate
	for _, tmpl := range shuffled {
		if len(result) >= n {
			break
		}
		if !seen[tmpl.Metric] {
			seen[tmpl.Metric] = true
			taken[tmpl.ID] = true
			result = append(result, tmpl)
		}
	}

	// Not enough distinct metrics: fill with any
	for _, tmpl := range shuffled {
		if len(result) >= n {
			break
		}
		if !taken[tmpl.ID] {
			taken[tmpl.ID] = true
			result = append(result, tmpl)
		}
	}
	return result
}
