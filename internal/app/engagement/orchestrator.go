package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/metrics"
	"github.com/streakforge/streakforge/internal/infra/store"
)

// ResultCache remembers award results so a retried request can be answered
// without touching the database. Implementations are best-effort.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
	Delete(ctx context.Context, key string)
}

// AwardRequest is one completed action for one user.
type AwardRequest struct {
	UserID string
	Action domain.Action
}

// BonusXP keeps achievement and challenge rewards apart from the action's
// own XP so callers can present them as separate moments.
type BonusXP struct {
	AchievementXP int64 `json:"achievement_xp"`
	ChallengeXP   int64 `json:"challenge_xp"`
}

// AwardResult is the aggregated outcome of an award.
type AwardResult struct {
	UserID               string                `json:"user_id"`
	Kind                 domain.SourceType     `json:"kind"`
	SourceID             string                `json:"source_id"`
	LedgerID             string                `json:"ledger_id,omitempty"`
	ActionTotalXP        int64                 `json:"action_total_xp"`
	Breakdown            domain.XPBreakdown    `json:"breakdown"`
	NewXPTotal           int64                 `json:"new_xp_total"`
	LeveledUp            bool                  `json:"leveled_up"`
	NewLevel             int                   `json:"new_level"`
	NewStreak            int                   `json:"new_streak"`
	LongestStreak        int                   `json:"longest_streak"`
	Bonus                BonusXP               `json:"bonus_xp"`
	AchievementsUnlocked []UnlockedAchievement `json:"achievements_unlocked"`
	ChallengesCompleted  []CompletedChallenge  `json:"challenges_completed"`
	BelowThreshold       bool                  `json:"below_threshold"`
	Replayed             bool                  `json:"replayed"`
}

// FocusStartRequest opens a focus session.
type FocusStartRequest struct {
	UserID         string
	SessionID      string
	PlannedMinutes int
}

// UndoRequest reverses the award of one action.
type UndoRequest struct {
	UserID   string
	Kind     domain.SourceType
	SourceID string
}

// UndoResult reports what an undo removed.
type UndoResult struct {
	UserID      string            `json:"user_id"`
	Kind        domain.SourceType `json:"kind"`
	SourceID    string            `json:"source_id"`
	XPDeducted  int64             `json:"xp_deducted"`
	Counters    domain.Counters   `json:"counters"`
	NewXPTotal  int64             `json:"new_xp_total"`
	NewLevel    int               `json:"new_level"`
	LeveledDown bool              `json:"leveled_down"`
}

// ProfileView is a profile plus derived progress figures.
type ProfileView struct {
	domain.Profile
	NextLevelXP      int64   `json:"next_level_xp"`
	XPToNextLevel    int64   `json:"xp_to_next_level"`
	ProgressPct      float64 `json:"progress_pct"`
	StreakMultiplier float64 `json:"streak_multiplier"`
	CurveVersion     int     `json:"curve_version"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the XP rules.
func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

// WithCurve overrides the leveling curve.
func WithCurve(c Curve) Option { return func(e *Engine) { e.curve = c } }

// WithCatalog overrides the achievement catalog.
func WithCatalog(defs []domain.AchievementDef) Option {
	return func(e *Engine) { e.catalog = defs }
}

// WithChallengeTemplates overrides the challenge pools and draw sizes.
func WithChallengeTemplates(daily, weekly []domain.ChallengeTemplate, dailyPicks, weeklyPicks int) Option {
	return func(e *Engine) {
		e.daily, e.weekly = daily, weekly
		e.dailyPicks, e.weeklyPicks = dailyPicks, weeklyPicks
	}
}

// WithResultCache enables the replay cache.
func WithResultCache(c ResultCache) Option { return func(e *Engine) { e.cache = c } }

// WithNotifier enables feed entries and events after each award.
func WithNotifier(n *NotificationService) Option { return func(e *Engine) { e.notifier = n } }

// Engine is the award orchestrator: the single entry point for every
// action-completion path.
type Engine struct {
	db    *store.DB
	clock domain.Clock
	log   zerolog.Logger

	policy       Policy
	curve        Curve
	achievements *AchievementEvaluator
	challenges   *ChallengeTracker
	cache        ResultCache
	notifier     *NotificationService

	catalog     []domain.AchievementDef
	daily       []domain.ChallengeTemplate
	weekly      []domain.ChallengeTemplate
	dailyPicks  int
	weeklyPicks int
}

// NewEngine wires the progression engine over db.
func NewEngine(db *store.DB, clock domain.Clock, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:          db,
		clock:       clock,
		log:         log,
		policy:      DefaultPolicy(),
		curve:       DefaultCurve,
		catalog:     AllAchievements(),
		daily:       DailyTemplates,
		weekly:      WeeklyTemplates,
		dailyPicks:  2,
		weeklyPicks: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.achievements = NewAchievementEvaluator(e.catalog, log)
	e.challenges = NewChallengeTracker(e.daily, e.weekly, e.dailyPicks, e.weeklyPicks, log)
	return e
}

// Policy returns the active XP rules.
func (e *Engine) Policy() Policy { return e.policy }

// Curve returns the active leveling curve.
func (e *Engine) Curve() Curve { return e.curve }

// Notifier returns the notification service, or nil.
func (e *Engine) Notifier() *NotificationService { return e.notifier }

// Award converts one completed action into XP, streak, achievement and
// challenge effects inside a single transaction. A retry for a source that
// already has an active ledger row replays the stored result.
func (e *Engine) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	if req.Action == nil {
		return nil, domain.Invalid("action", "is required")
	}
	if err := req.Action.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	kind := req.Action.Source()
	key := cacheKey(req.UserID, kind, req.Action.SourceID())

	if cached := e.cachedResult(ctx, key, req.UserID, kind, req.Action.SourceID()); cached != nil {
		metrics.Replays.WithLabelValues("cache").Inc()
		metrics.AwardsTotal.WithLabelValues(string(kind), "replayed").Inc()
		return cached, nil
	}

	action, err := e.resolveFocus(ctx, req.UserID, req.Action)
	if err != nil {
		metrics.AwardsTotal.WithLabelValues(string(kind), "rejected").Inc()
		return nil, err
	}

	now := e.clock.Now()
	today := e.clock.Today()
	credit, err := e.policy.CreditFor(action, now)
	if err != nil {
		metrics.AwardsTotal.WithLabelValues(string(kind), "rejected").Inc()
		return nil, err
	}

	var res *AwardResult
	var startLevel int
	err = e.db.WithTx(ctx, func(repo *store.Repo) error {
		p, err := e.loadProfile(ctx, repo, req.UserID, now, true)
		if err != nil {
			return err
		}
		startLevel = p.Level

		prior, err := repo.GetLedgerEntry(ctx, req.UserID, kind, req.Action.SourceID())
		if err != nil {
			return err
		}
		if prior != nil && prior.Active() {
			res = replayFromLedger(prior, p)
			return nil
		}
		if credit.BelowThreshold {
			res = belowThresholdResult(req, credit, p)
			return nil
		}

		res, err = e.apply(ctx, repo, p, action, credit, prior, today, now)
		return err
	})
	if err != nil {
		metrics.AwardsTotal.WithLabelValues(string(kind), "error").Inc()
		e.log.Error().Stack().Err(err).Str("user_id", req.UserID).Str("kind", string(kind)).
			Str("source_id", req.Action.SourceID()).Msg("award failed")
		return nil, err
	}
	metrics.AwardLatency.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())

	switch {
	case res.Replayed:
		metrics.Replays.WithLabelValues("ledger").Inc()
		metrics.AwardsTotal.WithLabelValues(string(kind), "replayed").Inc()
		return res, nil
	case res.BelowThreshold:
		metrics.FocusBelowThreshold.Inc()
		metrics.AwardsTotal.WithLabelValues(string(kind), "below_threshold").Inc()
		return res, nil
	}

	e.recordAwardMetrics(res, startLevel)
	e.notifyAward(ctx, res, startLevel)
	e.storeResult(ctx, key, res)

	e.log.Info().
		Str("user_id", res.UserID).
		Str("kind", string(kind)).
		Str("source_id", res.SourceID).
		Int64("xp", res.ActionTotalXP).
		Int64("bonus_xp", res.Bonus.AchievementXP+res.Bonus.ChallengeXP).
		Int("level", res.NewLevel).
		Int("streak", res.NewStreak).
		Msg("xp awarded")
	return res, nil
}

// apply runs streak, XP, achievements and challenges for a fresh award.
func (e *Engine) apply(ctx context.Context, repo *store.Repo, p *domain.Profile, a domain.Action, credit Credit, prior *domain.LedgerEntry, today domain.Date, now time.Time) (*AwardResult, error) {
	startLevel := p.Level

	streak, err := recordStreak(ctx, repo, p, today, now)
	if err != nil {
		return nil, err
	}

	bd := e.policy.Calculate(credit.BaseXP, streak.Current, p.PermanentXPBonus)
	bd.CompletionRatio = credit.CompletionRatio
	counters := e.policy.countersFor(a, credit, now)

	entry := &domain.LedgerEntry{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		SourceType:      a.Source(),
		SourceID:        a.SourceID(),
		BaseXP:          bd.BaseXP,
		StreakBonus:     bd.StreakBonus,
		MultiplierBonus: bd.MultiplierBonus,
		TotalXP:         bd.TotalXP,
		Counters:        counters,
		CreatedAt:       now,
	}
	if prior != nil {
		err = repo.ReactivateLedgerEntry(ctx, entry)
	} else {
		err = repo.InsertLedgerEntry(ctx, entry)
	}
	if err != nil {
		return nil, err
	}

	total, err := repo.AddXP(ctx, p.UserID, bd.TotalXP, now)
	if err != nil {
		return nil, err
	}
	if err := repo.AddCounters(ctx, p.UserID, counters, now); err != nil {
		return nil, err
	}
	if _, err := e.syncLevel(ctx, repo, p.UserID, total, p.Level, now); err != nil {
		return nil, err
	}

	// Achievements see the committed post-action state only.
	snap, err := repo.GetProfile(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	ach, err := e.achievements.CheckAll(ctx, repo, domain.ProgressSnapshot{Profile: *snap}, now)
	if err != nil {
		return nil, err
	}
	if err := e.grantAchievements(ctx, repo, p.UserID, &ach, now); err != nil {
		return nil, err
	}

	chal, err := e.challenges.ApplyAction(ctx, repo, p.UserID, a, credit, today, now)
	if err != nil {
		return nil, err
	}
	if err := e.grantChallenges(ctx, repo, p.UserID, &chal, now); err != nil {
		return nil, err
	}

	final, err := repo.GetProfile(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	level, err := e.syncLevel(ctx, repo, p.UserID, final.XPTotal, final.Level, now)
	if err != nil {
		return nil, err
	}

	return &AwardResult{
		UserID:               p.UserID,
		Kind:                 a.Source(),
		SourceID:             a.SourceID(),
		LedgerID:             entry.ID,
		ActionTotalXP:        bd.TotalXP,
		Breakdown:            bd,
		NewXPTotal:           final.XPTotal,
		LeveledUp:            level > startLevel,
		NewLevel:             level,
		NewStreak:            final.CurrentStreak,
		LongestStreak:        final.LongestStreak,
		Bonus:                BonusXP{AchievementXP: ach.TotalXPAwarded, ChallengeXP: chal.TotalXPAwarded},
		AchievementsUnlocked: ach.Unlocked,
		ChallengesCompleted:  chal.Completed,
	}, nil
}

// grantAchievements books the rewards of a finished catalog scan: one
// ledger row per unlock, one XP increment, then the permanent bonus.
func (e *Engine) grantAchievements(ctx context.Context, repo *store.Repo, userID string, res *AchievementResult, now time.Time) error {
	var granted int64
	kept := res.Unlocked[:0]
	for _, u := range res.Unlocked {
		err := repo.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			ID:         uuid.NewString(),
			UserID:     userID,
			SourceType: domain.SourceAchievement,
			SourceID:   u.ID,
			BaseXP:     u.XPAwarded,
			TotalXP:    u.XPAwarded,
			CreatedAt:  now,
		})
		if errors.Is(err, domain.ErrConflict) {
			e.log.Warn().Str("user_id", userID).Str("achievement", u.ID).
				Msg("achievement reward already booked")
			continue
		}
		if err != nil {
			return err
		}
		granted += u.XPAwarded
		kept = append(kept, u)
	}
	res.Unlocked = kept
	res.TotalXPAwarded = granted

	if granted > 0 {
		if _, err := repo.AddXP(ctx, userID, granted, now); err != nil {
			return err
		}
	}
	if res.BonusIncrement > 0 {
		if _, err := repo.AddPermanentBonus(ctx, userID, res.BonusIncrement, e.policy.MaxPermanentBonus, now); err != nil {
			return err
		}
	}
	return nil
}

// grantChallenges books completed challenge rewards.
func (e *Engine) grantChallenges(ctx context.Context, repo *store.Repo, userID string, res *ChallengeResult, now time.Time) error {
	var granted int64
	kept := res.Completed[:0]
	for _, c := range res.Completed {
		err := repo.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			ID:         uuid.NewString(),
			UserID:     userID,
			SourceType: domain.SourceChallenge,
			SourceID:   c.InstanceID,
			BaseXP:     c.XPAwarded,
			TotalXP:    c.XPAwarded,
			CreatedAt:  now,
		})
		if errors.Is(err, domain.ErrConflict) {
			e.log.Warn().Str("user_id", userID).Str("instance", c.InstanceID).
				Msg("challenge reward already booked")
			continue
		}
		if err != nil {
			return err
		}
		granted += c.XPAwarded
		kept = append(kept, c)
	}
	res.Completed = kept
	res.TotalXPAwarded = granted

	if len(kept) == 0 {
		return nil
	}
	if granted > 0 {
		if _, err := repo.AddXP(ctx, userID, granted, now); err != nil {
			return err
		}
	}
	return repo.AddCounters(ctx, userID, domain.Counters{domain.CounterChallengesDone: int64(len(kept))}, now)
}

// Undo reverses an action's award by the amounts stored at award time.
// Streak, achievement and challenge effects are kept.
func (e *Engine) Undo(ctx context.Context, req UndoRequest) (*UndoResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	if !req.Kind.IsAction() {
		return nil, domain.Invalid("kind", "must be task, habit, focus or referral")
	}
	if strings.TrimSpace(req.SourceID) == "" {
		return nil, domain.Invalid("source_id", "is required")
	}

	now := e.clock.Now()
	var res *UndoResult
	err := e.db.WithTx(ctx, func(repo *store.Repo) error {
		p, err := e.loadProfile(ctx, repo, req.UserID, now, false)
		if err != nil {
			return err
		}

		entry, err := repo.GetLedgerEntry(ctx, req.UserID, req.Kind, req.SourceID)
		if err != nil {
			return err
		}
		if entry == nil || !entry.Active() {
			return domain.ErrAwardNotFound
		}
		ok, err := repo.ReverseLedgerEntry(ctx, req.UserID, req.Kind, req.SourceID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAwardNotFound
		}

		total, err := repo.AddXP(ctx, req.UserID, -entry.TotalXP, now)
		if err != nil {
			return err
		}
		if err := repo.AddCounters(ctx, req.UserID, entry.Counters.Negate(), now); err != nil {
			return err
		}
		level, err := e.syncLevel(ctx, repo, req.UserID, total, p.Level, now)
		if err != nil {
			return err
		}

		res = &UndoResult{
			UserID:      req.UserID,
			Kind:        req.Kind,
			SourceID:    req.SourceID,
			XPDeducted:  entry.TotalXP,
			Counters:    entry.Counters,
			NewXPTotal:  total,
			NewLevel:    level,
			LeveledDown: level < p.Level,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Delete(ctx, cacheKey(req.UserID, req.Kind, req.SourceID))
	}
	metrics.Undos.WithLabelValues(string(req.Kind)).Inc()
	metrics.XPDeducted.Add(float64(res.XPDeducted))
	e.log.Info().Str("user_id", req.UserID).Str("kind", string(req.Kind)).
		Str("source_id", req.SourceID).Int64("xp", res.XPDeducted).Msg("award reversed")
	return res, nil
}

// StartFocus records the server time a focus session began. Completion is
// pro-rated from this row. Starting a session twice returns the first row.
func (e *Engine) StartFocus(ctx context.Context, req FocusStartRequest) (*domain.FocusSession, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.Invalid("session_id", "is required")
	}
	if req.PlannedMinutes <= 0 || req.PlannedMinutes > e.policy.MaxSessionMinutes {
		return nil, domain.Invalid("planned_minutes",
			fmt.Sprintf("must be within [1, %d]", e.policy.MaxSessionMinutes))
	}

	s := domain.FocusSession{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		PlannedMinutes: req.PlannedMinutes,
		StartedAt:      e.clock.Now(),
	}
	repo := e.db.Repo()
	isNew, err := repo.StartFocusSession(ctx, s)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return repo.GetFocusSession(ctx, req.UserID, req.SessionID)
	}
	e.log.Info().Str("user_id", s.UserID).Str("session_id", s.SessionID).
		Int("planned_minutes", s.PlannedMinutes).Msg("focus session started")
	return &s, nil
}

// Profile returns a user's profile, creating it with defaults on first
// access and correcting a stored level that disagrees with the XP total.
func (e *Engine) Profile(ctx context.Context, userID string) (*ProfileView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	now := e.clock.Now()

	var p *domain.Profile
	err := e.db.WithTx(ctx, func(repo *store.Repo) error {
		var err error
		p, err = e.loadProfile(ctx, repo, userID, now, true)
		return err
	})
	if err != nil {
		return nil, err
	}

	next := p.Level + 1
	if next > e.curve.MaxLevel {
		next = e.curve.MaxLevel
	}
	return &ProfileView{
		Profile:          *p,
		NextLevelXP:      e.curve.XPForLevel(next),
		XPToNextLevel:    e.curve.XPToNextLevel(p.XPTotal),
		ProgressPct:      e.curve.ProgressPct(p.XPTotal),
		StreakMultiplier: e.policy.StreakMultiplier(p.CurrentStreak),
		CurveVersion:     CurveVersion,
	}, nil
}

// CheckAchievements evaluates the catalog against the user's current state
// outside of any action.
func (e *Engine) CheckAchievements(ctx context.Context, userID string) (*AchievementResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	now := e.clock.Now()

	var res AchievementResult
	var startLevel, endLevel int
	err := e.db.WithTx(ctx, func(repo *store.Repo) error {
		p, err := e.loadProfile(ctx, repo, userID, now, true)
		if err != nil {
			return err
		}
		startLevel = p.Level

		res, err = e.achievements.CheckAll(ctx, repo, domain.ProgressSnapshot{Profile: *p}, now)
		if err != nil {
			return err
		}
		if err := e.grantAchievements(ctx, repo, userID, &res, now); err != nil {
			return err
		}

		final, err := repo.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		endLevel, err = e.syncLevel(ctx, repo, userID, final.XPTotal, final.Level, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.recordAchievementMetrics(res.Unlocked)
	if endLevel > startLevel {
		metrics.LevelUps.Inc()
		e.notify(ctx, levelUpNotification(userID, endLevel))
	}
	for _, u := range res.Unlocked {
		e.notify(ctx, achievementNotification(userID, u))
	}
	return &res, nil
}

// Achievements returns the catalog annotated with the user's unlocks.
func (e *Engine) Achievements(ctx context.Context, userID string) ([]AchievementStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	return e.achievements.Statuses(ctx, e.db.Repo(), userID)
}

// Challenges returns the user's current daily and weekly instances,
// generating them on first access in a period.
func (e *Engine) Challenges(ctx context.Context, userID string) (*ChallengeBoard, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	now := e.clock.Now()
	today := e.clock.Today()

	var board ChallengeBoard
	err := e.db.WithTx(ctx, func(repo *store.Repo) error {
		if err := repo.EnsureProfile(ctx, userID, now); err != nil {
			return err
		}
		var err error
		board, err = e.challenges.ListForDay(ctx, repo, userID, today)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &board, nil
}

// ChallengeTemplate looks up a challenge template by id.
func (e *Engine) ChallengeTemplate(id string) (domain.ChallengeTemplate, error) {
	return e.challenges.Template(id)
}

// History returns the user's most recent XP ledger rows.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	return e.db.Repo().LedgerEntries(ctx, userID, limit)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// loadProfile locks the profile row (creating it when create is set) and
// heals a stored level that disagrees with the XP total.
func (e *Engine) loadProfile(ctx context.Context, repo *store.Repo, userID string, now time.Time, create bool) (*domain.Profile, error) {
	if create {
		if err := repo.EnsureProfile(ctx, userID, now); err != nil {
			return nil, err
		}
	}
	p, err := repo.LockProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if want := e.curve.LevelForXP(p.XPTotal); want != p.Level {
		e.log.Warn().Str("user_id", userID).Int("stored", p.Level).Int("derived", want).
			Msg("stored level disagrees with xp, correcting")
		if err := repo.SetLevel(ctx, userID, want, now); err != nil {
			return nil, err
		}
		metrics.LevelHeals.Inc()
		p.Level = want
	}
	return p, nil
}

// syncLevel stores the level derived from xp when it differs from stored.
func (e *Engine) syncLevel(ctx context.Context, repo *store.Repo, userID string, xp int64, stored int, now time.Time) (int, error) {
	level := e.curve.LevelForXP(xp)
	if level != stored {
		if err := repo.SetLevel(ctx, userID, level, now); err != nil {
			return 0, err
		}
	}
	return level, nil
}

func replayFromLedger(entry *domain.LedgerEntry, p *domain.Profile) *AwardResult {
	return &AwardResult{
		UserID:        entry.UserID,
		Kind:          entry.SourceType,
		SourceID:      entry.SourceID,
		LedgerID:      entry.ID,
		ActionTotalXP: entry.TotalXP,
		Breakdown: domain.XPBreakdown{
			BaseXP:          entry.BaseXP,
			StreakBonus:     entry.StreakBonus,
			MultiplierBonus: entry.MultiplierBonus,
			TotalXP:         entry.TotalXP,
		},
		NewXPTotal:    p.XPTotal,
		NewLevel:      p.Level,
		NewStreak:     p.CurrentStreak,
		LongestStreak: p.LongestStreak,
		Replayed:      true,
	}
}

func belowThresholdResult(req AwardRequest, c Credit, p *domain.Profile) *AwardResult {
	return &AwardResult{
		UserID:   req.UserID,
		Kind:     req.Action.Source(),
		SourceID: req.Action.SourceID(),
		Breakdown: domain.XPBreakdown{
			CompletionRatio: c.CompletionRatio,
			BelowThreshold:  true,
		},
		NewXPTotal:     p.XPTotal,
		NewLevel:       p.Level,
		NewStreak:      p.CurrentStreak,
		LongestStreak:  p.LongestStreak,
		BelowThreshold: true,
	}
}

// resolveFocus replaces a focus action's timing with the stored session.
func (e *Engine) resolveFocus(ctx context.Context, userID string, a domain.Action) (domain.Action, error) {
	f, ok := a.(domain.FocusCompleted)
	if !ok {
		return a, nil
	}
	s, err := e.db.Repo().GetFocusSession(ctx, userID, f.SessionID)
	if err != nil {
		return nil, err
	}
	f.PlannedMinutes = s.PlannedMinutes
	f.StartedAt = s.StartedAt
	return f, nil
}

func cacheKey(userID string, kind domain.SourceType, sourceID string) string {
	return "award:" + userID + ":" + string(kind) + ":" + sourceID
}

// cachedResult returns a cached award only while the ledger row it
// describes is still the active one. Another node may have undone and
// re-granted the source since the entry was written.
func (e *Engine) cachedResult(ctx context.Context, key, userID string, kind domain.SourceType, sourceID string) *AwardResult {
	if e.cache == nil {
		return nil
	}
	raw, ok := e.cache.Get(ctx, key)
	if !ok {
		return nil
	}
	var res AwardResult
	if err := json.Unmarshal(raw, &res); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable cached result")
		e.cache.Delete(ctx, key)
		return nil
	}

	entry, err := e.db.Repo().GetLedgerEntry(ctx, userID, kind, sourceID)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("ledger check failed, skipping cache")
		return nil
	}
	if entry == nil || !entry.Active() || entry.ID != res.LedgerID {
		e.log.Debug().Str("key", key).Msg("cached result is stale")
		e.cache.Delete(ctx, key)
		return nil
	}
	res.Replayed = true
	return &res
}

func (e *Engine) storeResult(ctx context.Context, key string, res *AwardResult) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("cache").Inc()
		return
	}
	e.cache.Set(ctx, key, raw)
}

func (e *Engine) recordAwardMetrics(res *AwardResult, startLevel int) {
	metrics.AwardsTotal.WithLabelValues(string(res.Kind), "awarded").Inc()
	metrics.XPAwarded.WithLabelValues(string(res.Kind)).Add(float64(res.ActionTotalXP))
	if res.Bonus.AchievementXP > 0 {
		metrics.XPAwarded.WithLabelValues(string(domain.SourceAchievement)).Add(float64(res.Bonus.AchievementXP))
	}
	if res.Bonus.ChallengeXP > 0 {
		metrics.XPAwarded.WithLabelValues(string(domain.SourceChallenge)).Add(float64(res.Bonus.ChallengeXP))
	}
	if res.NewLevel > startLevel {
		metrics.LevelUps.Add(float64(res.NewLevel - startLevel))
	}
	e.recordAchievementMetrics(res.AchievementsUnlocked)
	for _, c := range res.ChallengesCompleted {
		metrics.ChallengesCompleted.WithLabelValues(string(c.Periodicity)).Inc()
	}
}

func (e *Engine) recordAchievementMetrics(unlocked []UnlockedAchievement) {
	for _, u := range unlocked {
		metrics.AchievementsUnlocked.WithLabelValues(u.ID).Inc()
	}
}

// notifyAward writes feed entries for the progress moments of an award.
func (e *Engine) notifyAward(ctx context.Context, res *AwardResult, startLevel int) {
	if e.notifier == nil {
		return
	}
	if res.Kind == domain.SourceReferral {
		e.notify(ctx, referralNotification(res.UserID, res.ActionTotalXP))
	}
	if res.NewLevel > startLevel {
		e.notify(ctx, levelUpNotification(res.UserID, res.NewLevel))
	}
	for _, u := range res.AchievementsUnlocked {
		e.notify(ctx, achievementNotification(res.UserID, u))
	}
	for _, c := range res.ChallengesCompleted {
		e.notify(ctx, challengeNotification(res.UserID, c))
	}
}

func (e *Engine) notify(ctx context.Context, n domain.Notification) {
	if e.notifier == nil {
		return
	}
	if _, err := e.notifier.Notify(ctx, n); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		e.log.Warn().Err(err).Str("user_id", n.UserID).Str("type", string(n.Type)).
			Msg("notification failed")
	}
}
