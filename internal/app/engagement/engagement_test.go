package engagement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/store"
)

// day0 is a Tuesday, midday UTC.
var day0 = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLite(t.TempDir())
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func newEngine(t *testing.T, clock domain.Clock, opts ...engagement.Option) (*engagement.Engine, *store.DB) {
	t.Helper()
	db := testDB(t)
	return engagement.NewEngine(db, clock, zerolog.Nop(), opts...), db
}

// bare disables achievements and challenges so only action XP moves.
func bare() []engagement.Option {
	return []engagement.Option{
		engagement.WithCatalog(nil),
		engagement.WithChallengeTemplates(nil, nil, 0, 0),
	}
}

func award(t *testing.T, e *engagement.Engine, userID string, a domain.Action) *engagement.AwardResult {
	t.Helper()
	res, err := e.Award(context.Background(), engagement.AwardRequest{UserID: userID, Action: a})
	require.NoError(t, err)
	return res
}

func task(id string) domain.TaskCompleted { return domain.TaskCompleted{TaskID: id} }

// focusSession starts a session elapsed before the clock's time, then
// completes it at the clock's time.
func focusSession(t *testing.T, e *engagement.Engine, clock *domain.FixedClock, userID, id string, planned int, elapsed time.Duration) *engagement.AwardResult {
	t.Helper()
	end := clock.Now()
	clock.Set(end.Add(-elapsed))
	_, err := e.StartFocus(context.Background(), engagement.FocusStartRequest{UserID: userID, SessionID: id, PlannedMinutes: planned})
	clock.Set(end)
	require.NoError(t, err)
	return award(t, e, userID, domain.FocusCompleted{SessionID: id})
}

// ═══════════════════════════════════════════════════════════════════════════
// Leveling Curve
// ═══════════════════════════════════════════════════════════════════════════

func TestCurve_KnownThresholds(t *testing.T) {
	cases := map[int]int64{0: 0, 1: 0, 2: 100, 3: 283, 4: 520, 5: 800, 6: 1119}
	for level, want := range cases {
		assert.Equal(t, want, engagement.XPForLevel(level), "level %d", level)
	}
}

func TestCurve_MonotonicNonDecreasing(t *testing.T) {
	prev := engagement.LevelForXP(0)
	require.Equal(t, 1, prev)
	for xp := int64(1); xp <= 200000; xp += 7 {
		lvl := engagement.LevelForXP(xp)
		if lvl < prev {
			t.Fatalf("LevelForXP(%d) = %d, below previous %d", xp, lvl, prev)
		}
		prev = lvl
	}
}

func TestCurve_InverseAtBoundaries(t *testing.T) {
	c := engagement.DefaultCurve
	for L := 1; L <= c.MaxLevel; L++ {
		threshold := c.XPForLevel(L)
		if got := c.LevelForXP(threshold); got != L {
			t.Fatalf("LevelForXP(XPForLevel(%d)) = %d", L, got)
		}
		if L > 1 {
			if got := c.LevelForXP(threshold - 1); got != L-1 {
				t.Fatalf("LevelForXP(XPForLevel(%d)-1) = %d, want %d", L, got, L-1)
			}
		}
	}
	assert.Equal(t, c.MaxLevel, c.LevelForXP(1<<40), "cap at max level")
}

func TestCurve_ProgressHelpers(t *testing.T) {
	c := engagement.DefaultCurve
	assert.Equal(t, int64(100), c.XPToNextLevel(0))
	assert.Equal(t, int64(50), c.XPToNextLevel(50))
	assert.InDelta(t, 50.0, c.ProgressPct(50), 0.001)
	assert.Equal(t, int64(0), c.XPToNextLevel(1<<40))
	assert.Equal(t, 100.0, c.ProgressPct(1<<40))
}

func TestCurve_Validate(t *testing.T) {
	assert.NoError(t, engagement.DefaultCurve.Validate())
	assert.Error(t, engagement.Curve{Base: 0, Exponent: 1.5, MaxLevel: 100}.Validate())
	assert.Error(t, engagement.Curve{Base: 100, Exponent: 0, MaxLevel: 100}.Validate())
	assert.Error(t, engagement.Curve{Base: 100, Exponent: 1.5, MaxLevel: 1}.Validate())
	assert.Error(t, engagement.Curve{Base: 1e9, Exponent: 3, MaxLevel: 10000}.Validate(), "thresholds overflow")

	flat := engagement.Curve{Base: 1, Exponent: 0.1, MaxLevel: 100}
	require.Equal(t, flat.XPForLevel(3), flat.XPForLevel(4), "ceil collapses levels 3 and 4")
	err := flat.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increase")

	// Any curve that validates keeps LevelForXP an exact inverse.
	for _, c := range []engagement.Curve{
		{Base: 10, Exponent: 1, MaxLevel: 50},
		{Base: 50, Exponent: 2, MaxLevel: 200},
	} {
		require.NoError(t, c.Validate())
		for L := 1; L <= c.MaxLevel; L++ {
			require.Equal(t, L, c.LevelForXP(c.XPForLevel(L)), "%+v level %d", c, L)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Calculator
// ═══════════════════════════════════════════════════════════════════════════

func TestCalculate_FlatTaskXP(t *testing.T) {
	p := engagement.DefaultPolicy()
	bd := p.Calculate(p.TaskXP, 1, 1.0)
	assert.Equal(t, int64(15), bd.TotalXP)
	assert.Zero(t, bd.StreakBonus)
	assert.Zero(t, bd.MultiplierBonus)
}

func TestCalculate_StreakBonus(t *testing.T) {
	p := engagement.DefaultPolicy()
	cases := []struct {
		streak int
		bonus  int64
	}{
		{0, 0}, {1, 0}, {2, 1}, {3, 2}, {11, 8}, {50, 8},
	}
	for _, tc := range cases {
		bd := p.Calculate(15, tc.streak, 1.0)
		assert.Equal(t, tc.bonus, bd.StreakBonus, "streak %d", tc.streak)
		assert.Equal(t, 15+tc.bonus, bd.TotalXP, "streak %d", tc.streak)
	}
	assert.InDelta(t, 0.5, p.StreakRate(100), 1e-9, "capped at 50%")
	assert.InDelta(t, 1.25, p.StreakMultiplier(6), 1e-9)
}

func TestCalculate_PermanentBonus(t *testing.T) {
	p := engagement.DefaultPolicy()
	bd := p.Calculate(15, 1, 1.2)
	assert.Equal(t, int64(18), bd.TotalXP)
	assert.Equal(t, int64(3), bd.MultiplierBonus)
	assert.InDelta(t, 1.2, bd.Multiplier, 1e-9)
}

func TestCalculate_CapAndClamp(t *testing.T) {
	p := engagement.DefaultPolicy()

	// (15 + 8) * 1.5 = 34.5 -> 35, capped at round(15 * 2.0) = 30.
	bd := p.Calculate(15, 20, 1.5)
	assert.True(t, bd.Capped)
	assert.Equal(t, int64(30), bd.TotalXP)
	assert.Equal(t, int64(8), bd.StreakBonus)
	assert.Equal(t, int64(7), bd.MultiplierBonus)

	assert.InDelta(t, 1.0, p.Calculate(15, 1, 0.5).Multiplier, 1e-9, "bonus below 1 clamps up")
	assert.InDelta(t, 1.5, p.Calculate(15, 1, 3.0).Multiplier, 1e-9, "bonus above max clamps down")
	assert.Zero(t, p.Calculate(0, 10, 1.5).TotalXP)
}

func TestCreditFor_FocusProRating(t *testing.T) {
	p := engagement.DefaultPolicy()
	now := day0

	at := func(elapsed time.Duration) domain.FocusCompleted {
		return domain.FocusCompleted{SessionID: "s", PlannedMinutes: 60, StartedAt: now.Add(-elapsed)}
	}

	half, err := p.CreditFor(at(30*time.Minute), now)
	require.NoError(t, err)
	assert.False(t, half.BelowThreshold)
	assert.Equal(t, int64(30), half.BaseXP, "60 * 0.5")
	assert.Equal(t, 30, half.CreditedMinutes)

	short, err := p.CreditFor(at(20*time.Minute), now)
	require.NoError(t, err)
	assert.True(t, short.BelowThreshold)
	assert.Zero(t, short.BaseXP)

	over, err := p.CreditFor(at(3*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(60), over.BaseXP, "elapsed capped at planned")
	assert.InDelta(t, 1.0, over.CompletionRatio, 1e-9)

	_, err = p.CreditFor(domain.FocusCompleted{SessionID: "s", PlannedMinutes: 481, StartedAt: now.Add(-time.Hour)}, now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = p.CreditFor(domain.FocusCompleted{SessionID: "s", PlannedMinutes: 30, StartedAt: now.Add(time.Minute)}, now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, engagement.DefaultPolicy().Validate())

	bad := engagement.DefaultPolicy()
	bad.FocusMinRatio = 1.5
	assert.Error(t, bad.Validate())

	bad = engagement.DefaultPolicy()
	bad.TaskXP = -1
	assert.Error(t, bad.Validate())

	bad = engagement.DefaultPolicy()
	bad.MaxMultiplier = 0.5
	assert.Error(t, bad.Validate())
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Tracker
// ═══════════════════════════════════════════════════════════════════════════

func TestAdvanceStreak_Boundaries(t *testing.T) {
	today := domain.DateOf(day0)

	st := domain.StreakState{Current: 5, Longest: 5, LastActiveDate: today.AddDays(-1)}
	st, advanced := engagement.AdvanceStreak(st, today)
	assert.True(t, advanced)
	assert.Equal(t, 6, st.Current)
	assert.Equal(t, 6, st.Longest)
	assert.Equal(t, today, st.LastActiveDate)

	st, advanced = engagement.AdvanceStreak(st, today)
	assert.False(t, advanced, "same day never advances twice")
	assert.Equal(t, 6, st.Current)

	later := today.AddDays(3)
	st, advanced = engagement.AdvanceStreak(st, later)
	assert.True(t, advanced)
	assert.Equal(t, 1, st.Current, "gap resets")
	assert.Equal(t, 6, st.Longest, "longest preserved")
}

func TestAdvanceStreak_FirstAndSingleMissedDay(t *testing.T) {
	today := domain.DateOf(day0)

	st, _ := engagement.AdvanceStreak(domain.StreakState{}, today)
	assert.Equal(t, 1, st.Current)
	assert.Equal(t, 1, st.Longest)

	st, _ = engagement.AdvanceStreak(domain.StreakState{Current: 4, Longest: 4, LastActiveDate: today.AddDays(-2)}, today)
	assert.Equal(t, 1, st.Current, "one missed day breaks the streak")
}

func TestAdvanceStreak_AcrossMonthBoundary(t *testing.T) {
	jul1 := domain.Date{Year: 2025, Month: time.July, Day: 1}
	st, _ := engagement.AdvanceStreak(domain.StreakState{Current: 2, Longest: 2, LastActiveDate: domain.Date{Year: 2025, Month: time.June, Day: 30}}, jul1)
	assert.Equal(t, 3, st.Current)
}

// ═══════════════════════════════════════════════════════════════════════════
// Award Orchestrator
// ═══════════════════════════════════════════════════════════════════════════

func TestAward_ThreeConsecutiveDays(t *testing.T) {
	clock := domain.NewFixedClock(day0)
	e, _ := newEngine(t, clock, bare()...)

	var streakBonus int64
	for i := 0; i < 3; i++ {
		res := award(t, e, "u1", task("t"+string(rune('1'+i))))
		streakBonus += res.Breakdown.StreakBonus
		clock.Advance(24 * time.Hour)
	}

	p, err := e.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), streakBonus, "1 + 2")
	assert.Equal(t, 45+streakBonus, p.XPTotal)
	assert.Equal(t, 3, p.CurrentStreak)
	assert.Equal(t, 3, p.LongestStreak)
	assert.Equal(t, int64(3), p.Counters.Get(domain.CounterTasks))
}

func TestAward_PermanentBonusApplied(t *testing.T) {
	clock := domain.NewFixedClock(day0)
	e, db := newEngine(t, clock, bare()...)
	ctx := context.Background()

	repo := db.Repo()
	require.NoError(t, repo.EnsureProfile(ctx, "u1", day0))
	_, err := repo.AddPermanentBonus(ctx, "u1", 0.2, 1.5, day0)
	require.NoError(t, err)

	res := award(t, e, "u1", task("t1"))
	assert.Equal(t, int64(18), res.ActionTotalXP)
	assert.Equal(t, int64(18), res.NewXPTotal)
}

func TestAward_SameDayAdvancesStreakOnce(t *testing.T) {
	e, _ := newEngine(t, domain.NewFixedClock(day0), bare()...)

	award(t, e, "u1", task("t1"))
	res := award(t, e, "u1", task("t2"))
	assert.Equal(t, 1, res.NewStreak)
	assert.Equal(t, int64(15), res.ActionTotalXP)
}

func TestAward_RetryReplaysOriginalResult(t *testing.T) {
	e, _ := newEngine(t, domain.NewFixedClock(day0), bare()...)

	first := award(t, e, "u1", task("t1"))
	again := award(t, e, "u1", task("t1"))

	assert.False(t, first.Replayed)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.ActionTotalXP, again.ActionTotalXP)
	assert.Equal(t, int64(15), again.NewXPTotal, "no double award")
}

func TestAward_FocusProRatedAndBelowThreshold(t *testing.T) {
	clock := domain.NewFixedClock(day0)
	e, _ := newEngine(t, clock, bare()...)

	half := focusSession(t, e, clock, "u1", "s1", 60, 30*time.Minute)
	assert.Equal(t, int64(30), half.ActionTotalXP)
	assert.False(t, half.BelowThreshold)

	low := focusSession(t, e, clock, "u2", "s2", 60, 20*time.Minute)
	assert.True(t, low.BelowThreshold)
	assert.True(t, low.Breakdown.BelowThreshold)
	assert.Zero(t, low.ActionTotalXP)
	assert.Zero(t, low.NewXPTotal)
	assert.Zero(t, low.NewStreak, "not a qualifying action")

	hist, err := e.History(context.Background(), "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestAward_FocusTimingComesFromStartedSession(t *testing.T) {
	clock := domain.NewFixedClock(day0)
	e, _ := newEngine(t, clock, bare()...)
	ctx := context.Background()

	s, err := e.StartFocus(ctx, engagement.FocusStartRequest{UserID: "u1", SessionID: "s1", PlannedMinutes: 60})
	require.NoError(t, err)
	assert.True(t, s.StartedAt.Equal(day0))

	clock.Advance(10 * time.Minute)
	again, err := e.StartFocus(ctx, engagement.FocusStartRequest{UserID: "u1", SessionID: "s1", PlannedMinutes: 480})
	require.NoError(t, err)
	assert.True(t, again.StartedAt.Equal(day0), "restarting keeps the first start")
	assert.Equal(t, 60, again.PlannedMinutes)

	res := award(t, e, "u1", domain.FocusCompleted{
		SessionID:      "s1",
		PlannedMinutes: 480,
		StartedAt:      day0.Add(-8 * time.Hour),
	})
	assert.True(t, res.BelowThreshold, "10 of 60 minutes, whatever the caller claims")
	assert.Zero(t, res.ActionTotalXP)
	assert.InDelta(t, 10.0/60.0, res.Breakdown.CompletionRatio, 1e-9)
}

func TestAward_ValidationWritesNothing(t *testing.T) {
	e, db := newEngine(t, domain.NewFixedClock(day0), bare()...)
	ctx := context.Background()

	cases := []engagement.AwardRequest{
		{UserID: "", Action: task("t1")},
		{UserID: "u1", Action: nil},
		{UserID: "u1", Action: task(" ")},
		{UserID: "u1", Action: domain.HabitCompleted{HabitID: "h", CompletedToday: -1}},
		{UserID: "u1", Action: domain.FocusCompleted{SessionID: " "}},
	}
	for i, req := range cases {
		_, err := e.Award(ctx, req)
		assert.ErrorIs(t, err, domain.ErrValidation, "case %d", i)
	}

	for _, planned := range []int{0, 600} {
		_, err := e.StartFocus(ctx, engagement.FocusStartRequest{UserID: "u1", SessionID: "s", PlannedMinutes: planned})
		assert.ErrorIs(t, err, domain.ErrValidation, "planned %d", planned)
	}
	_, err := e.Award(ctx, engagement.AwardRequest{UserID: "u1", Action: domain.FocusCompleted{SessionID: "never-started"}})
	assert.ErrorIs(t, err, domain.ErrFocusSessionNotFound)

	_, err = db.Repo().GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestAward_EarlyBirdAndLongFocusCounters(t *testing.T) {
	early := time.Date(2025, 7, 1, 6, 30, 0, 0, time.UTC)
	clock := domain.NewFixedClock(early)
	e, _ := newEngine(t, clock, bare()...)

	award(t, e, "u1", domain.TaskCompleted{TaskID: "t1", HighPriority: true})
	focusSession(t, e, clock, "u1", "s1", 120, 2*time.Hour)

	p, err := e.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Counters.Get(domain.CounterEarlyBird))
	assert.Equal(t, int64(1), p.Counters.Get(domain.CounterHighPriority))
	assert.Equal(t, int64(0), p.Counters.Get(domain.CounterNightOwl))
	assert.Equal(t, int64(120), p.Counters.Get(domain.CounterFocusMinutes))
	assert.Equal(t, int64(1), p.Counters.Get(domain.CounterLongFocus))
}

func TestAward_ConcurrentRetriesAwardOnce(t *testing.T) {
	e, db := newEngine(t, domain.NewFixedClock(day0), bare()...)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*engagement.AwardResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Award(ctx, engagement.AwardRequest{UserID: "u1", Action: task("t1")})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	p, err := db.Repo().GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), p.XPTotal)
}

// ═══════════════════════════════════════════════════════════════════════════
// Undo
// ═══════════════════════════════════════════════════════════════════════════

func TestUndo_RoundTripRestoresProfile(t *testing.T) {
	e, db := newEngine(t, domain.NewFixedClock(day0))
	ctx := context.Background()

	award(t, e, "u1", task("t1")) // unlocks first_task
	before, err := e.Profile(ctx, "u1")
	require.NoError(t, err)

	award(t, e, "u1", task("t2"))
	undo, err := e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, int64(15), undo.XPDeducted)

	after, err := e.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.XPTotal, after.XPTotal)
	assert.Equal(t, before.Level, after.Level)
	assert.Equal(t, before.Counters, after.Counters)

	active, err := db.Repo().ActiveXP(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, after.XPTotal, active, "ledger agrees with profile")
}

func TestUndo_KeepsAchievementRewardOfUndoneAction(t *testing.T) {
	e, _ := newEngine(t, domain.NewFixedClock(day0))
	ctx := context.Background()

	first := award(t, e, "u1", task("t1"))
	require.Len(t, first.AchievementsUnlocked, 1)
	assert.Equal(t, "first_task", first.AchievementsUnlocked[0].ID)
	assert.Equal(t, int64(25), first.NewXPTotal, "15 for the task, 10 for first_task")

	undo, err := e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(15), undo.XPDeducted, "only the action's own XP")

	p, err := e.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.XPTotal, "the earned achievement reward stays")
	assert.Zero(t, p.Counters.Get(domain.CounterTasks))

	list, err := e.Achievements(ctx, "u1")
	require.NoError(t, err)
	for _, a := range list {
		if a.ID == "first_task" {
			assert.True(t, a.Unlocked, "unlock survives the undo")
		}
	}
}

func TestUndo_UsesStoredAmountNotRecomputed(t *testing.T) {
	clock := domain.NewFixedClock(day0)
	e, _ := newEngine(t, clock, bare()...)
	ctx := context.Background()

	focusSession(t, e, clock, "u1", "s1", 60, 45*time.Minute)
	clock.Advance(24 * time.Hour)
	award(t, e, "u1", task("t1")) // streak 2: worth 16

	undo, err := e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceFocus, SourceID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(45), undo.XPDeducted)
	assert.Equal(t, int64(16), undo.NewXPTotal)

	p, err := e.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, p.Counters.Get(domain.CounterFocusSessions))
	assert.Zero(t, p.Counters.Get(domain.CounterFocusMinutes))
	assert.Equal(t, int64(1), p.Counters.Get(domain.CounterTasks))
}

func TestUndo_MissingOrRepeated(t *testing.T) {
	e, _ := newEngine(t, domain.NewFixedClock(day0), bare()...)
	ctx := context.Background()

	_, err := e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	award(t, e, "u1", task("t1"))
	_, err = e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "t1"})
	require.NoError(t, err)
	_, err = e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "t1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceAchievement, SourceID: "first_task"})
	assert.ErrorIs(t, err, domain.ErrValidation, "only actions are undoable")
}

func TestUndo_ThenCompleteAgainReawards(t *testing.T) {
	e, _ := newEngine(t, domain.NewFixedClock(day0), bare()...)
	ctx := context.Background()

	award(t, e, "u1", task("t1"))
	_, err := e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "t1"})
	require.NoError(t, err)

	res := award(t, e, "u1", task("t1"))
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(15), res.NewXPTotal)

	hist, err := e.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Active())
}

// ═══════════════════════════════════════════════════════════════════════════
// Profile
// ═══════════════════════════════════════════════════════════════════════════

func TestProfile_LazyDefaults(t *testing.T) {
	e, _ := newEngine(t, domain.NewFixedClock(day0), bare()...)

	p, err := e.Profile(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Zero(t, p.XPTotal)
	assert.Equal(t, 1, p.Level)
	assert.Zero(t, p.CurrentStreak)
	assert.True(t, p.LastActiveDate.IsZero())
	assert.InDelta(t, 1.0, p.PermanentXPBonus, 1e-9)
	assert.Equal(t, engagement.CurveVersion, p.CurveVersion)
	assert.Equal(t, int64(100), p.XPToNextLevel)
}

func TestProfile_SelfHealsDriftedLevel(t *testing.T) {
	e, db := newEngine(t, domain.NewFixedClock(day0), bare()...)
	ctx := context.Background()

	repo := db.Repo()
	require.NoError(t, repo.EnsureProfile(ctx, "u1", day0))
	_, err := repo.AddXP(ctx, "u1", 500, day0) // level column left at 1
	require.NoError(t, err)

	p, err := e.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Level)

	stored, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Level, "correction persisted")
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievements
// ═══════════════════════════════════════════════════════════════════════════

func TestCheckAll_IdempotentAcrossRuns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	eval := engagement.NewAchievementEvaluator(engagement.AllAchievements(), zerolog.Nop())

	snap := domain.ProgressSnapshot{Profile: domain.NewProfile("u1", day0)}
	snap.Counters = domain.Counters{domain.CounterTasks: 10}
	snap.CurrentStreak = 3

	var total int
	for run := 0; run < 2; run++ {
		require.NoError(t, db.WithTx(ctx, func(r *store.Repo) error {
			res, err := eval.CheckAll(ctx, r, snap, day0)
			total += len(res.Unlocked)
			if run == 1 {
				assert.Empty(t, res.Unlocked, "second run finds rows present")
				assert.Zero(t, res.TotalXPAwarded)
			}
			return err
		}))
	}
	assert.Equal(t, 3, total, "first_task, tasks_10, streak_3")

	unlocks, err := db.Repo().ListAchievementUnlocks(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, unlocks, 3)
}

func TestAward_AchievementXPReportedSeparately(t *testing.T) {
	e, _ := newEngine(t, domain.NewFixedClock(day0))

	res := award(t, e, "u1", task("t1"))
	assert.Equal(t, int64(15), res.ActionTotalXP)
	assert.Equal(t, int64(10), res.Bonus.AchievementXP)
	require.Len(t, res.AchievementsUnlocked, 1)
	assert.Equal(t, "first_task", res.AchievementsUnlocked[0].ID)
	assert.Equal(t, int64(25), res.NewXPTotal)
}

func TestAward_PredicatesSeeCommittedSnapshotOnly(t *testing.T) {
	catalog := []domain.AchievementDef{
		{ID: "big", RewardXP: 1000, Predicate: func(s domain.ProgressSnapshot) bool {
			return s.Counters.Get(domain.CounterTasks) >= 1
		}},
		{ID: "lvl5", RewardXP: 5, Predicate: func(s domain.ProgressSnapshot) bool { return s.Level >= 5 }},
	}
	e, _ := newEngine(t, domain.NewFixedClock(day0),
		engagement.WithCatalog(catalog), engagement.WithChallengeTemplates(nil, nil, 0, 0))
	ctx := context.Background()

	res := award(t, e, "u1", task("t1"))
	require.Len(t, res.AchievementsUnlocked, 1)
	assert.Equal(t, "big", res.AchievementsUnlocked[0].ID)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 5, res.NewLevel, "1015 XP")

	check, err := e.CheckAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, check.Unlocked, 1)
	assert.Equal(t, "lvl5", check.Unlocked[0].ID)
	assert.Equal(t, int64(5), check.TotalXPAwarded)

	statuses, err := e.Achievements(ctx, "u1")
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Unlocked, s.ID)
	}
}

func TestAward_AchievementRaisesPermanentBonus(t *testing.T) {
	catalog := []domain.AchievementDef{
		{ID: "boost", BonusIncrement: 0.2, Predicate: func(s domain.ProgressSnapshot) bool {
			return s.Counters.Get(domain.CounterTasks) >= 1
		}},
	}
	e, _ := newEngine(t, domain.NewFixedClock(day0),
		engagement.WithCatalog(catalog), engagement.WithChallengeTemplates(nil, nil, 0, 0))

	first := award(t, e, "u1", task("t1"))
	assert.Equal(t, int64(15), first.ActionTotalXP, "bonus applies after the pass")

	second := award(t, e, "u1", task("t2"))
	assert.Equal(t, int64(18), second.ActionTotalXP)
}

// ═══════════════════════════════════════════════════════════════════════════
// Replay cache
// ═══════════════════════════════════════════════════════════════════════════

type memCache struct {
	mu   sync.Mutex
	m    map[string][]byte
	hits int
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *memCache) Set(_ context.Context, key string, val []byte) {
	c.mu.Lock()
	c.m[key] = val
	c.mu.Unlock()
}

func (c *memCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func TestAward_ReplayFromCacheAndInvalidateOnUndo(t *testing.T) {
	cache := &memCache{m: map[string][]byte{}}
	opts := append(bare(), engagement.WithResultCache(cache))
	e, _ := newEngine(t, domain.NewFixedClock(day0), opts...)
	ctx := context.Background()

	first := award(t, e, "u1", task("t1"))
	again := award(t, e, "u1", task("t1"))
	assert.True(t, again.Replayed)
	assert.Equal(t, first.NewXPTotal, again.NewXPTotal)
	assert.Equal(t, 1, cache.hits)

	_, err := e.Undo(ctx, engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, cache.m)

	redo := award(t, e, "u1", task("t1"))
	assert.False(t, redo.Replayed)
}

func TestAward_CacheEntryFromAnotherNodeYieldsToLedger(t *testing.T) {
	db := testDB(t)
	clock := domain.NewFixedClock(day0)
	cacheA := &memCache{m: map[string][]byte{}}
	cacheB := &memCache{m: map[string][]byte{}}
	nodeA := engagement.NewEngine(db, clock, zerolog.Nop(), append(bare(), engagement.WithResultCache(cacheA))...)
	nodeB := engagement.NewEngine(db, clock, zerolog.Nop(), append(bare(), engagement.WithResultCache(cacheB))...)
	ctx := context.Background()
	undoT1 := engagement.UndoRequest{UserID: "u1", Kind: domain.SourceTask, SourceID: "t1"}

	award(t, nodeA, "u1", task("t1"))
	_, err := nodeB.Undo(ctx, undoT1)
	require.NoError(t, err)
	require.Len(t, cacheA.m, 1, "node A still holds its entry")

	redo := award(t, nodeA, "u1", task("t1"))
	assert.False(t, redo.Replayed, "reversed row is granted again")
	assert.Equal(t, int64(15), redo.NewXPTotal)
	p, err := db.Repo().GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), p.XPTotal)

	again := award(t, nodeA, "u1", task("t1"))
	assert.True(t, again.Replayed)
	assert.Equal(t, redo.LedgerID, again.LedgerID)

	// Undone and re-granted on B: A's entry names a row id that is gone.
	_, err = nodeB.Undo(ctx, undoT1)
	require.NoError(t, err)
	onB := award(t, nodeB, "u1", task("t1"))
	require.False(t, onB.Replayed)

	fromA := award(t, nodeA, "u1", task("t1"))
	assert.True(t, fromA.Replayed)
	assert.Equal(t, onB.LedgerID, fromA.LedgerID)
	assert.NotEqual(t, redo.LedgerID, onB.LedgerID)

	active, err := db.Repo().ActiveXP(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), active)
}
