package engagement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func TestNotify_PushCapPerDay(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	policy := domain.NotificationPolicy{MaxPushPerDay: 1, QuietStart: "22:00", QuietEnd: "08:00"}
	n := engagement.NewNotificationService(db, policy, domain.NewFixedClock(day0), nil, zerolog.Nop())

	first, err := n.Notify(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyLevelUp, Title: "a"})
	require.NoError(t, err)
	assert.True(t, first.Pushed)
	assert.NotZero(t, first.ID)

	second, err := n.Notify(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyAchievement, Title: "b"})
	require.NoError(t, err)
	assert.False(t, second.Pushed, "over the daily cap")

	other, err := n.Notify(ctx, domain.Notification{UserID: "u2", Type: domain.NotifyAchievement, Title: "c"})
	require.NoError(t, err)
	assert.True(t, other.Pushed, "cap is per user")

	feed, err := n.List(ctx, "u1", false, 10)
	require.NoError(t, err)
	assert.Len(t, feed, 2, "every entry reaches the feed")
}

func TestNotify_QuietHoursSuppressPush(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	clock := domain.NewFixedClock(time.Date(2025, 7, 1, 23, 15, 0, 0, time.UTC))
	n := engagement.NewNotificationService(db, domain.DefaultNotificationPolicy(), clock, nil, zerolog.Nop())

	late, err := n.Notify(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyLevelUp})
	require.NoError(t, err)
	assert.False(t, late.Pushed)

	clock.Set(time.Date(2025, 7, 2, 7, 59, 0, 0, time.UTC))
	early, err := n.Notify(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyLevelUp})
	require.NoError(t, err)
	assert.False(t, early.Pushed)

	clock.Set(time.Date(2025, 7, 2, 8, 0, 0, 0, time.UTC))
	morning, err := n.Notify(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyLevelUp})
	require.NoError(t, err)
	assert.True(t, morning.Pushed)
}

func TestNotify_MarkShown(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	n := engagement.NewNotificationService(db, domain.DefaultNotificationPolicy(), domain.NewFixedClock(day0), nil, zerolog.Nop())

	notif, err := n.Notify(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyReferral})
	require.NoError(t, err)

	pending, err := n.List(ctx, "u1", true, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, n.MarkShown(ctx, "u1", notif.ID))
	pending, err = n.List(ctx, "u1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, n.MarkShown(ctx, "u2", notif.ID), domain.ErrNotFound, "scoped to owner")
	assert.ErrorIs(t, n.MarkShown(ctx, "u1", 9999), domain.ErrNotFound)
}

func TestNotify_PublishFailureIsBestEffort(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	n := engagement.NewNotificationService(db, domain.DefaultNotificationPolicy(), domain.NewFixedClock(day0), pub, zerolog.Nop())

	_, err := n.Notify(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyLevelUp})
	require.NoError(t, err)

	feed, err := n.List(ctx, "u1", false, 10)
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestAward_NotifiesProgressMoments(t *testing.T) {
	clock := domain.NewFixedClock(day0)
	db := testDB(t)
	pub := &recordingPublisher{}
	notifier := engagement.NewNotificationService(db, domain.DefaultNotificationPolicy(), clock, pub, zerolog.Nop())
	e := engagement.NewEngine(db, clock, zerolog.Nop(),
		engagement.WithChallengeTemplates(nil, nil, 0, 0),
		engagement.WithNotifier(notifier))

	res := award(t, e, "u1", domain.ReferralCompleted{ReferredUserID: "friend"})
	assert.Equal(t, int64(100), res.ActionTotalXP)
	assert.True(t, res.LeveledUp, "100 + 50 XP reaches level 2")

	types := map[domain.NotificationType]int{}
	for _, ev := range pub.events {
		types[ev.Type]++
		assert.Equal(t, "u1", ev.UserID)
	}
	assert.Equal(t, 1, types[domain.NotifyReferral])
	assert.Equal(t, 1, types[domain.NotifyLevelUp])
	assert.Equal(t, 1, types[domain.NotifyAchievement], "referral_1")

	feed, err := notifier.List(context.Background(), "u1", false, 10)
	require.NoError(t, err)
	assert.Len(t, feed, 3)
}

func TestValidHHMM(t *testing.T) {
	assert.True(t, engagement.ValidHHMM("22:00"))
	assert.True(t, engagement.ValidHHMM("00:59"))
	assert.False(t, engagement.ValidHHMM("24:00"))
	assert.False(t, engagement.ValidHHMM("7:00"))
	assert.False(t, engagement.ValidHHMM("07-00"))
}
