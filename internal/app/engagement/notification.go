package engagement

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/streakforge/streakforge/internal/domain"
	"github.com/streakforge/streakforge/internal/infra/metrics"
	"github.com/streakforge/streakforge/internal/infra/store"
)

// EventPublisher delivers progress events to the outside world.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ProgressEvent) error
}

// NotificationService keeps the in-app feed and publishes each entry.
// Every entry lands in the feed; the push flag is set only outside quiet
// hours and under the per-day cap. Only progress moments are reported
// (level up, achievement, challenge, referral), never "streak at risk".
type NotificationService struct {
	db        *store.DB
	policy    domain.NotificationPolicy
	clock     domain.Clock
	publisher EventPublisher
	log       zerolog.Logger
}

// NewNotificationService creates a notification service. publisher may be nil.
func NewNotificationService(db *store.DB, policy domain.NotificationPolicy, clock domain.Clock, publisher EventPublisher, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		db:        db,
		policy:    policy,
		clock:     clock,
		publisher: publisher,
		log:       log,
	}
}

// Notify records a feed entry and publishes it. Publishing is best-effort.
func (n *NotificationService) Notify(ctx context.Context, notif domain.Notification) (domain.Notification, error) {
	now := n.clock.Now()
	notif.CreatedAt = now
	notif.CreatedDay = n.clock.Today()
	notif.Shown = false

	repo := n.db.Repo()
	pushed, err := repo.PushCountForDay(ctx, notif.UserID, notif.CreatedDay)
	if err != nil {
		return notif, fmt.Errorf("count today: %w", err)
	}
	notif.Pushed = pushed < n.policy.MaxPushPerDay && !n.isQuietHour(now)

	id, err := repo.InsertNotification(ctx, notif)
	if err != nil {
		return notif, err
	}
	notif.ID = id
	metrics.NotificationsCreated.WithLabelValues(string(notif.Type), strconv.FormatBool(notif.Pushed)).Inc()

	if n.publisher != nil {
		ev := domain.ProgressEvent{
			Type:       notif.Type,
			UserID:     notif.UserID,
			Title:      notif.Title,
			Body:       notif.Body,
			Push:       notif.Pushed,
			OccurredAt: now,
		}
		if err := n.publisher.Publish(ctx, ev); err != nil {
			metrics.SideEffectFailures.WithLabelValues("publish").Inc()
			n.log.Warn().Err(err).Str("user_id", notif.UserID).Str("type", string(notif.Type)).
				Msg("publish progress event")
		}
	}
	return notif, nil
}

// List returns a user's newest feed entries.
func (n *NotificationService) List(ctx context.Context, userID string, pendingOnly bool, limit int) ([]domain.Notification, error) {
	return n.db.Repo().ListNotifications(ctx, userID, pendingOnly, limit)
}

// MarkShown marks a feed entry as shown.
func (n *NotificationService) MarkShown(ctx context.Context, userID string, id int64) error {
	return n.db.Repo().MarkNotificationShown(ctx, userID, id)
}

// Policy returns the current push policy.
func (n *NotificationService) Policy() domain.NotificationPolicy {
	return n.policy
}

// isQuietHour reports whether t falls between QuietStart and QuietEnd.
func (n *NotificationService) isQuietHour(t time.Time) bool {
	startHour, startMin := parseHHMM(n.policy.QuietStart)
	endHour, endMin := parseHHMM(n.policy.QuietEnd)

	timeMinutes := t.Hour()*60 + t.Minute()
	startMinutes := startHour*60 + startMin
	endMinutes := endHour*60 + endMin

	if startMinutes > endMinutes {
		// Wraps midnight: e.g., 22:00 – 08:00
		return timeMinutes >= startMinutes || timeMinutes < endMinutes
	}
	return timeMinutes >= startMinutes && timeMinutes < endMinutes
}

// parseHHMM parses "HH:MM" into hour and minute.
func parseHHMM(s string) (int, int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h, m
}

// ValidHHMM reports whether s is a well-formed "HH:MM" time of day.
func ValidHHMM(s string) bool {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	return err1 == nil && err2 == nil && h >= 0 && h < 24 && m >= 0 && m < 60
}

// ─── Feed entries ───────────────────────────────────────────────────────────

func levelUpNotification(userID string, level int) domain.Notification {
	return domain.Notification{
		UserID: userID,
		Type:   domain.NotifyLevelUp,
		Title:  fmt.Sprintf("Level %d reached", level),
		Body:   fmt.Sprintf("You are now level %d.", level),
	}
}

func achievementNotification(userID string, a UnlockedAchievement) domain.Notification {
	return domain.Notification{
		UserID: userID,
		Type:   domain.NotifyAchievement,
		Title:  fmt.Sprintf("%s %s", a.Icon, a.Name),
		Body:   fmt.Sprintf("Achievement unlocked: +%d XP.", a.XPAwarded),
	}
}

func challengeNotification(userID string, c CompletedChallenge) domain.Notification {
	return domain.Notification{
		UserID: userID,
		Type:   domain.NotifyChallenge,
		Title:  "Challenge complete",
		Body:   fmt.Sprintf("%s: +%d XP.", c.Description, c.XPAwarded),
	}
}

func referralNotification(userID string, xp int64) domain.Notification {
	return domain.Notification{
		UserID: userID,
		Type:   domain.NotifyReferral,
		Title:  "Referral credited",
		Body:   fmt.Sprintf("A friend you invited joined: +%d XP.", xp),
	}
}
