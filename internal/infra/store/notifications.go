package store

import (
	"context"
	"fmt"
	"time"

	"github.com/streakforge/streakforge/internal/domain"
)

// InsertNotification appends a feed entry and returns its id.
func (r *Repo) InsertNotification(ctx context.Context, n domain.Notification) (int64, error) {
	var id int64
	err := r.queryRow(ctx,
		`INSERT INTO notifications (user_id, type, title, body, pushed, created_day, created_at, shown)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0) RETURNING id`,
		n.UserID, string(n.Type), n.Title, n.Body, boolInt(n.Pushed),
		n.CreatedDay.String(), n.CreatedAt.Unix(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// PushCountForDay counts feed entries flagged for push on a given day.
func (r *Repo) PushCountForDay(ctx context.Context, userID string, day domain.Date) (int, error) {
	var n int
	err := r.queryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND created_day = ? AND pushed = 1`,
		userID, day.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pushes: %w", err)
	}
	return n, nil
}

// ListNotifications returns a user's newest entries. pendingOnly skips
// entries already shown.
func (r *Repo) ListNotifications(ctx context.Context, userID string, pendingOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, user_id, type, title, body, pushed, created_day, created_at, shown
		FROM notifications WHERE user_id = ?`
	if pendingOnly {
		q += ` AND shown = 0`
	}
	q += ` ORDER BY id DESC LIMIT ?`

	rows, err := r.query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var typ, day string
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Body, &n.Pushed,
			&day, &createdAt, &n.Shown); err != nil {
			return nil, err
		}
		n.Type = domain.NotificationType(typ)
		if n.CreatedDay, err = domain.ParseDate(day); err != nil {
			return nil, err
		}
		n.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationShown marks one of the user's entries as shown.
func (r *Repo) MarkNotificationShown(ctx context.Context, userID string, id int64) error {
	res, err := r.exec(ctx,
		`UPDATE notifications SET shown = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("mark shown: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotificationNotFound
	}
	return nil
}
