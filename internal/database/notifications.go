package database

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/econexo/backend/internal/database/models"
	"github.com/econexo/backend/internal/reminders"
)

var _ reminders.NotificationLog = (*NotificationLog)(nil)

type NotificationLog struct {
	DB *bun.DB
}

func (l *NotificationLog) Exists(ctx context.Context, eventID, subscriberID int64, w reminders.Window) (bool, error) {
	return l.DB.NewSelect().
		Model((*models.SentNotification)(nil)).
		Where("event_id = ?", eventID).
		Where("subscription_id = ?", subscriberID).
		Where("reminder_window = ?", string(w)).
		Exists(ctx)
}

// Record inserts the de-duplication row. ON CONFLICT DO NOTHING makes the
// insert atomic against a concurrent dispatch pass racing on the same triple.
func (l *NotificationLog) Record(ctx context.Context, eventID, subscriberID int64, w reminders.Window) (err error) {
	rec := models.SentNotification{
		EventID:        eventID,
		SubscriptionID: subscriberID,
		ReminderWindow: string(w),
		SentAt:         time.Now(),
	}

	_, err = l.DB.NewInsert().
		Model(&rec).
		On("CONFLICT (event_id, subscription_id, reminder_window) DO NOTHING").
		Exec(ctx)
	return
}
