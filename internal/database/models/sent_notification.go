package models

import (
	"time"

	"github.com/uptrace/bun"
)

// SentNotification is the reminder de-duplication log. The composite unique
// index on (event_id, subscription_id, reminder_window) is what makes repeated
// dispatch passes idempotent.
type SentNotification struct {
	bun.BaseModel

	ID             int64  `bun:",pk,autoincrement"`
	EventID        int64  `bun:",unique:ux_sent_notifications_triple"`
	SubscriptionID int64  `bun:",unique:ux_sent_notifications_triple"`
	ReminderWindow string `bun:",unique:ux_sent_notifications_triple"`
	SentAt         time.Time
}
