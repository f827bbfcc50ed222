package database

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/econexo/backend/internal/database/models"
	"github.com/econexo/backend/internal/reminders"
)

var _ reminders.SubscriberStore = (*SubscriptionStore)(nil)

type SubscriptionStore struct {
	DB *bun.DB
}

func (s *SubscriptionStore) Subscribers(ctx context.Context) (subs []reminders.Subscriber, err error) {
	var rows []models.PushSubscription
	if err = s.DB.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return
	}

	subs = make([]reminders.Subscriber, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, reminders.Subscriber{
			ID:       row.ID,
			Endpoint: row.Endpoint,
			P256dh:   row.P256dh,
			Auth:     row.Auth,
		})
	}

	return
}

func (s *SubscriptionStore) Delete(ctx context.Context, id int64) (err error) {
	_, err = s.DB.NewDelete().
		Model((*models.PushSubscription)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return
}

// Upsert registers an endpoint, refreshing its keys if it is already known.
// Endpoint uniqueness means re-subscribing never duplicates a row.
func (s *SubscriptionStore) Upsert(ctx context.Context, endpoint, p256dh, auth string) (err error) {
	sub := models.PushSubscription{
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: time.Now(),
	}

	_, err = s.DB.NewInsert().
		Model(&sub).
		On("CONFLICT (endpoint) DO UPDATE").
		Set("p256dh = EXCLUDED.p256dh").
		Set("auth = EXCLUDED.auth").
		Exec(ctx)
	return
}

func (s *SubscriptionStore) DeleteByEndpoint(ctx context.Context, endpoint string) (err error) {
	_, err = s.DB.NewDelete().
		Model((*models.PushSubscription)(nil)).
		Where("endpoint = ?", endpoint).
		Exec(ctx)
	return
}
