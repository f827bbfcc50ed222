// Package database provides the Postgres-backed stores consumed by the
// reminder dispatch engine, plus schema migrations.
package database

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/econexo/backend/internal/database/models"
	"github.com/econexo/backend/internal/reminders"
)

var _ reminders.EventSource = (*EventStore)(nil)

type EventStore struct {
	DB *bun.DB
}

// UpcomingEvents returns events happening today or later, soonest first.
func (s *EventStore) UpcomingEvents(ctx context.Context) (events []reminders.Event, err error) {
	var rows []models.Event
	err = s.DB.NewSelect().
		Model(&rows).
		Where("date >= current_date").
		Order("date ASC").
		Scan(ctx)
	if err != nil {
		return
	}

	events = make([]reminders.Event, 0, len(rows))
	for _, row := range rows {
		ev := reminders.Event{
			ID:      row.ID,
			Title:   row.Title,
			Date:    row.Date,
			City:    row.City,
			Country: row.Country,
		}
		if row.StartTime != nil {
			ev.StartTime = *row.StartTime
		}
		events = append(events, ev)
	}

	return
}
