// Package reminders computes which upcoming-event push reminders are due and
// delivers each one exactly once per (event, subscriber, window) triple. The
// exactly-once guarantee rests on the notification log's uniqueness on that
// triple, not on locking, so overlapping dispatch passes are harmless.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Window names a reminder offset before an event.
type Window string

const (
	OneHourBefore         Window = "1h"
	TwentyFourHoursBefore Window = "24h"
)

// Event is a candidate for reminder delivery. Date carries the calendar day;
// StartTime, when non-empty, is a local wall-clock time in "15:04" form. An
// event without a start time is all-day and is never matched against the
// hour-granularity windows.
type Event struct {
	ID        int64
	Title     string
	Date      time.Time
	StartTime string
	City      string
	Country   string
}

// StartsAt combines Date and StartTime. ok is false for all-day events.
func (e Event) StartsAt() (t time.Time, ok bool) {
	if e.StartTime == "" {
		return
	}

	clock, err := time.Parse("15:04", e.StartTime)
	if err != nil {
		return
	}

	d := e.Date
	t = time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, d.Location())
	ok = true
	return
}

// Subscriber is a registered web-push endpoint with its protocol keys.
type Subscriber struct {
	ID       int64
	Endpoint string
	P256dh   string
	Auth     string
}

// Notification is the payload handed to the push sender.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// ErrEndpointGone marks a delivery failure the provider reports as permanent
// (HTTP 404/410 class). The engine reacts by deleting the subscriber instead
// of retrying; senders must wrap this sentinel for such failures.
var ErrEndpointGone = errors.New("push endpoint gone")

// EventSource lists candidate events with date >= today. Filtering past
// events is the store's job, not the engine's.
type EventSource interface {
	UpcomingEvents(ctx context.Context) ([]Event, error)
}

// SubscriberStore lists push subscribers and removes revoked ones.
type SubscriberStore interface {
	Subscribers(ctx context.Context) ([]Subscriber, error)
	Delete(ctx context.Context, id int64) error
}

// NotificationLog is the durable de-duplication record. Record must be an
// atomic insert-or-ignore on the (event, subscriber, window) key so two
// overlapping passes cannot both write.
type NotificationLog interface {
	Exists(ctx context.Context, eventID, subscriberID int64, w Window) (bool, error)
	Record(ctx context.Context, eventID, subscriberID int64, w Window) error
}

// Sender delivers one notification to one subscriber. Permanent endpoint
// failures must wrap ErrEndpointGone.
type Sender interface {
	Send(ctx context.Context, sub Subscriber, n Notification) error
}

// windowFor picks the single applicable window for an event this many hours
// away. Both intervals are half-open (exclusive low, inclusive high) so an
// event can never match twice across passes at the boundary.
func windowFor(hoursUntil float64) (w Window, ok bool) {
	switch {
	case hoursUntil > 0 && hoursUntil <= 1:
		return OneHourBefore, true
	case hoursUntil > 23 && hoursUntil <= 24:
		return TwentyFourHoursBefore, true
	}
	return
}

func (w Window) describe() string {
	if w == OneHourBefore {
		return "in 1 hour"
	}
	return "in 24 hours"
}

func eventLocation(e Event) string {
	switch {
	case e.City != "" && e.Country != "":
		return fmt.Sprintf("%s, %s", e.City, e.Country)
	case e.City != "":
		return e.City
	default:
		return e.Country
	}
}
