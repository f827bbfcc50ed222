package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// Engine runs one dispatch pass over the upcoming events and the current
// subscriber set. It holds no state between passes; everything durable lives
// in the injected stores.
type Engine struct {
	events  EventSource
	subs    SubscriberStore
	log     NotificationLog
	sender  Sender
	baseURL string

	now         func() time.Time
	concurrency int
}

type EngineOption func(*Engine)

// WithClock overrides the engine's time source for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithConcurrency bounds the per-window delivery fan-out.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine wires a dispatch engine. baseURL is the public site root used to
// build the deep link in each notification.
func NewEngine(events EventSource, subs SubscriberStore, log NotificationLog, sender Sender, baseURL string, opts ...EngineOption) *Engine {
	e := &Engine{
		events:      events,
		subs:        subs,
		log:         log,
		sender:      sender,
		baseURL:     baseURL,
		now:         time.Now,
		concurrency: defaultConcurrency,
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result aggregates one pass. Errors holds one human-readable string per
// failed delivery; per-subscriber failures never abort the pass.
type Result struct {
	Sent   int
	Errors []string
}

// Run executes a single dispatch pass. Only a structural failure (inability
// to list events or subscribers) is returned as an error; everything else is
// collected into the Result.
func (e *Engine) Run(ctx context.Context) (res Result, err error) {
	events, err := e.events.UpcomingEvents(ctx)
	if err != nil {
		err = fmt.Errorf("list upcoming events: %w", err)
		return
	}

	subscribers, err := e.subs.Subscribers(ctx)
	if err != nil {
		err = fmt.Errorf("list subscribers: %w", err)
		return
	}

	if len(events) == 0 || len(subscribers) == 0 {
		return
	}

	now := e.now()

	var mu sync.Mutex
	// Subscribers whose endpoints turned out to be gone earlier in this
	// pass; later events skip them instead of failing again.
	removed := mapset.NewSet()

	for _, event := range events {
		if ctx.Err() != nil {
			// Overall pass timeout: whatever is left is retried on the
			// next scheduled pass, safely, thanks to the log.
			break
		}

		startsAt, timed := event.StartsAt()
		if !timed {
			zap.L().Debug("skipping all-day event", zap.Int64("event", event.ID))
			continue
		}

		window, due := windowFor(startsAt.Sub(now).Hours())
		if !due {
			continue
		}

		event := event
		g := new(errgroup.Group)
		g.SetLimit(e.concurrency)

		for _, sub := range subscribers {
			if removed.Contains(sub.ID) {
				continue
			}

			sub := sub
			g.Go(func() error {
				sent, failure := e.dispatchOne(ctx, event, sub, window)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case failure == nil:
					if sent {
						res.Sent++
					}
				case failure.gone:
					removed.Add(sub.ID)
					res.Errors = append(res.Errors, failure.message)
				default:
					res.Errors = append(res.Errors, failure.message)
				}
				return nil
			})
		}

		_ = g.Wait()
	}

	return res, nil
}

type dispatchFailure struct {
	message string
	gone    bool
}

// dispatchOne handles a single (event, subscriber, window) triple: skip if
// already logged, deliver, then record. sent is false for an idempotent skip.
func (e *Engine) dispatchOne(ctx context.Context, event Event, sub Subscriber, window Window) (sent bool, failure *dispatchFailure) {
	seen, err := e.log.Exists(ctx, event.ID, sub.ID, window)
	if err != nil {
		failure = &dispatchFailure{
			message: fmt.Sprintf("event %d subscriber %d: check log: %v", event.ID, sub.ID, err),
		}
		return
	}
	if seen {
		return
	}

	n := Notification{
		Title: fmt.Sprintf("Reminder: %s %s", event.Title, window.describe()),
		Body:  eventLocation(event),
		URL:   fmt.Sprintf("%s/events/%d", e.baseURL, event.ID),
	}

	if err = e.sender.Send(ctx, sub, n); err != nil {
		if errors.Is(err, ErrEndpointGone) {
			if delErr := e.subs.Delete(ctx, sub.ID); delErr != nil {
				zap.L().Warn("failed to delete gone subscriber",
					zap.Int64("subscriber", sub.ID), zap.Error(delErr))
			}
			failure = &dispatchFailure{
				message: fmt.Sprintf("event %d subscriber %d: endpoint gone, subscriber removed", event.ID, sub.ID),
				gone:    true,
			}
			return
		}
		failure = &dispatchFailure{
			message: fmt.Sprintf("event %d subscriber %d: %v", event.ID, sub.ID, err),
		}
		return
	}

	// Record after delivery so a failed send is retried next pass. The
	// insert ignores conflicts, so a concurrent pass racing us is fine.
	if err = e.log.Record(ctx, event.ID, sub.ID, window); err != nil {
		failure = &dispatchFailure{
			message: fmt.Sprintf("event %d subscriber %d: record: %v", event.ID, sub.ID, err),
		}
		return
	}

	sent = true
	return
}
