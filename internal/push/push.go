// Package push delivers web-push notifications through the VAPID protocol.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/econexo/backend/internal/reminders"
)

var _ reminders.Sender = (*Sender)(nil)

// Sender is a reminders.Sender backed by the web-push protocol. Permanently
// revoked endpoints (HTTP 404/410) are reported as reminders.ErrEndpointGone
// so the dispatch engine can reconcile the subscriber set.
type Sender struct {
	vapidPublicKey  string
	vapidPrivateKey string
	contact         string

	// Overridable for tests.
	Client *http.Client
	TTL    int
}

func NewSender(vapidPublicKey, vapidPrivateKey, contact string) *Sender {
	return &Sender{
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		contact:         contact,
		TTL:             300,
	}
}

func (s *Sender) Send(ctx context.Context, sub reminders.Subscriber, n reminders.Notification) (err error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	opts := &webpush.Options{
		Subscriber:      s.contact,
		VAPIDPublicKey:  s.vapidPublicKey,
		VAPIDPrivateKey: s.vapidPrivateKey,
		TTL:             s.TTL,
	}
	if s.Client != nil {
		opts.HTTPClient = s.Client
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, opts)
	if err != nil {
		return fmt.Errorf("push delivery: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("push endpoint returned %d: %w", resp.StatusCode, reminders.ErrEndpointGone)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}

	return nil
}
