// Package rooms implements self-destructing chat rooms held entirely in
// process memory. Every room carries a TTL; once it elapses the room is
// deactivated and its message history discarded, either lazily on the next
// access or by the periodic sweep.
package rooms

import "time"

const (
	// Requested lifetimes are clamped into this range, not rejected.
	MinLifetimeMinutes = 5
	MaxLifetimeMinutes = 1440
)

type Room struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	CreatorID       string        `json:"creatorId"`
	Participants    []string      `json:"participants"`
	CreatedAt       time.Time     `json:"createdAt"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	LifetimeMinutes int           `json:"lifetimeMinutes"`
	Active          bool          `json:"active"`
	TimeRemaining   time.Duration `json:"-"`
}

type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"message"`
	SentAt     time.Time `json:"timestamp"`
}

// Filter restricts List results. The zero value matches every live room.
type Filter struct {
	Participant string
}

func clampLifetime(minutes int) int {
	if minutes < MinLifetimeMinutes {
		return MinLifetimeMinutes
	}
	if minutes > MaxLifetimeMinutes {
		return MaxLifetimeMinutes
	}
	return minutes
}
