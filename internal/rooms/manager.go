package rooms

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns all room and message state for a single process. It is safe
// for concurrent use; a single mutex guards the room table, which is fine at
// the expected request rates since every operation only touches in-memory
// structures.
type Manager struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	messages map[string][]Message
	watchers map[string]map[*Watcher]struct{}

	now func() time.Time
}

type Option func(*Manager)

// WithClock overrides the manager's time source. Used by tests to drive
// expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rooms:    make(map[string]*Room),
		messages: make(map[string][]Message),
		watchers: make(map[string]map[*Watcher]struct{}),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new room with the caller as its first participant.
// lifetimeMinutes is clamped into [MinLifetimeMinutes, MaxLifetimeMinutes].
func (m *Manager) Create(name, description, creatorID string, lifetimeMinutes int) (room Room, err error) {
	name = strings.TrimSpace(name)
	if name == "" || creatorID == "" {
		err = ErrInvalidArgument
		return
	}

	minutes := clampLifetime(lifetimeMinutes)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	r := &Room{
		ID:              uuid.New().String(),
		Name:            name,
		Description:     strings.TrimSpace(description),
		CreatorID:       creatorID,
		Participants:    []string{creatorID},
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(minutes) * time.Minute),
		LifetimeMinutes: minutes,
		Active:          true,
	}

	m.rooms[r.ID] = r
	m.messages[r.ID] = make([]Message, 0)

	return m.snapshotLocked(r), nil
}

// Get returns a snapshot of the room. An expired room is deactivated as a
// side effect and its snapshot is still returned alongside ErrRoomExpired so
// callers can render it.
func (m *Manager) Get(roomID string) (room Room, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		err = ErrRoomNotFound
		return
	}

	if m.expireIfDueLocked(r) {
		return m.snapshotLocked(r), ErrRoomExpired
	}

	return m.snapshotLocked(r), nil
}

// List returns snapshots of all live rooms matching the filter, newest first.
func (m *Manager) List(f Filter) (out []Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out = make([]Room, 0)
	now := m.now()
	for _, r := range m.rooms {
		if !r.Active || !r.ExpiresAt.After(now) {
			continue
		}
		if f.Participant != "" && !contains(r.Participants, f.Participant) {
			continue
		}
		out = append(out, m.snapshotLocked(r))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return
}

// Join adds userID to the room's participants. Joining twice is a no-op.
func (m *Manager) Join(roomID, userID string) (room Room, err error) {
	if userID == "" {
		err = ErrInvalidArgument
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		err = ErrRoomNotFound
		return
	}
	if m.expireIfDueLocked(r) {
		err = ErrRoomExpired
		return
	}

	if !contains(r.Participants, userID) {
		r.Participants = append(r.Participants, userID)
	}

	return m.snapshotLocked(r), nil
}

// Leave removes userID from the room's participants. Leaving a room the user
// never joined is a no-op.
func (m *Manager) Leave(roomID, userID string) (room Room, err error) {
	if userID == "" {
		err = ErrInvalidArgument
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		err = ErrRoomNotFound
		return
	}
	if m.expireIfDueLocked(r) {
		err = ErrRoomExpired
		return
	}

	for i, p := range r.Participants {
		if p == userID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			break
		}
	}

	return m.snapshotLocked(r), nil
}

// SendMessage appends a message to an active room and fans it out to any
// attached watchers.
func (m *Manager) SendMessage(roomID, senderID, senderName, body string) (msg Message, err error) {
	if senderID == "" || strings.TrimSpace(body) == "" {
		err = ErrInvalidArgument
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		err = ErrRoomNotFound
		return
	}
	if m.expireIfDueLocked(r) {
		err = ErrRoomExpired
		return
	}

	msg = Message{
		ID:         uuid.New().String(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		SentAt:     m.now(),
	}

	m.messages[roomID] = append(m.messages[roomID], msg)

	for w := range m.watchers[roomID] {
		w.deliver(msg)
	}

	return msg, nil
}

// Messages returns the room's history in insertion order. Once a room has
// expired the history is gone, so an inactive room yields an empty slice
// rather than an error.
func (m *Manager) Messages(roomID string) (out []Message, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		err = ErrRoomNotFound
		return
	}

	out = make([]Message, 0)
	if m.expireIfDueLocked(r) {
		return
	}

	out = append(out, m.messages[roomID]...)
	return
}

// Sweep deactivates every expired room and discards its messages. It is the
// authoritative destruction path; the lazy expiry performed by the accessors
// is only a fast path for rooms that happen to be touched first.
func (m *Manager) Sweep() (expired int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rooms {
		if r.Active && m.expireIfDueLocked(r) {
			expired++
		}
	}
	return
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				zap.L().Info("swept expired rooms", zap.Int("count", n))
			}
		}
	}
}

// expireIfDueLocked flips an expired room to inactive, purges its messages
// and closes its watchers. Reports whether the room is (now) inactive.
// Callers must hold m.mu.
func (m *Manager) expireIfDueLocked(r *Room) bool {
	if !r.Active {
		return true
	}
	if r.ExpiresAt.After(m.now()) {
		return false
	}

	r.Active = false
	delete(m.messages, r.ID)
	for w := range m.watchers[r.ID] {
		close(w.ch)
	}
	delete(m.watchers, r.ID)

	return true
}

func (m *Manager) snapshotLocked(r *Room) Room {
	snap := *r
	snap.Participants = append([]string(nil), r.Participants...)

	if remaining := r.ExpiresAt.Sub(m.now()); r.Active && remaining > 0 {
		snap.TimeRemaining = remaining
	}
	return snap
}

// Dump returns snapshots of every room, live or not. Debug use only.
func (m *Manager) Dump() (out []Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rooms {
		out = append(out, m.snapshotLocked(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
