package rooms

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(WithClock(clock.Now)), clock
}

func TestCreateClampsLifetime(t *testing.T) {
	cases := []struct {
		requested int
		want      time.Duration
	}{
		{2, 5 * time.Minute},
		{5000, 1440 * time.Minute},
		{30, 30 * time.Minute},
		{5, 5 * time.Minute},
		{1440, 1440 * time.Minute},
	}

	for _, tc := range cases {
		m, clock := newTestManager(t)
		room, err := m.Create("garden swap", "", "alice", tc.requested)
		if err != nil {
			t.Fatal(err)
		}
		if got := room.ExpiresAt.Sub(clock.now); got != tc.want {
			t.Fatalf("requested %d minutes: expires in %v, want %v", tc.requested, got, tc.want)
		}
		if room.CreatedAt != clock.now {
			t.Fatalf("createdAt %v, want %v", room.CreatedAt, clock.now)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Create("", "", "alice", 30); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty name: got %v, want ErrInvalidArgument", err)
	}
	if _, err := m.Create("room", "", "", 30); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty creator: got %v, want ErrInvalidArgument", err)
	}
}

func TestCreatorIsFirstParticipant(t *testing.T) {
	m, _ := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(room.Participants) != 1 || room.Participants[0] != "alice" {
		t.Fatalf("participants = %v, want [alice]", room.Participants)
	}
	if !room.Active {
		t.Fatal("new room should be active")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = m.Join(room.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	snap, err := m.Join(room.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, p := range snap.Participants {
		if p == "bob" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("bob appears %d times in %v, want once", count, snap.Participants)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = m.Leave(room.ID, "nobody"); err != nil {
		t.Fatalf("leaving without joining: %v", err)
	}

	snap, err := m.Leave(room.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Participants) != 0 {
		t.Fatalf("participants = %v, want empty", snap.Participants)
	}
}

func TestGetUnknownRoom(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Get("nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("got %v, want ErrRoomNotFound", err)
	}
}

func TestGetReportsTimeRemaining(t *testing.T) {
	m, clock := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Minute)
	snap, err := m.Get(room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TimeRemaining != 20*time.Minute {
		t.Fatalf("time remaining %v, want 20m", snap.TimeRemaining)
	}
}

func TestLazyExpiryOnGet(t *testing.T) {
	m, clock := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(31 * time.Minute)

	snap, err := m.Get(room.ID)
	if !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("got %v, want ErrRoomExpired", err)
	}
	if snap.Active {
		t.Fatal("expired snapshot should report inactive")
	}
	if snap.TimeRemaining != 0 {
		t.Fatalf("time remaining %v, want 0", snap.TimeRemaining)
	}
}

func TestPostExpiryLockout(t *testing.T) {
	m, clock := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = m.SendMessage(room.ID, "alice", "Alice", "hello"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Hour)

	if _, err = m.SendMessage(room.ID, "alice", "Alice", "anyone?"); !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("SendMessage: got %v, want ErrRoomExpired", err)
	}
	if _, err = m.Join(room.ID, "bob"); !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("Join: got %v, want ErrRoomExpired", err)
	}
	if _, err = m.Leave(room.ID, "alice"); !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("Leave: got %v, want ErrRoomExpired", err)
	}

	msgs, err := m.Messages(room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages after expiry = %d, want 0", len(msgs))
	}

	snap, err := m.Get(room.ID)
	if !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("Get: got %v, want ErrRoomExpired", err)
	}
	if len(snap.Participants) != 1 {
		t.Fatal("expiry should not mutate the participant list")
	}
}

func TestSweepPurgesMessages(t *testing.T) {
	m, clock := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err = m.SendMessage(room.ID, "alice", "Alice", "ping"); err != nil {
			t.Fatal(err)
		}
	}

	keeper, err := m.Create("long lived", "", "alice", 120)
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(31 * time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("swept %d rooms, want 1", n)
	}

	msgs, err := m.Messages(room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages after sweep = %d, want 0", len(msgs))
	}

	snap, err := m.Get(room.ID)
	if !errors.Is(err, ErrRoomExpired) {
		t.Fatalf("got %v, want ErrRoomExpired", err)
	}
	if snap.Active {
		t.Fatal("swept room should be inactive")
	}

	if _, err = m.Get(keeper.ID); err != nil {
		t.Fatalf("unexpired room affected by sweep: %v", err)
	}

	// Second sweep finds nothing new.
	if n := m.Sweep(); n != 0 {
		t.Fatalf("second sweep expired %d rooms, want 0", n)
	}
}

func TestMessagesInsertionOrder(t *testing.T) {
	m, _ := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	bodies := []string{"first", "second", "third"}
	for _, b := range bodies {
		if _, err = m.SendMessage(room.ID, "alice", "Alice", b); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := m.Messages(room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(bodies) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(bodies))
	}
	for i, b := range bodies {
		if msgs[i].Body != b {
			t.Fatalf("message %d = %q, want %q", i, msgs[i].Body, b)
		}
	}
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	m, _ := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = m.SendMessage(room.ID, "alice", "Alice", "  "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	m, clock := newTestManager(t)

	first, err := m.Create("first", "", "alice", 60)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	second, err := m.Create("second", "", "bob", 60)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	expiring, err := m.Create("short", "", "alice", 5)
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(6 * time.Minute)

	list := m.List(Filter{})
	if len(list) != 2 {
		t.Fatalf("got %d rooms, want 2 (expired room %s excluded)", len(list), expiring.ID)
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("rooms not sorted newest first: %s, %s", list[0].Name, list[1].Name)
	}

	mine := m.List(Filter{Participant: "bob"})
	if len(mine) != 1 || mine[0].ID != second.ID {
		t.Fatalf("participant filter returned %d rooms", len(mine))
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	m, _ := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	room.Participants[0] = "mallory"

	snap, err := m.Get(room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Participants[0] != "alice" {
		t.Fatal("mutating a snapshot leaked into manager state")
	}
}

func TestWatchReceivesMessagesAndClosesOnExpiry(t *testing.T) {
	m, clock := newTestManager(t)

	room, err := m.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	w, err := m.Watch(room.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = m.SendMessage(room.ID, "alice", "Alice", "hello"); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-w.C():
		if msg.Body != "hello" {
			t.Fatalf("got %q, want hello", msg.Body)
		}
	default:
		t.Fatal("watcher did not receive the message")
	}

	clock.Advance(time.Hour)
	m.Sweep()

	if _, ok := <-w.C(); ok {
		t.Fatal("watcher channel should be closed after expiry")
	}

	// Close after expiry must not panic.
	w.Close()
}
