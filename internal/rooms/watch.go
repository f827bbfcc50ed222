package rooms

// Watcher receives every message appended to a room after the watcher was
// attached. Its channel is closed when the room expires or Close is called.
type Watcher struct {
	ch chan Message
	m  *Manager
	id string
}

// C is the message feed. A closed channel means the room is gone.
func (w *Watcher) C() <-chan Message {
	return w.ch
}

// Close detaches the watcher. Safe to call after the room has expired.
func (w *Watcher) Close() {
	w.m.unwatch(w)
}

// deliver is a non-blocking send; a watcher that cannot keep up loses
// messages rather than stalling the sender. Callers must hold m.mu.
func (w *Watcher) deliver(msg Message) {
	select {
	case w.ch <- msg:
	default:
	}
}

// Watch attaches a live message feed to an active room.
func (m *Manager) Watch(roomID string) (w *Watcher, err error) {
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

	w = &Watcher{
		ch: make(chan Message, 32),
		m:  m,
		id: roomID,
	}

	if m.watchers[roomID] == nil {
		m.watchers[roomID] = make(map[*Watcher]struct{})
	}
	m.watchers[roomID][w] = struct{}{}

	return
}

func (m *Manager) unwatch(w *Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.watchers[w.id]
	if !ok {
		// Room already expired; channel was closed by the sweep.
		return
	}
	if _, ok = ws[w]; !ok {
		return
	}

	delete(ws, w)
	close(w.ch)
}
