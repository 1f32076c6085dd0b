package server

import (
	"sort"
	"sync"
	"time"
)

const typingSweepInterval = 60 * time.Second

// TypingAggregator tracks which usernames are currently typing in each
// server room. Every change broadcasts the full current set, so
// receivers never reconcile diffs and reordered deliveries are
// harmless.
type TypingAggregator struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}

	broadcast func(roomId string, ev *ServerEvent)
	stop      chan struct{}
	once      sync.Once
}

func NewTypingAggregator(broadcast func(roomId string, ev *ServerEvent)) *TypingAggregator {
	t := &TypingAggregator{
		rooms:     make(map[string]map[string]struct{}),
		broadcast: broadcast,
		stop:      make(chan struct{}),
	}

	go t.sweepLoop()

	return t
}

// Set marks or clears username as typing in roomId and broadcasts the
// room's full typing set when it changed.
func (t *TypingAggregator) Set(roomId, username string, typing bool) {
	if username == "" {
		return
	}

	t.mu.Lock()
	users, ok := t.rooms[roomId]
	changed := false
	if typing {
		if !ok {
			users = make(map[string]struct{})
			t.rooms[roomId] = users
		}
		if _, present := users[username]; !present {
			users[username] = struct{}{}
			changed = true
		}
	} else if ok {
		if _, present := users[username]; present {
			delete(users, username)
			changed = true
		}
	}

	var snapshot []string
	if changed {
		snapshot = typingSnapshot(users)
	}
	t.mu.Unlock()

	if changed {
		t.broadcast(roomId, TypingIndicatorEvent(roomId, snapshot))
	}
}

// TypingUsers returns the current typing set for a room, sorted.
func (t *TypingAggregator) TypingUsers(roomId string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return typingSnapshot(t.rooms[roomId])
}

func typingSnapshot(users map[string]struct{}) []string {
	snapshot := make([]string, 0, len(users))
	for u := range users {
		snapshot = append(snapshot, u)
	}
	sort.Strings(snapshot)
	return snapshot
}

func (t *TypingAggregator) sweepLoop() {
	ticker := time.NewTicker(typingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stop:
			return
		}
	}
}

// sweep drops rooms whose typing set has emptied out.
func (t *TypingAggregator) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for roomId, users := range t.rooms {
		if len(users) == 0 {
			delete(t.rooms, roomId)
		}
	}
}

func (t *TypingAggregator) Stop() {
	t.once.Do(func() { close(t.stop) })
}
