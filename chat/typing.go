package chat

import (
	"sync"
	"time"
)

// TypingTracker keeps the per-room set of users currently composing a
// message. Entries are refreshed by TYPING frames and removed by
// STOP_TYPING frames; because a STOP_TYPING can get lost, entries also
// expire locally once their last-seen timestamp falls outside the expiry
// window.
type TypingTracker struct {
	mu     sync.Mutex
	expiry time.Duration
	rooms  map[string]map[string]typingEntry
}

type typingEntry struct {
	user     User
	lastSeen time.Time
}

func NewTypingTracker(expiry time.Duration) *TypingTracker {
	if expiry <= 0 {
		expiry = 5 * time.Second
	}
	return &TypingTracker{
		expiry: expiry,
		rooms:  make(map[string]map[string]typingEntry),
	}
}

// OnTyping adds a user to the room's typing set, or refreshes their
// last-seen time if already present.
func (t *TypingTracker) OnTyping(roomID string, user User, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[roomID]
	if room == nil {
		room = make(map[string]typingEntry)
		t.rooms[roomID] = room
	}
	room[user.ID] = typingEntry{user: user, lastSeen: now}
}

func (t *TypingTracker) OnStopTyping(roomID string, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if room := t.rooms[roomID]; room != nil {
		delete(room, userID)
	}
}

// Active returns the users still considered typing in a room at the given
// instant, pruning expired entries as a side effect.
func (t *TypingTracker) Active(roomID string, now time.Time) []User {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[roomID]
	if room == nil {
		return nil
	}

	var users []User
	for id, entry := range room {
		if now.Sub(entry.lastSeen) > t.expiry {
			delete(room, id)
			continue
		}
		users = append(users, entry.user)
	}
	return users
}
