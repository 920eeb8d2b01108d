package chat

import (
	"log"
	"sync"
)

// MessageStore is the single source of truth for rendered message lists.
// Messages are keyed by id so duplicate delivery (REST echo plus realtime
// echo of the same message) collapses into one entry, with a separate
// arrival-order index so rendering order is always insertion order. The
// store never re-sorts by timestamp.
type MessageStore struct {
	mu     sync.Mutex
	rooms  map[string]*roomMessages
	logger *log.Logger
}

type roomMessages struct {
	order []string
	byID  map[string]*Message
}

func NewMessageStore(logger *log.Logger) *MessageStore {
	return &MessageStore{
		rooms:  make(map[string]*roomMessages),
		logger: logger,
	}
}

func newRoomMessages() *roomMessages {
	return &roomMessages{byID: make(map[string]*Message)}
}

// ReplaceHistory swaps in a freshly fetched history page for a room,
// dropping whatever was there. Server order is preserved exactly.
func (s *MessageStore) ReplaceHistory(roomID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := newRoomMessages()
	for i := range msgs {
		msg := msgs[i]
		if _, ok := rm.byID[msg.ID]; ok {
			continue
		}
		rm.order = append(rm.order, msg.ID)
		rm.byID[msg.ID] = &msg
	}
	s.rooms[roomID] = rm
}

// Upsert appends a message to the end of a room's sequence, or merges it
// into the existing entry when the id is already present. A merge never
// moves the message's position and never regresses its status.
func (s *MessageStore) Upsert(roomID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[roomID]
	if rm == nil {
		rm = newRoomMessages()
		s.rooms[roomID] = rm
	}

	if existing, ok := rm.byID[msg.ID]; ok {
		if msg.Status > existing.Status {
			existing.Status = msg.Status
		}
		if existing.Content == "" {
			existing.Content = msg.Content
		}
		return
	}

	rm.order = append(rm.order, msg.ID)
	rm.byID[msg.ID] = &msg
}

// Confirm replaces an optimistically appended message (client-generated id)
// with the server's record, keeping the original arrival position. Returns
// the stored message. If the optimistic entry is gone the record is
// upserted normally.
func (s *MessageStore) Confirm(roomID, clientID string, rec Message) Message {
	s.mu.Lock()

	rm := s.rooms[roomID]
	if rm == nil || rm.byID[clientID] == nil {
		s.mu.Unlock()
		s.Upsert(roomID, rec)
		return rec
	}

	old := rm.byID[clientID]
	if old.Status > rec.Status {
		rec.Status = old.Status
	}
	delete(rm.byID, clientID)
	for i, id := range rm.order {
		if id == clientID {
			rm.order[i] = rec.ID
			break
		}
	}
	rm.byID[rec.ID] = &rec
	s.mu.Unlock()
	return rec
}

// ApplyStatus merges a status update into the referenced message. Updates
// strictly earlier than the current status are no-ops, as are updates for
// ids the store has never seen (no replay buffer).
func (s *MessageStore) ApplyStatus(roomID, messageID string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[roomID]
	if rm == nil {
		return false
	}
	msg, ok := rm.byID[messageID]
	if !ok {
		s.logger.Printf("status update for unknown message %s in room %s dropped", messageID, roomID)
		return false
	}
	if status <= msg.Status {
		return false
	}
	msg.Status = status
	return true
}

// Messages returns a copy of a room's messages in arrival order.
func (s *MessageStore) Messages(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[roomID]
	if rm == nil {
		return nil
	}
	out := make([]Message, 0, len(rm.order))
	for _, id := range rm.order {
		out = append(out, *rm.byID[id])
	}
	return out
}

// Len reports how many messages a room currently holds.
func (s *MessageStore) Len(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[roomID]
	if rm == nil {
		return 0
	}
	return len(rm.order)
}
