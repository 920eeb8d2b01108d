package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"homechat/rest"
	"homechat/transport"
	"homechat/wire"
)

// Transport is the slice of the realtime connection the session drives.
// *transport.Conn satisfies it.
type Transport interface {
	State() transport.State
	Publish(destination, frameType string, body any) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
}

// MessageAPI is the slice of the REST client the session needs for the
// message path.
type MessageAPI interface {
	History(ctx context.Context, roomID string, page, size int, includeReplies bool) ([]rest.MessageRecord, error)
	PostMessage(ctx context.Context, roomID, content, parentMessageID string) (rest.MessageRecord, error)
}

// StateStore persists the "last active room" marker between sessions.
type StateStore interface {
	SetLastRoom(roomID string) error
}

type SessionConfig struct {
	// TypingIdle is how long after the last keystroke the local user's
	// STOP_TYPING is emitted (default 2s). This is a sender-side timeout;
	// receivers trust explicit frames plus the tracker's expiry window.
	TypingIdle time.Duration

	// TypingExpiry is the receiver-side window after which a typing entry
	// goes stale without an explicit STOP_TYPING (default 5s).
	TypingExpiry time.Duration

	// HistoryPageSize is the page size for history fetches (default 50).
	HistoryPageSize int
}

// Session ties one user's chat UI state together: the active room and its
// single live subscription, the message store, the typing tracker and the
// room list. At most one topic subscription is live at any time; switching
// rooms always unsubscribes the old topic before subscribing the new one.
type Session struct {
	self   User
	tr     Transport
	api    MessageAPI
	store  *MessageStore
	typing *TypingTracker
	rooms  *RoomList
	state  StateStore // optional
	cfg    SessionConfig
	logger *log.Logger

	mu          sync.Mutex
	activeRoom  string
	subscribed  string // topic with a live subscription, "" if none
	typingTimer *time.Timer
	typingSent  bool
	onUpdate    func()
}

func NewSession(self User, tr Transport, api MessageAPI, rooms *RoomList, state StateStore, cfg SessionConfig, logger *log.Logger) *Session {
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = 2 * time.Second
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	return &Session{
		self:   self,
		tr:     tr,
		api:    api,
		store:  NewMessageStore(logger),
		typing: NewTypingTracker(cfg.TypingExpiry),
		rooms:  rooms,
		state:  state,
		cfg:    cfg,
		logger: logger,
	}
}

func topicFor(roomID string) string   { return "/topic/chat/" + roomID }
func sendDest(roomID string) string   { return "/app/chat/" + roomID + "/send" }
func typingDest(roomID string) string { return "/app/chat/" + roomID + "/typing" }

// SetActiveRoom makes roomID the one live conversation: the previous topic
// is unsubscribed first, the new one subscribed if the transport is up
// (otherwise deferred to the on-connect hook), and the room's history is
// fetched. A history response landing after another switch is discarded.
func (s *Session) SetActiveRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.subscribed != "" {
		if err := s.tr.Unsubscribe(s.subscribed); err != nil {
			s.logger.Printf("unsubscribe %s failed: %v", s.subscribed, err)
		}
		s.subscribed = ""
	}
	s.activeRoom = roomID
	if s.tr.State() == transport.StateConnected {
		if err := s.tr.Subscribe(topicFor(roomID)); err != nil {
			s.logger.Printf("subscribe %s failed: %v", topicFor(roomID), err)
		} else {
			s.subscribed = topicFor(roomID)
		}
	}
	s.mu.Unlock()

	if s.state != nil {
		if err := s.state.SetLastRoom(roomID); err != nil {
			s.logger.Printf("could not persist last room: %v", err)
		}
	}

	return s.loadHistory(ctx, roomID)
}

func (s *Session) loadHistory(ctx context.Context, roomID string) error {
	recs, err := s.api.History(ctx, roomID, 0, s.cfg.HistoryPageSize, true)
	if err != nil {
		return fmt.Errorf("history fetch for room %s failed: %w", roomID, err)
	}

	msgs := make([]Message, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, messageFromRecord(rec, s.self.ID))
	}

	// The fetch was issued for roomID; if the user has switched rooms
	// since, this response is for an abandoned room and must not land.
	s.mu.Lock()
	stale := s.activeRoom != roomID
	s.mu.Unlock()
	if stale {
		s.logger.Printf("discarding stale history for room %s", roomID)
		return nil
	}

	s.store.ReplaceHistory(roomID, msgs)
	return nil
}

// HandleConnState is wired to the transport's state observer. A reconnect
// while a room is active re-subscribes that room's topic exactly once.
func (s *Session) HandleConnState(st transport.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st {
	case transport.StateConnected:
		if s.activeRoom != "" && s.subscribed == "" {
			if err := s.tr.Subscribe(topicFor(s.activeRoom)); err != nil {
				s.logger.Printf("resubscribe %s failed: %v", topicFor(s.activeRoom), err)
			} else {
				s.subscribed = topicFor(s.activeRoom)
			}
		}
	default:
		// the socket is gone, and with it the broker-side subscription
		s.subscribed = ""
		s.typingSent = false
	}
}

// OnUpdate registers a hook invoked after every applied realtime event, so
// rendering code knows to re-read the store. Must be set before the
// transport starts delivering frames.
func (s *Session) OnUpdate(fn func()) {
	s.onUpdate = fn
}

// HandleFrame is wired to the transport's frame handler. Malformed frames
// are dropped and logged; unknown types are silently ignored.
func (s *Session) HandleFrame(env wire.Envelope) {
	ev, err := wire.Decode(env.Type, env.Body)
	if err != nil {
		s.logger.Printf("dropping frame: %v", err)
		return
	}

	applied := true
	defer func() {
		if applied && s.onUpdate != nil {
			s.onUpdate()
		}
	}()

	switch ev := ev.(type) {
	case wire.MessageEvent:
		dir := Incoming
		if ev.Sender.ID == s.self.ID {
			dir = Outgoing
		}
		status, ok := ParseStatus(ev.Status)
		if !ok {
			status = StatusSent
		}
		s.store.Upsert(ev.ChatRoomID, Message{
			ID:        ev.ID,
			RoomID:    ev.ChatRoomID,
			Sender:    User{ID: ev.Sender.ID, Name: ev.Sender.Name},
			Content:   ev.Content,
			Direction: dir,
			Status:    status,
			CreatedAt: ev.CreatedAt,
		})
	case wire.TypingEvent:
		if ev.UserID == s.self.ID {
			applied = false
			return
		}
		s.typing.OnTyping(ev.ChatRoomID, User{ID: ev.UserID, Name: ev.UserName}, time.Now())
	case wire.StopTypingEvent:
		s.typing.OnStopTyping(ev.ChatRoomID, ev.UserID)
	case wire.StatusUpdateEvent:
		status, ok := ParseStatus(ev.Status)
		if !ok {
			s.logger.Printf("dropping status update with unknown status %q", ev.Status)
			applied = false
			return
		}
		applied = s.store.ApplyStatus(ev.ChatRoomID, ev.MessageID, status)
	case wire.UnknownEvent:
		// forward compatibility: newer frame types pass through silently
		applied = false
	}
}

// Send posts a message to the active room. The REST write always happens;
// the realtime echo for other connected clients is skipped when the
// transport is down (no queue, no replay). The message appears locally
// right away under a client id and is reconciled with the server record on
// the REST response.
func (s *Session) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	roomID := s.activeRoom
	s.mu.Unlock()
	if roomID == "" {
		return fmt.Errorf("no active room")
	}

	s.stopTypingNow(roomID)

	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Sender:    s.self,
		Content:   content,
		Direction: Outgoing,
		Status:    StatusSent,
		CreatedAt: time.Now(),
	}
	s.store.Upsert(roomID, msg)

	rec, err := s.api.PostMessage(ctx, roomID, content, "")
	if err != nil {
		return fmt.Errorf("send to room %s failed: %w", roomID, err)
	}
	final := s.store.Confirm(roomID, msg.ID, messageFromRecord(rec, s.self.ID))

	s.publish(sendDest(roomID), wire.TypeMessage, wire.MessageEvent{
		ID:         final.ID,
		ChatRoomID: roomID,
		Sender:     wire.Sender{ID: s.self.ID, Name: s.self.Name},
		Content:    final.Content,
		Status:     final.Status.String(),
		CreatedAt:  final.CreatedAt,
	})
	return nil
}

// NotifyTyping is called on every local keystroke. The first call in a
// burst publishes TYPING; STOP_TYPING follows after the idle window with no
// further keystrokes.
func (s *Session) NotifyTyping() {
	s.mu.Lock()
	roomID := s.activeRoom
	if roomID == "" {
		s.mu.Unlock()
		return
	}
	first := !s.typingSent
	s.typingSent = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingIdle, func() {
		s.stopTypingNow(roomID)
	})
	s.mu.Unlock()

	if first {
		s.publish(typingDest(roomID), wire.TypeTyping, wire.TypingEvent{
			ChatRoomID: roomID,
			UserID:     s.self.ID,
			UserName:   s.self.Name,
		})
	}
}

func (s *Session) stopTypingNow(roomID string) {
	s.mu.Lock()
	wasTyping := s.typingSent
	s.typingSent = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	if wasTyping {
		s.publish(typingDest(roomID), wire.TypeStopTyping, wire.StopTypingEvent{
			ChatRoomID: roomID,
			UserID:     s.self.ID,
			UserName:   s.self.Name,
		})
	}
}

func (s *Session) publish(dest, frameType string, body any) {
	if s.tr.State() != transport.StateConnected {
		s.logger.Printf("transport down, skipping %s publish to %s", frameType, dest)
		return
	}
	if err := s.tr.Publish(dest, frameType, body); err != nil {
		s.logger.Printf("publish %s to %s failed: %v", frameType, dest, err)
	}
}

// MarkRead marks a message read and resynchronizes unread counts.
func (s *Session) MarkRead(ctx context.Context, messageID, roomID string) error {
	return s.rooms.MarkRead(ctx, messageID, roomID)
}

func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// Messages is the render snapshot for the active room, in arrival order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	roomID := s.activeRoom
	s.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return s.store.Messages(roomID)
}

// TypingUsers lists who is currently composing in the active room.
func (s *Session) TypingUsers() []User {
	s.mu.Lock()
	roomID := s.activeRoom
	s.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return s.typing.Active(roomID, time.Now())
}

// Store exposes the message store for rendering code that tracks multiple
// rooms.
func (s *Session) Store() *MessageStore { return s.store }

// Rooms exposes the room list aggregator.
func (s *Session) Rooms() *RoomList { return s.rooms }
