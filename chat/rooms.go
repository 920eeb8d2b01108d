package chat

import (
	"context"
	"fmt"
	"log"
	"sync"

	"homechat/rest"
)

// Role selects which room-list endpoint a user sees. Authorization itself
// is the server's concern; the client only picks the endpoint.
type Role int

const (
	RoleBuyer Role = iota
	RoleOwner
	RoleAdmin
)

// RoomAPI is the slice of the REST client the aggregator needs.
type RoomAPI interface {
	MyRooms(ctx context.Context) ([]rest.Room, error)
	PropertyRooms(ctx context.Context, propertyID string) ([]rest.Room, error)
	AllRooms(ctx context.Context) ([]rest.Room, error)
	CreateRoom(ctx context.Context, propertyID, title, initialMessage string) (rest.Room, error)
	UpdateStatus(ctx context.Context, messageID, status string) error
}

// RoomList maintains the conversations visible to the current user and
// their unread counts. Counts are authoritative on the server; MarkRead
// zeroes locally and then refetches the whole list rather than decrementing.
type RoomList struct {
	api        RoomAPI
	role       Role
	propertyID string // scopes the owner view
	selfID     string
	logger     *log.Logger

	mu    sync.Mutex
	order []string
	byID  map[string]*Room
}

func NewRoomList(api RoomAPI, role Role, propertyID, selfID string, logger *log.Logger) *RoomList {
	return &RoomList{
		api:        api,
		role:       role,
		propertyID: propertyID,
		selfID:     selfID,
		logger:     logger,
		byID:       make(map[string]*Room),
	}
}

// Fetch refreshes the room list from the role-appropriate endpoint and
// returns the new snapshot.
func (l *RoomList) Fetch(ctx context.Context) ([]Room, error) {
	var (
		recs []rest.Room
		err  error
	)
	switch l.role {
	case RoleOwner:
		recs, err = l.api.PropertyRooms(ctx, l.propertyID)
	case RoleAdmin:
		recs, err = l.api.AllRooms(ctx)
	default:
		recs, err = l.api.MyRooms(ctx)
	}
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.order = l.order[:0]
	l.byID = make(map[string]*Room, len(recs))
	for _, rec := range recs {
		room := roomFromRecord(rec, l.selfID)
		if _, ok := l.byID[room.ID]; ok {
			continue
		}
		l.order = append(l.order, room.ID)
		l.byID[room.ID] = &room
	}
	l.mu.Unlock()

	return l.Rooms(), nil
}

// CreateRoomIfAbsent returns the existing conversation about a property, or
// asks the server to open one with a default opening message. The server
// reuses an existing room for the same user+property; the local check just
// avoids the round trip.
func (l *RoomList) CreateRoomIfAbsent(ctx context.Context, propertyID, title, opening string) (Room, error) {
	l.mu.Lock()
	for _, id := range l.order {
		if l.byID[id].PropertyID == propertyID {
			room := *l.byID[id]
			l.mu.Unlock()
			return room, nil
		}
	}
	l.mu.Unlock()

	rec, err := l.api.CreateRoom(ctx, propertyID, title, opening)
	if err != nil {
		return Room{}, fmt.Errorf("failed to open conversation for property %s: %w", propertyID, err)
	}
	room := roomFromRecord(rec, l.selfID)

	l.mu.Lock()
	if _, ok := l.byID[room.ID]; !ok {
		l.order = append(l.order, room.ID)
		l.byID[room.ID] = &room
	}
	stored := *l.byID[room.ID]
	l.mu.Unlock()

	return stored, nil
}

// MarkRead flips a message to READ server-side, zeroes the room's local
// unread counter, then refetches the list so every count resynchronizes.
func (l *RoomList) MarkRead(ctx context.Context, messageID, roomID string) error {
	if err := l.api.UpdateStatus(ctx, messageID, StatusRead.String()); err != nil {
		return err
	}

	l.mu.Lock()
	if room, ok := l.byID[roomID]; ok {
		room.Unread = 0
	}
	l.mu.Unlock()

	if _, err := l.Fetch(ctx); err != nil {
		l.logger.Printf("room list refresh after read failed: %v", err)
	}
	return nil
}

// Rooms returns the current snapshot in fetch order.
func (l *RoomList) Rooms() []Room {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Room, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.byID[id])
	}
	return out
}

func (l *RoomList) Get(roomID string) (Room, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	room, ok := l.byID[roomID]
	if !ok {
		return Room{}, false
	}
	return *room, true
}
