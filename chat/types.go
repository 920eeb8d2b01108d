package chat

import (
	"time"
)

// Status is a message delivery status. Statuses only ever move forward,
// SENT -> DELIVERED -> READ; merging is a max operation (see Message Store).
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "SENT"
	case StatusDelivered:
		return "DELIVERED"
	case StatusRead:
		return "READ"
	}
	return "UNKNOWN"
}

// ParseStatus maps a wire status string to a Status. The second return is
// false for anything the client does not recognize.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "SENT":
		return StatusSent, true
	case "DELIVERED":
		return StatusDelivered, true
	case "READ":
		return StatusRead, true
	}
	return StatusSent, false
}

type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Direction Direction `json:"-"`
	Status    Status    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is the counterpart's reachable info, straight from the room record.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	WhatsApp  string `json:"whatsapp"`
	AvatarURL string `json:"avatar_url"`
}

// Room is one conversation about one property. Rooms are never deleted
// client-side, only refreshed.
type Room struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	PropertyID  string   `json:"property_id"`
	Counterpart Contact  `json:"counterpart"`
	Unread      int      `json:"unread"`
	LastMessage *Message `json:"last_message,omitempty"`
}
