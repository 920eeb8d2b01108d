// Package wire defines the JSON frame types exchanged with the chat broker.
// Every frame carries a "type" discriminator; bodies are decoded into one
// concrete event struct at this boundary so the rest of the client never
// touches raw JSON.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeMessage      = "MESSAGE"
	TypeTyping       = "TYPING"
	TypeStopTyping   = "STOP_TYPING"
	TypeStatusUpdate = "STATUS_UPDATE"
)

// Control frame types understood by the broker itself.
const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeUnsubscribe = "UNSUBSCRIBE"
)

type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Envelope is the outer shape of every frame on the socket. Data frames
// arrive with the destination topic they were published to; control frames
// set Destination to the topic being acted on.
type Envelope struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Event is one decoded broker event. Exactly one of the concrete types
// below is returned by Decode.
type Event interface {
	RoomID() string
}

type MessageEvent struct {
	ID         string    `json:"messageId"`
	ChatRoomID string    `json:"chatRoomId"`
	Sender     Sender    `json:"sender"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (e MessageEvent) RoomID() string { return e.ChatRoomID }

type TypingEvent struct {
	ChatRoomID string `json:"chatRoomId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
}

func (e TypingEvent) RoomID() string { return e.ChatRoomID }

type StopTypingEvent struct {
	ChatRoomID string `json:"chatRoomId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
}

func (e StopTypingEvent) RoomID() string { return e.ChatRoomID }

type StatusUpdateEvent struct {
	ChatRoomID string `json:"chatRoomId"`
	MessageID  string `json:"messageId"`
	Status     string `json:"status"`
}

func (e StatusUpdateEvent) RoomID() string { return e.ChatRoomID }

// UnknownEvent carries a frame type this client does not understand.
// Callers are expected to ignore it; new server-side frame types must not
// break older clients.
type UnknownEvent struct {
	Type string
	Room string
}

func (e UnknownEvent) RoomID() string { return e.Room }

// Decode parses one data frame body. A frame whose type is not recognized
// decodes to UnknownEvent with a nil error; a frame that cannot be parsed
// at all returns an error and must be dropped by the caller.
func Decode(frameType string, body []byte) (Event, error) {
	switch frameType {
	case TypeMessage:
		var ev MessageEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("malformed MESSAGE frame: %w", err)
		}
		// some backends emit roomId instead of chatRoomId
		if ev.ChatRoomID == "" {
			ev.ChatRoomID = altRoomID(body)
		}
		return ev, nil
	case TypeTyping:
		var ev TypingEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("malformed TYPING frame: %w", err)
		}
		if ev.ChatRoomID == "" {
			ev.ChatRoomID = altRoomID(body)
		}
		return ev, nil
	case TypeStopTyping:
		var ev StopTypingEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("malformed STOP_TYPING frame: %w", err)
		}
		if ev.ChatRoomID == "" {
			ev.ChatRoomID = altRoomID(body)
		}
		return ev, nil
	case TypeStatusUpdate:
		var ev StatusUpdateEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("malformed STATUS_UPDATE frame: %w", err)
		}
		if ev.ChatRoomID == "" {
			ev.ChatRoomID = altRoomID(body)
		}
		return ev, nil
	default:
		return UnknownEvent{Type: frameType, Room: altRoomID(body)}, nil
	}
}

func altRoomID(body []byte) string {
	var alt struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(body, &alt); err != nil {
		return ""
	}
	return alt.RoomID
}
