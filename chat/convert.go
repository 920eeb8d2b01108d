package chat

import (
	"homechat/rest"
)

// messageFromRecord interprets a REST message record for the given local
// user. The server's "mine" flag is only trusted when the record carries no
// sender id; with a sender id present the direction is derived from it, so
// a stale token cannot mislabel history.
func messageFromRecord(rec rest.MessageRecord, selfID string) Message {
	dir := Incoming
	if rec.SenderID != "" {
		if rec.SenderID == selfID {
			dir = Outgoing
		}
	} else if rec.Mine {
		dir = Outgoing
	}

	status, ok := ParseStatus(rec.Status)
	if !ok {
		status = StatusSent
	}

	return Message{
		ID:        rec.ID,
		RoomID:    rec.ChatRoomID,
		Sender:    User{ID: rec.SenderID, Name: rec.SenderName},
		Content:   rec.Content,
		Direction: dir,
		Status:    status,
		CreatedAt: rec.CreatedAt,
	}
}

func roomFromRecord(rec rest.Room, selfID string) Room {
	room := Room{
		ID:         rec.ID,
		Title:      rec.Title,
		PropertyID: rec.PropertyID,
		Counterpart: Contact{
			ID:        rec.Counterpart.ID,
			Name:      rec.Counterpart.Name,
			Phone:     rec.Counterpart.Phone,
			WhatsApp:  rec.Counterpart.WhatsApp,
			AvatarURL: rec.Counterpart.AvatarURL,
		},
		Unread: rec.UnreadCount,
	}
	if room.Unread < 0 {
		room.Unread = 0
	}
	if room.Title == "" {
		room.Title = rec.Counterpart.Name
	}
	if rec.LastMessage != nil {
		last := messageFromRecord(*rec.LastMessage, selfID)
		room.LastMessage = &last
	}
	return room
}
