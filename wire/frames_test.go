package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Message(t *testing.T) {
	body := []byte(`{
		"messageId": "m1",
		"chatRoomId": "r1",
		"sender": {"id": "7", "name": "Asha"},
		"content": "is it still available?",
		"status": "SENT",
		"createdAt": "2026-08-01T10:30:00Z"
	}`)

	ev, err := Decode(TypeMessage, body)
	require.NoError(t, err)

	msg, ok := ev.(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "r1", msg.RoomID())
	assert.Equal(t, "Asha", msg.Sender.Name)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), msg.CreatedAt)
}

func TestDecode_RoomIDFallback(t *testing.T) {
	// some backends emit roomId rather than chatRoomId
	ev, err := Decode(TypeTyping, []byte(`{"roomId":"r9","userId":"7","userName":"Asha"}`))
	require.NoError(t, err)
	assert.Equal(t, "r9", ev.RoomID())
}

func TestDecode_StatusUpdate(t *testing.T) {
	ev, err := Decode(TypeStatusUpdate, []byte(`{"chatRoomId":"r1","messageId":"m1","status":"READ"}`))
	require.NoError(t, err)

	upd, ok := ev.(StatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "READ", upd.Status)
}

func TestDecode_StopTyping(t *testing.T) {
	ev, err := Decode(TypeStopTyping, []byte(`{"chatRoomId":"r1","userId":"7"}`))
	require.NoError(t, err)

	stop, ok := ev.(StopTypingEvent)
	require.True(t, ok)
	assert.Equal(t, "7", stop.UserID)
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	ev, err := Decode("PRESENCE_PING", []byte(`{"roomId":"r1","whatever":1}`))
	require.NoError(t, err)

	unknown, ok := ev.(UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "PRESENCE_PING", unknown.Type)
	assert.Equal(t, "r1", unknown.RoomID())
}

func TestDecode_MalformedBodies(t *testing.T) {
	tests := []struct {
		name      string
		frameType string
		body      string
	}{
		{"truncated message", TypeMessage, `{"sender":`},
		{"wrong shape typing", TypeTyping, `[1,2,3]`},
		{"empty status update", TypeStatusUpdate, ``},
		{"garbage stop typing", TypeStopTyping, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frameType, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}
