package chattest_test

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homechat/chat"
	"homechat/chattest"
	"homechat/rest"
	"homechat/transport"
	"homechat/wire"
)

type participant struct {
	user    chat.User
	conn    *transport.Conn
	session *chat.Session
}

// startParticipant wires a full client stack (REST, websocket, session)
// against the stub backend, the same way main does.
func startParticipant(t *testing.T, baseURL, brokerURL string, user chat.User, role chat.Role, propertyID string) *participant {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	token := chattest.MintToken(user.ID, user.Name)

	api := rest.NewClient(baseURL, token, 2*time.Second, logger)
	rooms := chat.NewRoomList(api, role, propertyID, user.ID, logger)

	conn := transport.NewConn(transport.Config{
		BrokerURL:      brokerURL,
		Token:          token,
		ReconnectDelay: 50 * time.Millisecond,
	}, logger)

	session := chat.NewSession(user, conn, api, rooms, nil, chat.SessionConfig{
		TypingIdle:   100 * time.Millisecond,
		TypingExpiry: time.Second,
	}, logger)
	conn.OnFrame(session.HandleFrame)
	conn.OnStateChange(session.HandleConnState)

	conn.Connect()
	t.Cleanup(conn.Disconnect)
	require.Eventually(t, func() bool {
		return conn.State() == transport.StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	return &participant{user: user, conn: conn, session: session}
}

func startBackend(t *testing.T) (baseURL, brokerURL string) {
	t.Helper()
	backend := chattest.NewServer(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		srv.Close()
		backend.Close()
	})
	return srv.URL, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
}

func TestEndToEnd_MessageFlow(t *testing.T) {
	baseURL, brokerURL := startBackend(t)
	ctx := context.Background()

	buyer := startParticipant(t, baseURL, brokerURL,
		chat.User{ID: "buyer-1", Name: "Asha"}, chat.RoleBuyer, "")
	owner := startParticipant(t, baseURL, brokerURL,
		chat.User{ID: "owner-1", Name: "Ravi"}, chat.RoleOwner, "prop-1")

	room, err := buyer.session.Rooms().CreateRoomIfAbsent(ctx, "prop-1", "2BHK near station", "Hi, is this available?")
	require.NoError(t, err)

	require.NoError(t, buyer.session.SetActiveRoom(ctx, room.ID))
	require.NoError(t, owner.session.SetActiveRoom(ctx, room.ID))

	// The owner sees the opening message from history.
	require.Eventually(t, func() bool {
		return len(owner.session.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, buyer.session.Send(ctx, "When can I visit?"))

	// Fan-out reaches the owner over the live subscription.
	require.Eventually(t, func() bool {
		return len(owner.session.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs := owner.session.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "When can I visit?", last.Content)
	assert.Equal(t, chat.Incoming, last.Direction)
	assert.Equal(t, buyer.user.ID, last.Sender.ID)

	// The buyer's own copy stays a single entry after the echo comes back.
	require.Eventually(t, func() bool {
		return len(buyer.session.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	buyerMsgs := buyer.session.Messages()
	assert.Equal(t, chat.Outgoing, buyerMsgs[len(buyerMsgs)-1].Direction)
	assert.Equal(t, last.ID, buyerMsgs[len(buyerMsgs)-1].ID, "both sides should hold the server id")
}

func TestEndToEnd_TypingIndicator(t *testing.T) {
	baseURL, brokerURL := startBackend(t)
	ctx := context.Background()

	buyer := startParticipant(t, baseURL, brokerURL,
		chat.User{ID: "buyer-1", Name: "Asha"}, chat.RoleBuyer, "")
	owner := startParticipant(t, baseURL, brokerURL,
		chat.User{ID: "owner-1", Name: "Ravi"}, chat.RoleOwner, "prop-1")

	room, err := buyer.session.Rooms().CreateRoomIfAbsent(ctx, "prop-1", "2BHK", "hello")
	require.NoError(t, err)
	require.NoError(t, buyer.session.SetActiveRoom(ctx, room.ID))
	require.NoError(t, owner.session.SetActiveRoom(ctx, room.ID))

	buyer.session.NotifyTyping()

	require.Eventually(t, func() bool {
		active := owner.session.TypingUsers()
		return len(active) == 1 && active[0].ID == buyer.user.ID
	}, 2*time.Second, 10*time.Millisecond)

	// The sender never shows up in their own typing list.
	assert.Empty(t, buyer.session.TypingUsers())

	// After the idle window the stop frame clears the indicator.
	require.Eventually(t, func() bool {
		return len(owner.session.TypingUsers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndToEnd_ReadReceipt(t *testing.T) {
	baseURL, brokerURL := startBackend(t)
	ctx := context.Background()

	buyer := startParticipant(t, baseURL, brokerURL,
		chat.User{ID: "buyer-1", Name: "Asha"}, chat.RoleBuyer, "")
	owner := startParticipant(t, baseURL, brokerURL,
		chat.User{ID: "owner-1", Name: "Ravi"}, chat.RoleOwner, "prop-1")

	room, err := buyer.session.Rooms().CreateRoomIfAbsent(ctx, "prop-1", "2BHK", "hello owner")
	require.NoError(t, err)
	require.NoError(t, buyer.session.SetActiveRoom(ctx, room.ID))
	require.NoError(t, owner.session.SetActiveRoom(ctx, room.ID))

	require.Eventually(t, func() bool {
		return len(owner.session.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	msgID := owner.session.Messages()[0].ID

	// Owner side shows the opening message as unread.
	ownerRooms, err := owner.session.Rooms().Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, ownerRooms, 1)
	assert.Equal(t, 1, ownerRooms[0].Unread)

	require.NoError(t, owner.session.MarkRead(ctx, msgID, room.ID))

	got, ok := owner.session.Rooms().Get(room.ID)
	require.True(t, ok)
	assert.Zero(t, got.Unread)

	// The STATUS_UPDATE broadcast reaches the sender.
	require.Eventually(t, func() bool {
		msgs := buyer.session.Messages()
		return len(msgs) == 1 && msgs[0].Status == chat.StatusRead
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StatusBroadcastNeverRegresses(t *testing.T) {
	baseURL, brokerURL := startBackend(t)
	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)

	token := chattest.MintToken("buyer-1", "Asha")
	api := rest.NewClient(baseURL, token, 2*time.Second, logger)
	room, err := api.CreateRoom(ctx, "prop-1", "2BHK", "hello owner")
	require.NoError(t, err)
	require.NotNil(t, room.LastMessage)
	msgID := room.LastMessage.ID

	frames := make(chan wire.Envelope, 8)
	conn := transport.NewConn(transport.Config{BrokerURL: brokerURL, Token: token}, logger)
	conn.OnFrame(func(env wire.Envelope) { frames <- env })
	conn.Connect()
	t.Cleanup(conn.Disconnect)
	require.Eventually(t, func() bool {
		return conn.State() == transport.StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Subscribe("/topic/chat/"+room.ID))

	require.NoError(t, api.UpdateStatus(ctx, msgID, "READ"))
	// a late DELIVERED must not be stored, and the broadcast has to carry
	// the stored status, not the rejected one
	require.NoError(t, api.UpdateStatus(ctx, msgID, "DELIVERED"))

	for i := 0; i < 2; i++ {
		select {
		case env := <-frames:
			ev, err := wire.Decode(env.Type, env.Body)
			require.NoError(t, err)
			upd, ok := ev.(wire.StatusUpdateEvent)
			require.True(t, ok)
			assert.Equal(t, msgID, upd.MessageID)
			assert.Equal(t, "READ", upd.Status)
		case <-time.After(3 * time.Second):
			t.Fatalf("status broadcast %d never arrived", i+1)
		}
	}
}

func TestServer_RejectsAnonymousCalls(t *testing.T) {
	baseURL, brokerURL := startBackend(t)

	resp, err := http.Get(baseURL + "/api/chat/rooms")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The websocket endpoint refuses an unauthenticated upgrade too.
	wsResp, err := http.Get(strings.Replace(brokerURL, "ws", "http", 1))
	require.NoError(t, err)
	wsResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wsResp.StatusCode)
}
