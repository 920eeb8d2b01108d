package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homechat/rest"
)

func TestRoomList_FetchSnapshot(t *testing.T) {
	api := newFakeAPI()
	api.rooms = []rest.Room{
		{ID: "r1", Title: "2BHK in Indiranagar", UnreadCount: 3},
		{ID: "r2", Counterpart: rest.Contact{Name: "Asha"}, UnreadCount: -1},
	}
	list := NewRoomList(api, RoleBuyer, "", "me", testLogger())

	rooms, err := list.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, 3, rooms[0].Unread)
	assert.Equal(t, "Asha", rooms[1].Title, "title falls back to the counterpart name")
	assert.Equal(t, 0, rooms[1].Unread, "unread counts are never negative")
}

func TestRoomList_CreateRoomIfAbsentReusesLocalRoom(t *testing.T) {
	api := newFakeAPI()
	api.rooms = []rest.Room{{ID: "r1", PropertyID: "42"}}
	list := NewRoomList(api, RoleBuyer, "", "me", testLogger())

	ctx := context.Background()
	_, err := list.Fetch(ctx)
	require.NoError(t, err)

	room, err := list.CreateRoomIfAbsent(ctx, "42", "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "r1", room.ID)
	assert.Empty(t, api.creates, "an existing conversation must not be recreated")

	other, err := list.CreateRoomIfAbsent(ctx, "99", "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "R1", other.ID)
	assert.Equal(t, []string{"99"}, api.creates)
}

func TestRoomList_MarkReadZeroesAndRefetches(t *testing.T) {
	api := newFakeAPI()
	api.rooms = []rest.Room{{ID: "r1", UnreadCount: 5}}
	list := NewRoomList(api, RoleBuyer, "", "me", testLogger())

	ctx := context.Background()
	_, err := list.Fetch(ctx)
	require.NoError(t, err)
	fetchesBefore := api.fetchCalls

	// make the resync fail so the local zeroing is observable
	api.mu.Lock()
	api.fetchErr = errors.New("backend flaked")
	api.mu.Unlock()

	require.NoError(t, list.MarkRead(ctx, "m9", "r1"))

	assert.Equal(t, []string{"m9:READ"}, api.statusCalls)
	assert.Equal(t, fetchesBefore+1, api.fetchCalls, "a read must trigger a list resync")

	room, ok := list.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 0, room.Unread)
}

func TestRoomList_MarkReadPropagatesStatusError(t *testing.T) {
	api := newFakeAPI()
	boom := errors.New("patch failed")
	failing := &failingStatusAPI{fakeAPI: api, err: boom}
	list := NewRoomList(failing, RoleBuyer, "", "me", testLogger())

	err := list.MarkRead(context.Background(), "m1", "r1")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, api.fetchCalls, "no resync after a failed status write")
}

type failingStatusAPI struct {
	*fakeAPI
	err error
}

func (f *failingStatusAPI) UpdateStatus(ctx context.Context, messageID, status string) error {
	return f.err
}
