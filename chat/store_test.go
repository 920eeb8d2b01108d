package chat

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestMessageStore_HistoryOrderPreserved(t *testing.T) {
	store := NewMessageStore(testLogger())

	// deliberately not in timestamp order: the store must reproduce the
	// server order exactly, never re-sort
	now := time.Now()
	msgs := []Message{
		{ID: "m3", Content: "third", CreatedAt: now.Add(2 * time.Second)},
		{ID: "m1", Content: "first", CreatedAt: now},
		{ID: "m2", Content: "second", CreatedAt: now.Add(time.Second)},
	}
	store.ReplaceHistory("r1", msgs)

	got := store.Messages("r1")
	require.Len(t, got, 3)
	assert.Equal(t, "m3", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
	assert.Equal(t, "m2", got[2].ID)
}

func TestMessageStore_ReplaceHistoryDropsOldMessages(t *testing.T) {
	store := NewMessageStore(testLogger())

	store.Upsert("r1", Message{ID: "old"})
	store.ReplaceHistory("r1", []Message{{ID: "new"}})

	got := store.Messages("r1")
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestMessageStore_DuplicateAppendIsUpsert(t *testing.T) {
	store := NewMessageStore(testLogger())

	// same logical message delivered twice, REST echo then realtime echo
	store.Upsert("r1", Message{ID: "m1", Content: "hello", Status: StatusSent})
	store.Upsert("r1", Message{ID: "m1", Content: "hello", Status: StatusDelivered})

	got := store.Messages("r1")
	require.Len(t, got, 1)
	assert.Equal(t, StatusDelivered, got[0].Status)
}

func TestMessageStore_StatusIsMonotonic(t *testing.T) {
	store := NewMessageStore(testLogger())
	store.Upsert("r1", Message{ID: "m1", Status: StatusSent})

	assert.True(t, store.ApplyStatus("r1", "m1", StatusRead))
	// regression attempt: READ then SENT must stay READ
	assert.False(t, store.ApplyStatus("r1", "m1", StatusSent))
	assert.False(t, store.ApplyStatus("r1", "m1", StatusDelivered))

	got := store.Messages("r1")
	require.Len(t, got, 1)
	assert.Equal(t, StatusRead, got[0].Status)
}

func TestMessageStore_StatusForUnknownMessageDropped(t *testing.T) {
	store := NewMessageStore(testLogger())
	store.Upsert("r1", Message{ID: "m1", Status: StatusSent})

	assert.False(t, store.ApplyStatus("r1", "nope", StatusRead))
	assert.False(t, store.ApplyStatus("r2", "m1", StatusRead))

	got := store.Messages("r1")
	require.Len(t, got, 1)
	assert.Equal(t, StatusSent, got[0].Status, "existing message must be untouched")
}

func TestMessageStore_ConfirmKeepsArrivalPosition(t *testing.T) {
	store := NewMessageStore(testLogger())

	store.Upsert("r1", Message{ID: "m1"})
	store.Upsert("r1", Message{ID: "client-tmp", Content: "hi", Status: StatusSent})
	store.Upsert("r1", Message{ID: "m2"})

	final := store.Confirm("r1", "client-tmp", Message{ID: "srv-9", Content: "hi", Status: StatusSent})
	assert.Equal(t, "srv-9", final.ID)

	got := store.Messages("r1")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "srv-9", "m2"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestMessageStore_ConfirmKeepsAdvancedStatus(t *testing.T) {
	store := NewMessageStore(testLogger())

	store.Upsert("r1", Message{ID: "client-tmp", Status: StatusSent})
	// a status update can land on the optimistic entry before the REST
	// response comes back
	store.ApplyStatus("r1", "client-tmp", StatusRead)

	final := store.Confirm("r1", "client-tmp", Message{ID: "srv-1", Status: StatusSent})
	assert.Equal(t, StatusRead, final.Status)
}

func TestMessageStore_ConfirmWithoutOptimisticEntry(t *testing.T) {
	store := NewMessageStore(testLogger())

	final := store.Confirm("r1", "gone", Message{ID: "srv-1", Content: "hi"})
	assert.Equal(t, "srv-1", final.ID)
	assert.Equal(t, 1, store.Len("r1"))
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
		ok   bool
	}{
		{"SENT", StatusSent, true},
		{"DELIVERED", StatusDelivered, true},
		{"READ", StatusRead, true},
		{"read", StatusSent, false},
		{"", StatusSent, false},
		{"ARCHIVED", StatusSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseStatus(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
